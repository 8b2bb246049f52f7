package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/modemstat/internal/config"
	"codeberg.org/mutker/modemstat/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MODEMSTAT_CONFIG", "")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modemstat.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	isolate(t)

	configPath := writeConfig(t, `
path = "/var/lib/modemstat"
log_level = "debug"
timeout = "30s"
retries = 4
backoff = "2s"
username = "admin"
password = "secret"
csv = true
`)
	t.Setenv("MODEMSTAT_CONFIG", configPath)

	cfg, err := config.Load([]string{"get", "192.168.100.1"})
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/modemstat", cfg.Path)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 4, cfg.Retries)
	assert.Equal(t, 2*time.Second, cfg.Backoff)
	assert.Equal(t, "admin", cfg.Username)
	assert.Equal(t, "secret", cfg.Password)
	assert.True(t, cfg.CSV)
	assert.False(t, cfg.JSON)
	assert.Equal(t, "get", cfg.Command())
	assert.Equal(t, []string{"192.168.100.1"}, cfg.Operands())
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := config.Load(nil)
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, config.DefaultPath, cfg.Path)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, config.DefaultTimeout, cfg.Timeout)
	assert.Equal(t, config.DefaultRetries, cfg.Retries)
	assert.Equal(t, config.DefaultBackoff, cfg.Backoff)
	assert.Equal(t, config.DefaultPlotFile, cfg.Out)
	assert.Empty(t, cfg.Metrics)
	assert.Equal(t, "", cfg.Command())
}

func TestLoadPrecedence(t *testing.T) {
	isolate(t)

	configPath := writeConfig(t, `
retries = 4
timeout = "30s"
log_level = "info"
`)
	t.Setenv("MODEMSTAT_CONFIG", configPath)
	t.Setenv("MODEMSTAT_RETRIES", "6")
	t.Setenv("MODEMSTAT_LOG_LEVEL", "error")

	cfg, err := config.Load([]string{"--log-level", "debug", "get", "10.0.0.1"})
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Timeout, "file beats default")
	assert.Equal(t, 6, cfg.Retries, "env beats file")
	assert.Equal(t, "debug", cfg.LogLevel, "flag beats env")
}

func TestLoadExplicitConfigFlag(t *testing.T) {
	isolate(t)

	configPath := writeConfig(t, `retries = 7`)

	cfg, err := config.Load([]string{"--config", configPath})
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retries)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	isolate(t)

	configPath := writeConfig(t, `
This is not a valid TOML file
`)
	t.Setenv("MODEMSTAT_CONFIG", configPath)

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read config file")
	assert.Equal(t, errors.ErrReadConfig, errors.CodeOf(err))
}

func TestInvalidLogLevel(t *testing.T) {
	isolate(t)

	configPath := writeConfig(t, `
log_level = "invalid"
`)
	t.Setenv("MODEMSTAT_CONFIG", configPath)

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidLogLevel, errors.CodeOf(err))
}

func TestInvalidRanges(t *testing.T) {
	isolate(t)

	tests := []struct {
		name string
		args []string
		code errors.ErrorCode
	}{
		{name: "zero timeout", args: []string{"--timeout", "0s"}, code: errors.ErrInvalidTimeout},
		{name: "negative retries", args: []string{"--retries", "-1"}, code: errors.ErrInvalidRetries},
		{name: "too many retries", args: []string{"--retries", "11"}, code: errors.ErrInvalidRetries},
		{name: "negative backoff", args: []string{"--backoff", "-1s"}, code: errors.ErrInvalidBackoff},
		{name: "unknown flag", args: []string{"--bogus"}, code: errors.ErrUsage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(tt.args)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}
}

func TestPlotFlags(t *testing.T) {
	isolate(t)

	cfg, err := config.Load([]string{"plot", "--metric", "power", "--metric", "snr", "-o", "out.pdf", "history.csv"})
	require.NoError(t, err)

	assert.Equal(t, "plot", cfg.Command())
	assert.Equal(t, []string{"history.csv"}, cfg.Operands())
	assert.Equal(t, []string{"power", "snr"}, cfg.Metrics)
	assert.Equal(t, "out.pdf", cfg.Out)
}

func TestCheckPath(t *testing.T) {
	dir := t.TempDir()

	cfg := &config.Config{Path: dir}
	require.NoError(t, cfg.CheckPath())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "probe file must be removed")

	cfg.Path = filepath.Join(dir, "missing")
	err = cfg.CheckPath()
	require.Error(t, err)
	assert.Equal(t, errors.ErrOutputPath, errors.CodeOf(err))

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	cfg.Path = file
	err = cfg.CheckPath()
	require.Error(t, err)
	assert.Equal(t, errors.ErrOutputPath, errors.CodeOf(err))
}
