package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/modemstat/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "warning"
	DefaultPath     = "."
	DefaultTimeout  = 10 * time.Second
	DefaultRetries  = 2
	DefaultBackoff  = 500 * time.Millisecond
	DefaultPlotFile = "modemstat.pdf"

	maxRetries = 10
	envPrefix  = "MODEMSTAT"
	configName = "modemstat"
)

type Config struct {
	Path        string        `mapstructure:"path"`
	LogLevel    string        `mapstructure:"log_level"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Retries     int           `mapstructure:"retries"`
	Backoff     time.Duration `mapstructure:"backoff"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	InsecureTLS bool          `mapstructure:"insecure_tls"`

	// get outputs
	CSV    bool   `mapstructure:"csv"`
	JSON   bool   `mapstructure:"json"`
	SQLite bool   `mapstructure:"sqlite"`
	Prom   string `mapstructure:"prom"`

	// plot outputs
	Out     string   `mapstructure:"out"`
	XLSX    string   `mapstructure:"xlsx"`
	Metrics []string `mapstructure:"metric"`

	// Positional arguments: the command followed by its operands.
	Args []string `mapstructure:"-"`
}

// flag name -> config key
var flagKeys = map[string]string{
	"path":         "path",
	"log-level":    "log_level",
	"timeout":      "timeout",
	"retries":      "retries",
	"backoff":      "backoff",
	"username":     "username",
	"password":     "password",
	"insecure-tls": "insecure_tls",
	"csv":          "csv",
	"json":         "json",
	"sqlite":       "sqlite",
	"prom":         "prom",
	"out":          "out",
	"xlsx":         "xlsx",
	"metric":       "metric",
}

// NewFlagSet defines every command-line flag. Flags may appear anywhere on
// the command line; the first positional argument names the command.
func NewFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("modemstat", pflag.ContinueOnError)
	fs.StringP("path", "p", DefaultPath, "Directory for output files (must exist and be writable)")
	fs.String("config", "", "Path to a TOML configuration file")
	fs.String("log-level", DefaultLogLevel, "Log level: debug, info, warning, error")
	fs.Duration("timeout", DefaultTimeout, "Per-attempt HTTP timeout")
	fs.Int("retries", DefaultRetries, "Retries for transient network failures")
	fs.Duration("backoff", DefaultBackoff, "Delay between retries")
	fs.StringP("username", "u", "", "Modem login user")
	fs.String("password", "", "Modem login password")
	fs.Bool("insecure-tls", false, "Skip TLS verification for every modem family")
	fs.BoolP("csv", "c", false, "get: append the capture to <path>/<address>.csv")
	fs.BoolP("json", "j", false, "get: append the capture to <path>/<address>.jsonl")
	fs.Bool("sqlite", false, "get: store the capture in <path>/<address>.db")
	fs.String("prom", "", "get: write a Prometheus textfile for the capture")
	fs.StringP("out", "o", DefaultPlotFile, "plot: PDF file to render, relative to --path")
	fs.String("xlsx", "", "plot: also export the series to this XLSX file")
	fs.StringSlice("metric", nil, "plot: metric to chart (repeatable, default all)")

	return fs
}

// Load resolves configuration from defaults, the config file, MODEMSTAT_*
// environment variables and the given command-line arguments, in that order
// of increasing precedence.
func Load(args []string) (*Config, error) {
	errFactory := errors.New()

	fs := NewFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrUsage, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	if err := readConfigFile(v, fs); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	// StringSlice values arrive joined when they come from the environment.
	cfg.Metrics = v.GetStringSlice("metric")
	cfg.Args = fs.Args()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("path", DefaultPath)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("retries", DefaultRetries)
	v.SetDefault("backoff", DefaultBackoff)
	v.SetDefault("out", DefaultPlotFile)
}

func readConfigFile(v *viper.Viper, fs *pflag.FlagSet) error {
	errFactory := errors.New()

	explicit, _ := fs.GetString("config")
	if explicit == "" {
		explicit = os.Getenv(envPrefix + "_CONFIG")
	}

	if explicit != "" {
		v.SetConfigFile(explicit)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}

		return nil
	}

	v.SetConfigName(configName)
	v.SetConfigType("toml")
	v.AddConfigPath("/etc")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + "/.config/modemstat")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return nil
}

// Validate checks value ranges that viper cannot enforce.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Timeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidTimeout, c.Timeout)
	}
	if c.Retries < 0 || c.Retries > maxRetries {
		return errFactory.WithData(errors.ErrInvalidRetries, c.Retries)
	}
	if c.Backoff < 0 {
		return errFactory.WithData(errors.ErrInvalidBackoff, c.Backoff)
	}

	return nil
}

// CheckPath verifies that the output directory exists and accepts new
// files. It runs before any network call so a bad --path never costs a
// modem round trip.
func (c *Config) CheckPath() error {
	errFactory := errors.New()

	info, err := os.Stat(c.Path)
	if err != nil {
		return errFactory.Wrap(errors.ErrOutputPath, err)
	}
	if !info.IsDir() {
		return errFactory.WithData(errors.ErrOutputPath, c.Path)
	}

	f, err := os.CreateTemp(c.Path, ".modemstat-*")
	if err != nil {
		return errFactory.Wrap(errors.ErrOutputPath, err)
	}
	name := f.Name()
	f.Close()

	return os.Remove(name)
}
