package hitron_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/modemstat/internal/driver"
	"codeberg.org/mutker/modemstat/internal/driver/hitron"
	"codeberg.org/mutker/modemstat/internal/logger"
	"codeberg.org/mutker/modemstat/internal/normalize"
	"codeberg.org/mutker/modemstat/internal/telemetry"
	"codeberg.org/mutker/modemstat/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestData(t *testing.T, filename string) []byte {
	data, err := os.ReadFile(filepath.Join("testdata", filename))
	require.NoError(t, err, "failed to load test data: %s", filename)
	return data
}

// fixtures maps device paths onto testdata files.
type fixtures map[string]string

func standard() fixtures {
	return fixtures{
		"/data/system_model.asp": "system_model.json",
		"/data/getSysInfo.asp":   "getSysInfo.json",
		"/data/dsinfo.asp":       "dsinfo.json",
		"/data/usinfo.asp":       "usinfo.json",
	}
}

func ofdm() fixtures {
	return fixtures{
		"/data/dsofdminfo.asp": "dsofdminfo.json",
		"/data/usofdminfo.asp": "usofdminfo.json",
	}
}

func serve(t *testing.T, f fixtures) *transport.Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, ok := f[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(loadTestData(t, name))
	}))
	t.Cleanup(srv.Close)

	c, err := transport.New(transport.Config{
		Address: strings.TrimPrefix(srv.URL, "http://"),
		Timeout: time.Second,
	}, logger.Default())
	require.NoError(t, err)

	return c
}

func parse(t *testing.T, f fixtures) (*telemetry.Partial, error) {
	t.Helper()

	d := hitron.New()
	p, err := driver.Fetch(context.Background(), serve(t, f), d)
	require.NoError(t, err)

	return d.Parse(p)
}

func TestIdentify(t *testing.T) {
	d := hitron.New()

	model, err := d.Identify(loadTestData(t, "system_model.json"))
	require.NoError(t, err)
	assert.Equal(t, "CODA-4582U", model)
	assert.Contains(t, d.Models(), model)

	_, err = d.Identify([]byte(`<html></html>`))
	assert.Error(t, err)

	_, err = d.Identify([]byte(`{"skipWizard":"1"}`))
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	partial, err := parse(t, standard())
	require.NoError(t, err)

	assert.Equal(t, "hitron", partial.Vendor)
	assert.Equal(t, "CODA-4582U", partial.Model)
	assert.Equal(t, 3*24*time.Hour+10*time.Hour+32*time.Minute+33*time.Second, partial.Uptime)

	require.Len(t, partial.Downstream, 4)
	assert.Equal(t, telemetry.DownstreamChannel{
		ChannelID:           3,
		FrequencyHz:         591000000,
		Modulation:          "256QAM",
		PowerDBmV:           5.6,
		SNRDB:               40.366,
		CorrectableErrors:   12,
		UncorrectableErrors: 0,
	}, partial.Downstream[0])
	assert.Equal(t, "1024QAM", partial.Downstream[3].Modulation)
	assert.InDelta(t, -0.7, partial.Downstream[3].PowerDBmV, 1e-9)

	require.Len(t, partial.Upstream, 3)
	assert.Equal(t, telemetry.UpstreamChannel{
		ChannelID:   1,
		FrequencyHz: 36500000,
		Modulation:  "64QAM",
		PowerDBmV:   43.25,
		ChannelType: "ATDMA",
	}, partial.Upstream[0])
}

func TestParseAndNormalizeQuirks(t *testing.T) {
	tests := []struct {
		name       string
		override   fixtures
		downstream int
		upstream   int
	}{
		{name: "standard", downstream: 4, upstream: 3},
		{name: "whitespace and casing", override: fixtures{"/data/dsinfo.asp": "dsinfo_quirks.json"}, downstream: 2, upstream: 3},
		{name: "empty upstream", override: fixtures{"/data/usinfo.asp": "usinfo_empty.json"}, downstream: 4, upstream: 0},
		{name: "docsis 3.1", override: ofdm(), downstream: 5, upstream: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := standard()
			for path, file := range tt.override {
				f[path] = file
			}

			partial, err := parse(t, f)
			require.NoError(t, err)

			rec, err := normalize.Normalize(partial, time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC))
			require.NoError(t, err)
			assert.Len(t, rec.Downstream, tt.downstream)
			assert.Len(t, rec.Upstream, tt.upstream)
		})
	}
}

func TestParseOFDM(t *testing.T) {
	f := standard()
	for path, file := range ofdm() {
		f[path] = file
	}

	partial, err := parse(t, f)
	require.NoError(t, err)

	// The receiver without PLC lock and the disabled transmitter are left out.
	require.Len(t, partial.Downstream, 5)
	assert.Equal(t, telemetry.DownstreamChannel{
		ChannelID:           1000,
		FrequencyHz:         275600000,
		Modulation:          "OFDM",
		PowerDBmV:           2.099998,
		SNRDB:               41,
		CorrectableErrors:   1047,
		UncorrectableErrors: 3,
		LockStatus:          telemetry.LockLocked,
	}, partial.Downstream[4])

	require.Len(t, partial.Upstream, 4)
	assert.Equal(t, telemetry.UpstreamChannel{
		ChannelID:   1000,
		FrequencyHz: 45600000,
		Modulation:  "OFDMA",
		PowerDBmV:   38.75,
		ChannelType: "OFDMA",
		LockStatus:  telemetry.LockLocked,
	}, partial.Upstream[3])
}

func TestParseOFDMIncomplete(t *testing.T) {
	f := standard()
	f["/data/dsofdminfo.asp"] = "dsofdminfo_incomplete.json"

	_, err := parse(t, f)

	var mpe *driver.MalformedPayloadError
	require.ErrorAs(t, err, &mpe)
	assert.Equal(t, "downstream_ofdm", mpe.Section)
	assert.Equal(t, 0, mpe.Index)
	assert.Equal(t, "plcpower", mpe.Field)
	assert.Equal(t, "NA", mpe.Value)
}

func TestParseQuirkValues(t *testing.T) {
	f := standard()
	f["/data/dsinfo.asp"] = "dsinfo_quirks.json"

	partial, err := parse(t, f)
	require.NoError(t, err)

	ch := partial.Downstream[0]
	assert.Equal(t, 3, ch.ChannelID)
	assert.Equal(t, int64(591000000), ch.FrequencyHz)
	assert.InDelta(t, 5.1, ch.PowerDBmV, 1e-9)
	assert.InDelta(t, 40.366, ch.SNRDB, 1e-9)
	assert.Equal(t, int64(12), ch.CorrectableErrors)

	// Zero is a real reading, not a missing one.
	assert.Equal(t, int64(597000000), partial.Downstream[1].FrequencyHz)
	assert.Zero(t, partial.Downstream[1].SNRDB)
}

func TestParseMissingUpstreamSection(t *testing.T) {
	d := hitron.New()
	p, err := driver.NewPayload([]byte(`{
		"model": {"modelName": "CODA-4582"},
		"system": [{"systemUptime": "0h:05m:00s"}],
		"downstream": []
	}`))
	require.NoError(t, err)

	partial, err := d.Parse(p)
	require.NoError(t, err)
	assert.Empty(t, partial.Downstream)
	assert.Empty(t, partial.Upstream)
	assert.Equal(t, 5*time.Minute, partial.Uptime)
}

func TestParseIncompleteChannel(t *testing.T) {
	f := standard()
	f["/data/dsinfo.asp"] = "dsinfo_incomplete.json"

	_, err := parse(t, f)

	var mpe *driver.MalformedPayloadError
	require.ErrorAs(t, err, &mpe)
	assert.Equal(t, "downstream", mpe.Section)
	assert.Equal(t, 1, mpe.Index)
	assert.Equal(t, "frequency", mpe.Field)
}

func TestParseUnparsableNumber(t *testing.T) {
	f := standard()
	f["/data/dsinfo.asp"] = "dsinfo_garbage.json"

	_, err := parse(t, f)

	var mpe *driver.MalformedPayloadError
	require.ErrorAs(t, err, &mpe)
	assert.Equal(t, "signalStrength", mpe.Field)
	assert.Equal(t, "NA", mpe.Value)
}

func TestParseBadUptimeAndModulation(t *testing.T) {
	d := hitron.New()

	p, err := driver.NewPayload([]byte(`{
		"model": {"modelName": "CODA-4582"},
		"system": [{"systemUptime": "a while"}]
	}`))
	require.NoError(t, err)
	_, err = d.Parse(p)
	var mpe *driver.MalformedPayloadError
	require.ErrorAs(t, err, &mpe)
	assert.Equal(t, "systemUptime", mpe.Field)

	p, err = driver.NewPayload([]byte(`{
		"model": {"modelName": "CODA-4582"},
		"system": [{"systemUptime": "01 days 00h:00m:01s"}],
		"downstream": [{"channelId":"1","frequency":"591000000","modulation":"9","signalStrength":"1","snr":"40","correcteds":"0","uncorrect":"0"}]
	}`))
	require.NoError(t, err)
	_, err = d.Parse(p)
	require.ErrorAs(t, err, &mpe)
	assert.Equal(t, "modulation", mpe.Field)
	assert.Equal(t, "unknown modulation code", mpe.Reason)
}

func TestLogin(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/goform/login", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		got = map[string]string{"usr": r.PostForm.Get("usr"), "pwd": r.PostForm.Get("pwd")}
		w.Write([]byte("success"))
	}))
	defer srv.Close()

	c, err := transport.New(transport.Config{
		Address: strings.TrimPrefix(srv.URL, "http://"),
		Timeout: time.Second,
	}, logger.Default())
	require.NoError(t, err)

	var auth driver.Authenticator = hitron.New()
	require.NoError(t, auth.Login(context.Background(), c, driver.Credentials{Username: "cusadmin", Password: "password"}))
	assert.Equal(t, map[string]string{"usr": "cusadmin", "pwd": "password"}, got)
}
