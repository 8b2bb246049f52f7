package arris_test

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/modemstat/internal/driver"
	"codeberg.org/mutker/modemstat/internal/driver/arris"
	"codeberg.org/mutker/modemstat/internal/errors"
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

func client(t *testing.T, h http.Handler) *transport.Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := transport.New(transport.Config{
		Address: strings.TrimPrefix(srv.URL, "http://"),
		Timeout: time.Second,
	}, logger.Default())
	require.NoError(t, err)

	return c
}

func parse(t *testing.T, status string) (*telemetry.Partial, error) {
	t.Helper()

	files := map[string]string{
		"/cmswinfo.html":           "cmswinfo.html",
		"/cmconnectionstatus.html": status,
	}
	c := client(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, ok := files[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write(loadTestData(t, name))
	}))

	d := arris.New()
	p, err := driver.Fetch(context.Background(), c, d)
	require.NoError(t, err)

	return d.Parse(p)
}

func TestIdentify(t *testing.T) {
	d := arris.New()

	model, err := d.Identify(loadTestData(t, "cmswinfo.html"))
	require.NoError(t, err)
	assert.Equal(t, "SB8200", model)
	assert.Contains(t, d.Models(), model)

	_, err = d.Identify([]byte(`<html><body><span id="other">x</span></body></html>`))
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	partial, err := parse(t, "cmconnectionstatus.html")
	require.NoError(t, err)

	assert.Equal(t, "arris", partial.Vendor)
	assert.Equal(t, "SB8200", partial.Model)
	assert.Equal(t, 9*24*time.Hour+4*time.Hour+12*time.Minute+55*time.Second, partial.Uptime)

	// The unlocked all-zero receiver row is dropped.
	require.Len(t, partial.Downstream, 4)
	assert.Equal(t, telemetry.DownstreamChannel{
		ChannelID:           7,
		FrequencyHz:         447000000,
		Modulation:          "QAM256",
		PowerDBmV:           -2.0,
		SNRDB:               39.8,
		CorrectableErrors:   17,
		UncorrectableErrors: 3,
		LockStatus:          telemetry.LockLocked,
	}, partial.Downstream[2])
	assert.InDelta(t, 4.1, partial.Downstream[1].PowerDBmV, 1e-9)
	assert.Equal(t, "OFDM", partial.Downstream[3].Modulation)

	require.Len(t, partial.Upstream, 3)
	assert.Equal(t, telemetry.UpstreamChannel{
		ChannelID:   2,
		FrequencyHz: 36000000,
		PowerDBmV:   44.0,
		ChannelType: "SC-QAM",
		LockStatus:  telemetry.LockLocked,
	}, partial.Upstream[0])
	assert.Equal(t, "OFDM", partial.Upstream[2].ChannelType)
}

func TestParseAndNormalize(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		downstream int
		upstream   int
	}{
		{name: "standard", status: "cmconnectionstatus.html", downstream: 4, upstream: 3},
		{name: "no upstream table", status: "cmconnectionstatus_no_upstream.html", downstream: 1, upstream: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			partial, err := parse(t, tt.status)
			require.NoError(t, err)

			rec, err := normalize.Normalize(partial, time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC))
			require.NoError(t, err)
			assert.Len(t, rec.Downstream, tt.downstream)
			assert.Len(t, rec.Upstream, tt.upstream)
			assert.Equal(t, int64(435000000), rec.Downstream[0].FrequencyHz)
			assert.Equal(t, 5, rec.Downstream[0].ChannelID)
		})
	}
}

func TestParseIncompleteRow(t *testing.T) {
	_, err := parse(t, "cmconnectionstatus_incomplete.html")

	var mpe *driver.MalformedPayloadError
	require.ErrorAs(t, err, &mpe)
	assert.Equal(t, "downstream[1].Frequency", mpe.Location())
	assert.Equal(t, errors.ErrMalformedPayload, errors.CodeOf(err))
}

func TestParseBadUptime(t *testing.T) {
	p, err := driver.NewPayload([]byte(`{
		"info": {
			"tables": [{"title": "Status", "rows": [["Up Time", "forever"]]}],
			"spans": {"thisModelNumberIs": "SB6183"}
		}
	}`))
	require.NoError(t, err)

	_, err = arris.New().Parse(p)
	var mpe *driver.MalformedPayloadError
	require.ErrorAs(t, err, &mpe)
	assert.Equal(t, "Up Time", mpe.Field)
	assert.Equal(t, "forever", mpe.Value)
}

func TestLogin(t *testing.T) {
	enc := base64.StdEncoding.EncodeToString([]byte("admin:secret"))

	var queries []string
	c := client(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		if strings.HasPrefix(r.URL.RawQuery, "login_") {
			require.Equal(t, "login_"+enc, r.URL.RawQuery)
			require.Equal(t, "Basic "+enc, r.Header.Get("Authorization"))
			w.Write([]byte("  abc123\n"))
			return
		}
		w.Write([]byte("<html></html>"))
	}))

	var auth driver.Authenticator = arris.New()
	require.NoError(t, auth.Login(context.Background(), c, driver.Credentials{Username: "admin", Password: "secret"}))

	_, err := c.Get(context.Background(), "/cmconnectionstatus.html")
	require.NoError(t, err)
	assert.Equal(t, []string{"login_" + enc, "ct_abc123"}, queries)
}

func TestLoginWithoutToken(t *testing.T) {
	c := client(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html><body>Login failed</body></html>"))
	}))

	err := arris.New().Login(context.Background(), c, driver.Credentials{Username: "admin", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrFetch, errors.CodeOf(err))
}
