package collector

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
	"codeberg.org/mutker/modemstat/internal/errors"
	"codeberg.org/mutker/modemstat/internal/logger"
	"codeberg.org/mutker/modemstat/internal/normalize"
	"codeberg.org/mutker/modemstat/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var capturedAt = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

const (
	hitronTestdata = "../driver/hitron/testdata"
	arrisTestdata  = "../driver/arris/testdata"
)

func hitronFiles() map[string]string {
	return map[string]string{
		"/data/system_model.asp": "system_model.json",
		"/data/getSysInfo.asp":   "getSysInfo.json",
		"/data/dsinfo.asp":       "dsinfo.json",
		"/data/usinfo.asp":       "usinfo.json",
	}
}

// modem serves hitron fixtures. When protected, data pages answer 403
// until the login form has set the session cookie.
func modem(t *testing.T, files map[string]string, protected bool) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/goform/login" {
			require.NoError(t, r.ParseForm())
			if r.PostForm.Get("usr") == "cusadmin" && r.PostForm.Get("pwd") == "secret" {
				http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
				w.Write([]byte("success"))
				return
			}
			w.WriteHeader(http.StatusForbidden)
			return
		}

		if protected && r.URL.Path != "/data/system_model.asp" {
			if c, err := r.Cookie("session"); err != nil || c.Value != "ok" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
		}

		name, ok := files[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		data, err := os.ReadFile(filepath.Join(hitronTestdata, name))
		require.NoError(t, err)
		w.Write(data)
	}))
	t.Cleanup(srv.Close)

	return strings.TrimPrefix(srv.URL, "http://")
}

func newCollector(t *testing.T) *Collector {
	t.Helper()

	registry, err := DefaultRegistry(logger.Default())
	require.NoError(t, err)

	c := New(registry, logger.Default())
	c.now = func() time.Time { return capturedAt }

	return c
}

func options(address string) Options {
	return Options{
		Address: address,
		Timeout: 2 * time.Second,
		Retries: 0,
	}
}

type memorySink struct {
	records []telemetry.Record
	err     error
}

func (s *memorySink) Append(rec *telemetry.Record) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, *rec)
	return nil
}

func (*memorySink) Path() string { return "memory" }

func TestDefaultRegistry(t *testing.T) {
	registry, err := DefaultRegistry(logger.Default())
	require.NoError(t, err)

	for _, model := range []string{"CODA-4582", "SB8200", "F3896LG"} {
		_, ok := registry.Lookup(model)
		assert.True(t, ok, model)
	}
}

func TestRun(t *testing.T) {
	addr := modem(t, hitronFiles(), false)
	sink := &memorySink{}

	rec, err := newCollector(t).Run(context.Background(), options(addr), sink)
	require.NoError(t, err)

	assert.Equal(t, capturedAt, rec.Timestamp)
	assert.Equal(t, "hitron", rec.Vendor)
	assert.Equal(t, "CODA-4582U", rec.Model)
	assert.Len(t, rec.Downstream, 4)
	assert.Len(t, rec.Upstream, 3)
	require.Len(t, sink.records, 1)
	assert.Equal(t, *rec, sink.records[0])
}

func TestRunWithLogin(t *testing.T) {
	addr := modem(t, hitronFiles(), true)

	opts := options(addr)
	opts.Credentials = driver.Credentials{Username: "cusadmin", Password: "secret"}

	rec, err := newCollector(t).Collect(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, rec.Downstream, 4)

	opts.Credentials.Password = "wrong"
	_, err = newCollector(t).Collect(context.Background(), opts)
	require.Error(t, err)
	assert.Equal(t, errors.ErrFetch, errors.CodeOf(err))
}

// gatedArris serves arris pages only to a session holding the token handed
// out by the login request. Without one every page is the login form.
func gatedArris(t *testing.T) string {
	t.Helper()

	const token = "f00dcafe"
	files := map[string]string{
		"/cmswinfo.html":           "cmswinfo.html",
		"/cmconnectionstatus.html": "cmconnectionstatus.html",
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, ok := files[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		if strings.HasPrefix(r.URL.RawQuery, "login_") {
			if user, pass, ok := r.BasicAuth(); ok && user == "admin" && pass == "secret" {
				w.Write([]byte(token))
				return
			}
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		if !strings.Contains(r.URL.RawQuery, "ct_"+token) {
			w.Write([]byte("<html><body><form id=\"login\"></form></body></html>"))
			return
		}

		data, err := os.ReadFile(filepath.Join(arrisTestdata, name))
		require.NoError(t, err)
		w.Write(data)
	}))
	t.Cleanup(srv.Close)

	return strings.TrimPrefix(srv.URL, "http://")
}

func TestCollectIdentityBehindLogin(t *testing.T) {
	addr := gatedArris(t)

	_, err := newCollector(t).Collect(context.Background(), options(addr))
	var unsupported *driver.UnsupportedModelError
	require.ErrorAs(t, err, &unsupported)
	assert.Empty(t, unsupported.Identity)

	opts := options(addr)
	opts.Credentials = driver.Credentials{Username: "admin", Password: "secret"}

	rec, err := newCollector(t).Collect(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, "arris", rec.Vendor)
	assert.Equal(t, "SB8200", rec.Model)
	assert.Len(t, rec.Downstream, 4)
	assert.Len(t, rec.Upstream, 3)

	opts.Credentials.Password = "wrong"
	_, err = newCollector(t).Collect(context.Background(), opts)
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, errors.ErrUnsupportedModel, errors.CodeOf(err))
}

func TestRunUnsupportedModelPersistsNothing(t *testing.T) {
	files := hitronFiles()
	files["/data/system_model.asp"] = "system_model_unknown.json"
	addr := modem(t, files, false)
	sink := &memorySink{}

	rec, err := newCollector(t).Run(context.Background(), options(addr), sink)
	require.Error(t, err)
	assert.Nil(t, rec)

	var unsupported *driver.UnsupportedModelError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "CODA-5519", unsupported.Identity)
	assert.Equal(t, errors.ErrUnsupportedModel, errors.CodeOf(err))
	assert.Empty(t, sink.records)
}

func TestRunMalformedPersistsNothing(t *testing.T) {
	files := hitronFiles()
	files["/data/dsinfo.asp"] = "dsinfo_incomplete.json"
	addr := modem(t, files, false)
	sink := &memorySink{}

	_, err := newCollector(t).Run(context.Background(), options(addr), sink)
	require.Error(t, err)
	assert.Equal(t, errors.ErrMalformedPayload, errors.CodeOf(err))
	assert.Empty(t, sink.records)
}

func TestRunValidationPersistsNothing(t *testing.T) {
	dir := t.TempDir()
	bad := `[{"portId":"1","frequency":"591000000","modulation":"2","signalStrength":"5.6","snr":"999","channelId":"3","dsoctets":"0","correcteds":"0","uncorrect":"0"}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dsinfo.json"), []byte(bad), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/data/dsinfo.asp" {
			data, _ := os.ReadFile(filepath.Join(dir, "dsinfo.json"))
			w.Write(data)
			return
		}
		name, ok := hitronFiles()[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		data, _ := os.ReadFile(filepath.Join(hitronTestdata, name))
		w.Write(data)
	}))
	defer srv.Close()

	sink := &memorySink{}
	_, err := newCollector(t).Run(context.Background(), options(strings.TrimPrefix(srv.URL, "http://")), sink)

	var ve *normalize.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"downstream[0].snr_db"}, ve.Fields())
	assert.Empty(t, sink.records)
}

func TestRunSinkFailureStillWritesOthers(t *testing.T) {
	addr := modem(t, hitronFiles(), false)
	failing := &memorySink{err: errors.New().New(errors.ErrWriteHistory)}
	ok := &memorySink{}

	rec, err := newCollector(t).Run(context.Background(), options(addr), failing, ok)
	require.Error(t, err)
	assert.NotNil(t, rec)
	assert.Equal(t, errors.ErrWriteHistory, errors.CodeOf(err))
	assert.Len(t, ok.records, 1)
}

func TestRunUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	opts := options(addr)
	opts.Timeout = 200 * time.Millisecond

	_, err := newCollector(t).Run(context.Background(), opts)
	require.Error(t, err)
	assert.Equal(t, errors.ErrFetch, errors.CodeOf(err))
}

func TestRunCancelled(t *testing.T) {
	addr := modem(t, hitronFiles(), false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &memorySink{}
	_, err := newCollector(t).Run(ctx, options(addr), sink)
	require.Error(t, err)
	assert.Empty(t, sink.records)
}
