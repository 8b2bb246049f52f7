package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"codeberg.org/mutker/modemstat/internal/errors"
	"codeberg.org/mutker/modemstat/internal/logger"
)

const (
	userAgent    = "modemstat"
	maxBodyBytes = 8 << 20
)

type Config struct {
	Scheme      string
	Address     string
	Timeout     time.Duration
	Retries     int
	Backoff     time.Duration
	InsecureTLS bool
}

// Authenticator establishes a session on the client. It is called again
// when the device answers 401 or 403 mid-run.
type Authenticator func(ctx context.Context, c *Client) error

// Request describes one call relative to the device root.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Form     url.Values
	Header   http.Header

	// NoAuthRetry disables the re-authenticate-and-replay step. Login
	// requests set it so a rejected login surfaces directly.
	NoAuthRetry bool
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client talks to a single modem for the duration of one run. It holds
// session cookies and an optional session query token; nothing outlives it.
type Client struct {
	cfg    Config
	http   *http.Client
	auth   Authenticator
	token  string
	logger logger.Logger
}

func New(cfg Config, log logger.Logger) (*Client, error) {
	errFactory := errors.New()

	if cfg.Address == "" {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "modem address is empty")
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.Timeout <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidTimeout, cfg.Timeout)
	}
	if cfg.Retries < 0 {
		return nil, errFactory.WithData(errors.ErrInvalidRetries, cfg.Retries)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInternal, err)
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureTLS {
		// Modem management pages use self-signed certificates.
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Jar:       jar,
			Transport: tr,
		},
		logger: log,
	}, nil
}

func (c *Client) SetAuthenticator(a Authenticator) {
	c.auth = a
}

// SetSessionToken sets a token appended verbatim to every request query.
// An empty token disables it.
func (c *Client) SetSessionToken(token string) {
	c.token = token
}

func (c *Client) Address() string {
	return c.cfg.Address
}

// URL resolves a device path into an absolute URL.
func (c *Client) URL(path, rawQuery string) string {
	if c.token != "" {
		if rawQuery == "" {
			rawQuery = c.token
		} else {
			rawQuery += "&" + c.token
		}
	}

	u := url.URL{
		Scheme:   c.cfg.Scheme,
		Host:     c.cfg.Address,
		Path:     path,
		RawQuery: rawQuery,
	}

	return u.String()
}

// Get fetches a path and returns its body.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

// Do performs a request with the retry policy. A 401/403 answer triggers
// one re-authentication and one replay when an Authenticator is set.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.send(ctx, req)
	if err == nil || req.NoAuthRetry || c.auth == nil {
		return resp, err
	}

	var fe *FetchError
	if !errors.As(err, &fe) || !fe.AuthExpired() {
		return nil, err
	}

	c.logger.Debug().
		Str("path", req.Path).
		Int("status", fe.StatusCode).
		Msg("Session rejected, re-authenticating")

	if err := c.auth(ctx, c); err != nil {
		return nil, err
	}

	return c.send(ctx, req)
}

func (c *Client) send(ctx context.Context, req Request) (*Response, error) {
	target := c.URL(req.Path, req.RawQuery)
	attempts := c.cfg.Retries + 1

	var lastErr *FetchError
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := c.wait(ctx); err != nil {
				return nil, &FetchError{URL: target, Attempts: attempt - 1, Err: err}
			}
		}

		resp, err := c.attempt(ctx, target, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &FetchError{URL: target, Attempts: attempt, Err: ctx.Err()}
			}
			lastErr = &FetchError{URL: target, Attempts: attempt, Err: err}
			c.logger.Debug().
				Str("url", target).
				Int("attempt", attempt).
				Err(err).
				Msg("Request failed")
			continue
		}

		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			lastErr = &FetchError{URL: target, StatusCode: resp.StatusCode, Attempts: attempt}
			c.logger.Debug().
				Str("url", target).
				Int("attempt", attempt).
				Int("status", resp.StatusCode).
				Msg("Server error")
			continue
		case resp.StatusCode >= http.StatusBadRequest:
			return nil, &FetchError{URL: target, StatusCode: resp.StatusCode, Attempts: attempt}
		}

		c.logger.Debug().
			Str("url", target).
			Int("status", resp.StatusCode).
			Int("bytes", len(resp.Body)).
			Msg("Fetched")

		return resp, nil
	}

	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, target string, req Request) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Form != nil {
		body = strings.NewReader(req.Form.Encode())
	}

	hreq, err := http.NewRequestWithContext(actx, method, target, body)
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("User-Agent", userAgent)
	hreq.Header.Set("Cache-Control", "no-cache")
	if req.Form != nil {
		hreq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}

	res, err := c.http.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       data,
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.cfg.Backoff <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(c.cfg.Backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
