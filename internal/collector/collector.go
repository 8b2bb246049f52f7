// Package collector runs one capture: probe the modem, pick its driver,
// log in when needed, fetch, parse and normalize. Sinks only ever see a
// record that passed normalization.
package collector

import (
	"context"
	"strings"
	"time"

	"codeberg.org/mutker/modemstat/internal/driver"
	"codeberg.org/mutker/modemstat/internal/driver/arris"
	"codeberg.org/mutker/modemstat/internal/driver/hitron"
	"codeberg.org/mutker/modemstat/internal/driver/superhub5"
	"codeberg.org/mutker/modemstat/internal/errors"
	"codeberg.org/mutker/modemstat/internal/history"
	"codeberg.org/mutker/modemstat/internal/logger"
	"codeberg.org/mutker/modemstat/internal/normalize"
	"codeberg.org/mutker/modemstat/internal/telemetry"
	"codeberg.org/mutker/modemstat/internal/transport"
)

// DefaultRegistry holds every supported modem family, in probe order.
// Plain-HTTP devices come first so an unreachable HTTPS port does not
// delay the common case.
func DefaultRegistry(log logger.Logger) (*driver.Registry, error) {
	return driver.NewRegistry(log,
		hitron.New(),
		arris.New(),
		superhub5.New(),
	)
}

type Options struct {
	Address     string
	Timeout     time.Duration
	Retries     int
	Backoff     time.Duration
	InsecureTLS bool
	Credentials driver.Credentials
}

type Collector struct {
	registry *driver.Registry
	logger   logger.Logger
	now      func() time.Time
}

func New(registry *driver.Registry, log logger.Logger) *Collector {
	return &Collector{
		registry: registry,
		logger:   log,
		now:      time.Now,
	}
}

// dialer hands out one client per scheme and TLS mode, so the probe
// and the fetch share cookies.
func (c *Collector) dialer(opts Options) driver.Dialer {
	clients := make(map[string]*transport.Client)

	return func(scheme string, insecureTLS bool) (*transport.Client, error) {
		insecure := opts.InsecureTLS || insecureTLS
		key := scheme
		if insecure {
			key += "+insecure"
		}
		if client, ok := clients[key]; ok {
			return client, nil
		}

		client, err := transport.New(transport.Config{
			Scheme:      scheme,
			Address:     opts.Address,
			Timeout:     opts.Timeout,
			Retries:     opts.Retries,
			Backoff:     opts.Backoff,
			InsecureTLS: insecure,
		}, c.logger)
		if err != nil {
			return nil, err
		}
		clients[key] = client

		return client, nil
	}
}

// Collect produces one validated record.
func (c *Collector) Collect(ctx context.Context, opts Options) (*telemetry.Record, error) {
	dial := c.dialer(opts)

	d, identity, client, err := c.registry.Probe(ctx, opts.Address, dial)
	var unsupported *driver.UnsupportedModelError
	if errors.As(err, &unsupported) && unsupported.Identity == "" && !opts.Credentials.Empty() {
		d, identity, client, err = c.probeAfterLogin(ctx, opts, dial, err)
	}
	if err != nil {
		return nil, err
	}

	if auth, ok := d.(driver.Authenticator); ok && !opts.Credentials.Empty() {
		login := func(ctx context.Context, tc *transport.Client) error {
			return auth.Login(ctx, tc, opts.Credentials)
		}
		if err := login(ctx, client); err != nil {
			return nil, err
		}
		client.SetAuthenticator(login)
		c.logger.Debug().Str("vendor", d.Vendor()).Msg("Logged in")
	}

	payload, err := driver.Fetch(ctx, client, d)
	if err != nil {
		return nil, err
	}
	capturedAt := c.now()

	partial, err := d.Parse(payload)
	if err != nil {
		return nil, err
	}

	// The identity seen while probing must still hold for the data.
	if !strings.EqualFold(strings.TrimSpace(partial.Model), identity) {
		if found, ok := c.registry.Lookup(partial.Model); !ok || found != d {
			return nil, &driver.UnsupportedModelError{
				Address:   opts.Address,
				Identity:  partial.Model,
				Supported: d.Models(),
			}
		}
	}

	rec, err := normalize.Normalize(partial, capturedAt)
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("vendor", rec.Vendor).
		Str("model", rec.Model).
		Int("downstream", len(rec.Downstream)).
		Int("upstream", len(rec.Upstream)).
		Msg("Capture complete")

	return rec, nil
}

// probeAfterLogin covers firmware that hides its identity page behind the
// login. Each driver able to log in tries the credentials, and the first
// session under which a probe succeeds wins. probeErr is returned when
// none does.
func (c *Collector) probeAfterLogin(ctx context.Context, opts Options, dial driver.Dialer, probeErr error) (driver.Driver, string, *transport.Client, error) {
	for _, d := range c.registry.Drivers() {
		auth, ok := d.(driver.Authenticator)
		if !ok {
			continue
		}

		s, ok := d.(driver.SelfSigned)
		client, err := dial(d.Scheme(), ok && s.SelfSignedTLS())
		if err != nil {
			return nil, "", nil, err
		}
		if err := auth.Login(ctx, client, opts.Credentials); err != nil {
			if ctx.Err() != nil {
				return nil, "", nil, err
			}
			c.logger.Debug().Str("vendor", d.Vendor()).Err(err).Msg("Login before probe failed")
			continue
		}

		found, identity, client, err := c.registry.Probe(ctx, opts.Address, dial)
		var unsupported *driver.UnsupportedModelError
		if err == nil || ctx.Err() != nil || !errors.As(err, &unsupported) || unsupported.Identity != "" {
			return found, identity, client, err
		}
	}

	return nil, "", nil, probeErr
}

// Run collects one record and appends it to every sink. A failed capture
// writes nothing. Every sink is attempted even when one fails.
func (c *Collector) Run(ctx context.Context, opts Options, sinks ...history.Appender) (*telemetry.Record, error) {
	rec, err := c.Collect(ctx, opts)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, s := range sinks {
		if err := s.Append(rec); err != nil {
			c.logger.Error().Str("path", s.Path()).Err(err).Msg("Failed to write capture")
			errs = append(errs, err)
			continue
		}
		c.logger.Info().Str("path", s.Path()).Msg("Capture written")
	}

	return rec, errors.Join(errs...)
}
