package driver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"codeberg.org/mutker/modemstat/internal/errors"
	"codeberg.org/mutker/modemstat/internal/logger"
	"codeberg.org/mutker/modemstat/internal/transport"
)

// Dialer returns the client used for a given scheme. Probing may need both
// an http and an https client for the same address.
type Dialer func(scheme string, insecureTLS bool) (*transport.Client, error)

// Registry is the closed set of drivers, keyed by the identity strings
// they claim.
type Registry struct {
	drivers []Driver
	byModel map[string]Driver
	logger  logger.Logger
}

func identityKey(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// NewRegistry registers drivers in probe order. Two drivers claiming the
// same identity is an error.
func NewRegistry(log logger.Logger, drivers ...Driver) (*Registry, error) {
	errFactory := errors.New()

	r := &Registry{
		byModel: make(map[string]Driver),
		logger:  log,
	}

	for _, d := range drivers {
		for _, model := range d.Models() {
			key := identityKey(model)
			if key == "" {
				return nil, errFactory.WithMessage(errors.ErrInvalidArgument,
					fmt.Sprintf("driver %s claims an empty model identity", d.Vendor()))
			}
			if prev, ok := r.byModel[key]; ok {
				return nil, errFactory.WithMessage(errors.ErrInvalidArgument,
					fmt.Sprintf("model %q claimed by both %s and %s", model, prev.Vendor(), d.Vendor()))
			}
			r.byModel[key] = d
		}
		r.drivers = append(r.drivers, d)
	}

	return r, nil
}

func (r *Registry) Drivers() []Driver {
	return r.drivers
}

// Models lists every claimed identity, sorted.
func (r *Registry) Models() []string {
	var models []string
	for _, d := range r.drivers {
		models = append(models, d.Models()...)
	}
	sort.Strings(models)

	return models
}

// Lookup returns the driver claiming identity. Matching ignores case and
// surrounding whitespace.
func (r *Registry) Lookup(identity string) (Driver, bool) {
	d, ok := r.byModel[identityKey(identity)]
	return d, ok
}

// Probe learns the device identity and selects its driver. Each distinct
// probe location is fetched once, in registration order, and every driver
// sharing it gets to identify the answer; the first identity obtained
// decides. It returns the driver, the identity as reported and the client
// to use for that driver.
func (r *Registry) Probe(ctx context.Context, address string, dial Dialer) (Driver, string, *transport.Client, error) {
	type location struct{ scheme, path string }
	bodies := make(map[location][]byte)
	failed := make(map[location]bool)

	var lastFetchErr error
	answered := false

	for _, d := range r.drivers {
		loc := location{d.Scheme(), d.ProbePath()}
		if failed[loc] {
			continue
		}

		body, ok := bodies[loc]
		if !ok {
			client, err := dial(d.Scheme(), selfSigned(d))
			if err != nil {
				return nil, "", nil, err
			}

			body, err = client.Get(ctx, d.ProbePath())
			if err != nil {
				if ctx.Err() != nil {
					return nil, "", nil, err
				}
				r.logger.Debug().
					Str("vendor", d.Vendor()).
					Str("path", d.ProbePath()).
					Err(err).
					Msg("Probe failed")

				var fe *transport.FetchError
				if errors.As(err, &fe) && !fe.Temporary() {
					answered = true
				} else {
					lastFetchErr = err
				}
				failed[loc] = true
				continue
			}
			bodies[loc] = body
			answered = true
		}

		identity, err := d.Identify(body)
		identity = strings.TrimSpace(identity)
		if err != nil || identity == "" {
			r.logger.Debug().
				Str("vendor", d.Vendor()).
				Err(err).
				Msg("Probe answer not recognised")
			continue
		}

		found, ok := r.Lookup(identity)
		if !ok {
			return nil, identity, nil, &UnsupportedModelError{
				Address:   address,
				Identity:  identity,
				Supported: r.Models(),
			}
		}

		client, err := dial(found.Scheme(), selfSigned(found))
		if err != nil {
			return nil, "", nil, err
		}

		r.logger.Info().
			Str("vendor", found.Vendor()).
			Str("model", identity).
			Msg("Modem identified")

		return found, identity, client, nil
	}

	// Nothing on the network answered at all: that is a fetch failure,
	// not an unknown device.
	if !answered && lastFetchErr != nil {
		return nil, "", nil, lastFetchErr
	}

	return nil, "", nil, &UnsupportedModelError{
		Address:   address,
		Supported: r.Models(),
	}
}
