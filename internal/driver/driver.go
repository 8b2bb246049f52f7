// Package driver defines the contract every modem family implements and the
// machinery shared by all of them: probing, endpoint fetching, the raw
// payload tree and field extraction helpers.
package driver

import (
	"context"

	"codeberg.org/mutker/modemstat/internal/telemetry"
	"codeberg.org/mutker/modemstat/internal/transport"
)

// Format is the encoding of an endpoint document.
type Format int

const (
	FormatJSON Format = iota
	FormatHTML
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatHTML:
		return "html"
	default:
		return "unknown"
	}
}

// Endpoint is one device document. Name is the key the document is stored
// under in the Payload.
type Endpoint struct {
	Name   string
	Path   string
	Format Format
	// Optional endpoints may be missing on some firmware. A 404 leaves
	// their section absent instead of failing the capture.
	Optional bool
}

// Driver turns one modem family's management interface into telemetry.
type Driver interface {
	// Vendor is the short family name recorded with every capture.
	Vendor() string
	// Models lists the exact identity strings this driver claims.
	Models() []string
	// Scheme is "http" or "https".
	Scheme() string
	// ProbePath is fetched once to learn the device identity.
	ProbePath() string
	// Identify extracts the model identity from the probe document.
	Identify(body []byte) (string, error)
	Endpoints() []Endpoint
	Parse(p *Payload) (*telemetry.Partial, error)
}

type Credentials struct {
	Username string
	Password string
}

func (c Credentials) Empty() bool {
	return c.Username == "" && c.Password == ""
}

// Authenticator is implemented by drivers whose devices require a login
// before telemetry endpoints answer.
type Authenticator interface {
	Login(ctx context.Context, c *transport.Client, creds Credentials) error
}

// SelfSigned is implemented by drivers whose devices serve HTTPS with a
// certificate that cannot be verified.
type SelfSigned interface {
	SelfSignedTLS() bool
}

func selfSigned(d Driver) bool {
	s, ok := d.(SelfSigned)
	return ok && s.SelfSignedTLS()
}
