package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"codeberg.org/mutker/modemstat/internal/errors"
	"codeberg.org/mutker/modemstat/internal/transport"
	"github.com/Jeffail/gabs/v2"
	jsonpatch "github.com/evanphx/json-patch"
)

// Payload is the raw device data for one run: every endpoint document,
// keyed by endpoint name, as an untyped tree. It is built and consumed
// inside a single driver invocation.
type Payload struct {
	root *gabs.Container
}

// NewPayload parses an assembled payload document. Numbers are kept as
// json.Number so large counters survive intact.
func NewPayload(data []byte) (*Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	root, err := gabs.ParseJSONDecoder(dec)
	if err != nil {
		return nil, err
	}

	return &Payload{root: root}, nil
}

// Document returns the named endpoint document, or nil when it is absent
// or null.
func (p *Payload) Document(name string) *gabs.Container {
	if p == nil || p.root == nil {
		return nil
	}

	doc := Child(p.root, name)
	if doc == nil || doc.Data() == nil {
		return nil
	}

	return doc
}

func (p *Payload) Bytes() []byte {
	return p.root.Bytes()
}

// Fetch retrieves every endpoint of d in order and assembles the payload.
// Each document is wrapped as {"<endpoint>": doc} and merged into the
// payload as a JSON merge patch.
func Fetch(ctx context.Context, client *transport.Client, d Driver) (*Payload, error) {
	merged := []byte("{}")

	for _, ep := range d.Endpoints() {
		body, err := client.Get(ctx, ep.Path)
		if err != nil {
			var fe *transport.FetchError
			if ep.Optional && errors.As(err, &fe) && fe.StatusCode == http.StatusNotFound {
				continue
			}
			return nil, err
		}

		doc, err := wrapDocument(ep, body)
		if err != nil {
			return nil, err
		}

		merged, err = jsonpatch.MergeMergePatches(merged, doc)
		if err != nil {
			return nil, &MalformedPayloadError{
				Section: ep.Name,
				Index:   -1,
				Reason:  "cannot merge document: " + err.Error(),
			}
		}
	}

	return NewPayload(merged)
}

func wrapDocument(ep Endpoint, body []byte) ([]byte, error) {
	wrapper := gabs.New()

	switch ep.Format {
	case FormatHTML:
		doc, err := DecodeHTML(body)
		if err != nil {
			return nil, &MalformedPayloadError{
				Section: ep.Name,
				Index:   -1,
				Reason:  "invalid HTML: " + err.Error(),
			}
		}
		if _, err := wrapper.Set(doc.Data(), ep.Name); err != nil {
			return nil, err
		}
	default:
		var doc json.RawMessage
		if err := json.Unmarshal(bytes.TrimSpace(body), &doc); err != nil {
			return nil, &MalformedPayloadError{
				Section: ep.Name,
				Index:   -1,
				Reason:  "invalid JSON: " + err.Error(),
			}
		}
		if _, err := wrapper.Set(doc, ep.Name); err != nil {
			return nil, err
		}
	}

	return wrapper.Bytes(), nil
}
