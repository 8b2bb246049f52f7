package driver

import (
	"fmt"
	"strings"

	"codeberg.org/mutker/modemstat/internal/errors"
)

// UnsupportedModelError reports a device whose identity matches no
// registered driver. Identity is empty when no probe produced one.
type UnsupportedModelError struct {
	Address   string
	Identity  string
	Supported []string
}

func (e *UnsupportedModelError) Error() string {
	supported := strings.Join(e.Supported, ", ")
	if e.Identity == "" {
		return fmt.Sprintf("could not identify the modem at %s (supported: %s)", e.Address, supported)
	}

	return fmt.Sprintf("unsupported modem model %q at %s (supported: %s)", e.Identity, e.Address, supported)
}

func (*UnsupportedModelError) Code() errors.ErrorCode {
	return errors.ErrUnsupportedModel
}

// MalformedPayloadError reports a structurally required field that is
// missing or cannot be parsed. Index is -1 when the field is not inside a
// channel entry.
type MalformedPayloadError struct {
	Section string
	Index   int
	Field   string
	Value   string
	Reason  string
}

func (e *MalformedPayloadError) Error() string {
	var b strings.Builder
	b.WriteString("malformed payload: ")
	b.WriteString(e.Location())
	if e.Value != "" {
		fmt.Fprintf(&b, " %q", e.Value)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)

	return b.String()
}

// Location renders section[index].field.
func (e *MalformedPayloadError) Location() string {
	loc := e.Section
	if e.Index >= 0 {
		loc += fmt.Sprintf("[%d]", e.Index)
	}
	if e.Field != "" {
		loc += "." + e.Field
	}

	return loc
}

func (*MalformedPayloadError) Code() errors.ErrorCode {
	return errors.ErrMalformedPayload
}
