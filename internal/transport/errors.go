package transport

import (
	"context"
	"fmt"
	"net/http"

	"codeberg.org/mutker/modemstat/internal/errors"
)

// FetchError reports a request that could not be completed, either because
// the device was unreachable for every attempt or because it answered with
// an error status.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	}

	return fmt.Sprintf("fetch %s: %v after %d attempt(s)", e.URL, e.Err, e.Attempts)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (*FetchError) Code() errors.ErrorCode {
	return errors.ErrFetch
}

// Temporary reports whether the failure was network-level or a server
// error, as opposed to a definitive 4xx answer or a cancelled run.
func (e *FetchError) Temporary() bool {
	if e.StatusCode >= http.StatusInternalServerError {
		return true
	}
	if e.StatusCode != 0 {
		return false
	}

	return !errors.Is(e.Err, context.Canceled)
}

// AuthExpired reports whether the device rejected the session.
func (e *FetchError) AuthExpired() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
