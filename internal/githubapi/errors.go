package githubapi

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrPageLimit marks a listing with more pages than the configured bound allows.
var ErrPageLimit = errors.New("listing exceeds the page limit")

// TransportError is a non-success status returned by a single GitHub request.
type TransportError struct {
	Path       string
	StatusCode int
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("github request %s returned status %d (%s)", e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

// PartialFetchError reports a listing that failed after at least one page was accepted. The
// accepted pages are discarded with it.
type PartialFetchError struct {
	Path string
	Page int
	Err  error
}

func (e *PartialFetchError) Error() string {
	return fmt.Sprintf("paginated fetch of %s failed on page %d: %v", e.Path, e.Page, e.Err)
}

func (e *PartialFetchError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err wraps a 404 TransportError.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// StatusCode returns the HTTP status carried by a wrapped TransportError, or 0.
func StatusCode(err error) int {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.StatusCode
	}
	return 0
}
