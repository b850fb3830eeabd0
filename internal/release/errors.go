package release

import (
	"errors"
	"fmt"
)

// ErrNoReleases is returned when the repository lists no usable releases.
var ErrNoReleases = errors.New("no releases found")

// FetchError describes a failed HTTP exchange with the release host.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
