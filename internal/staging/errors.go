package staging

import (
	"errors"
	"fmt"
)

// ErrBadVersion is returned when the version output cannot be used to name
// a staged file.
var ErrBadVersion = errors.New("unusable version output")

// Error describes a failed staging step. Staging errors are never fatal;
// callers run the original binary instead.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("staging %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
