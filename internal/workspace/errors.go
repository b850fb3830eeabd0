package workspace

import (
	"errors"
	"fmt"
)

var (
	// ErrDestroyed is returned by every call made after Destroy.
	ErrDestroyed = errors.New("workspace destroyed")

	// ErrAlreadyOpen is returned when opening a file that is already open.
	ErrAlreadyOpen = errors.New("file already open")

	// ErrNotOpen is returned when changing or closing a file that is not open.
	ErrNotOpen = errors.New("file not open")

	// ErrStaleVersion is returned when a change does not advance the
	// document version.
	ErrStaleVersion = errors.New("document version did not increase")

	// ErrOutOfScope matches any ScopeError.
	ErrOutOfScope = errors.New("document outside workspace scope")
)

// ScopeError is returned, before any request is sent, for a document the
// workspace's scope does not accept.
type ScopeError struct {
	Path string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, ErrOutOfScope)
}

// Is reports whether target is ErrOutOfScope.
func (e *ScopeError) Is(target error) bool {
	return target == ErrOutOfScope
}

