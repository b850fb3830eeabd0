package session

import "fmt"

// NotFoundMessage is shown when no strategy finds a binary.
const NotFoundMessage = "Unable to find a pglt binary. Set pglt.bin in your settings, " +
	"add @pglt/pglt to your project's dependencies, put pglt on your PATH, " +
	"or run the download command."

// LaunchError reports that the worker could not be spawned or did not
// complete its handshake.
type LaunchError struct {
	Binary string
	Err    error
}

// Error implements the error interface.
func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Binary, e.Err)
}

// Unwrap returns the underlying error.
func (e *LaunchError) Unwrap() error {
	return e.Err
}
