package discovery

import (
	"errors"
	"fmt"
)

// ErrNotFound is reported when every strategy was exhausted or skipped.
var ErrNotFound = errors.New("pglt binary not found")

// StrategyError wraps a failure raised inside one strategy. The chain logs it
// and moves on; it never escapes Find.
type StrategyError struct {
	Strategy string
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Strategy, e.Err)
}

func (e *StrategyError) Unwrap() error {
	return e.Err
}

// PanicError carries a value recovered from a panicking strategy.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
