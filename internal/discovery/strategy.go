// Package discovery locates a runnable pglt binary.
//
// Strategies are tried in a fixed order and the first hit wins. Each strategy
// is isolated: an error or panic inside one disqualifies it for the attempt
// and the chain continues with the next.
package discovery

import (
	"context"
)

// Strategy is one way of finding the binary. Find returns "" with a nil
// error when the strategy simply has nothing to offer.
type Strategy interface {
	Name() string
	Find(ctx context.Context, root string) (string, error)
}

// InteractiveStrategy is a Strategy with side effects beyond probing, such as
// asking the user or installing files.
type InteractiveStrategy interface {
	Strategy
	Interactive() bool
}

// Condition gates a strategy. A false result or an error skips it.
type Condition func(ctx context.Context, root string) (bool, error)

// Entry is one slot in a Chain.
type Entry struct {
	Strategy  Strategy
	Condition Condition
}

// Result is a successful discovery.
type Result struct {
	Path     string
	Strategy string
}

// IsInteractive reports whether s is marked interactive.
func IsInteractive(s Strategy) bool {
	is, ok := s.(InteractiveStrategy)
	return ok && is.Interactive()
}
