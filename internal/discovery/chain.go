package discovery

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/dshills/pglt-supervisor/internal/logging"
	"github.com/dshills/pglt-supervisor/internal/metrics"
)

// Chain runs strategies in order until one finds the binary.
type Chain struct {
	entries []Entry
	logger  *log.Logger
	metrics *metrics.Metrics
}

// NewChain builds a chain over entries, tried in the given order.
func NewChain(logger *log.Logger, m *metrics.Metrics, entries ...Entry) *Chain {
	return &Chain{
		entries: entries,
		logger:  logging.OrDiscard(logger).With("component", "discovery"),
		metrics: m,
	}
}

// Strategies returns the strategy names in order.
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.Strategy.Name()
	}
	return names
}

// Find runs the chain for the project rooted at root. ok is false when no
// strategy produced a path.
func (c *Chain) Find(ctx context.Context, root string) (Result, bool) {
	for _, entry := range c.entries {
		name := entry.Strategy.Name()

		if entry.Condition != nil {
			run, err := c.checkCondition(ctx, entry.Condition, root)
			if err != nil {
				c.logger.Error("strategy condition failed", "strategy", name, "err", err)
			}
			if err != nil || !run {
				c.logger.Debug("skipping strategy", "strategy", name)
				c.metrics.DiscoveryAttempt(name, metrics.OutcomeSkipped)
				continue
			}
		}

		path, err := c.run(ctx, entry.Strategy, root)
		if err != nil {
			c.logger.Error("strategy returned an error", "strategy", name, "err", err)
			c.metrics.DiscoveryAttempt(name, metrics.OutcomeError)
			continue
		}
		if path == "" {
			c.logger.Info("binary not found with strategy", "strategy", name)
			c.metrics.DiscoveryAttempt(name, metrics.OutcomeNotFound)
			continue
		}

		c.logger.Debug("found binary", "strategy", name, "path", path)
		c.metrics.DiscoveryAttempt(name, metrics.OutcomeFound)
		return Result{Path: path, Strategy: name}, true
	}

	c.logger.Debug("unable to find binary", "err", ErrNotFound)
	return Result{}, false
}

// run calls the strategy, converting a panic into a StrategyError.
func (c *Chain) run(ctx context.Context, s Strategy, root string) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			path = ""
			err = &StrategyError{Strategy: s.Name(), Err: &PanicError{Value: r}}
		}
	}()

	path, err = s.Find(ctx, root)
	if err != nil {
		return "", &StrategyError{Strategy: s.Name(), Err: err}
	}
	return path, nil
}

func (c *Chain) checkCondition(ctx context.Context, cond Condition, root string) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("condition: %w", &PanicError{Value: r})
		}
	}()
	return cond(ctx, root)
}
