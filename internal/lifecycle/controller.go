// Package lifecycle owns the supervisor state machine: it starts, stops,
// restarts and resets the worker session and reacts to configuration
// changes and worker crashes.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/pglt-supervisor/internal/config"
	"github.com/dshills/pglt-supervisor/internal/logging"
	"github.com/dshills/pglt-supervisor/internal/metrics"
	"github.com/dshills/pglt-supervisor/internal/project"
	"github.com/dshills/pglt-supervisor/internal/prompt"
	"github.com/dshills/pglt-supervisor/internal/session"
)

const (
	// DefaultGracePeriod is how long Stop waits before tearing down the
	// session, so a configuration notification already sent can reach the
	// worker.
	DefaultGracePeriod = time.Second

	// DefaultDebounce coalesces bursts of configuration changes.
	DefaultDebounce = 300 * time.Millisecond
)

// CrashMessage is shown when the worker dies under a running session.
const CrashMessage = "The pglt worker crashed and was stopped. Run the restart command to start it again."

// SessionManager creates and destroys sessions. *session.Supervisor
// satisfies it.
type SessionManager interface {
	Create(ctx context.Context, p *project.Project) (*session.Session, error)
	Destroy(ctx context.Context, s *session.Session) error
}

// ProjectResolver returns the active project, or nil for single-file mode.
type ProjectResolver interface {
	Resolve(ctx context.Context) (*project.Project, error)
}

// ProjectResolverFunc adapts a function to ProjectResolver.
type ProjectResolverFunc func(ctx context.Context) (*project.Project, error)

// Resolve calls f.
func (f ProjectResolverFunc) Resolve(ctx context.Context) (*project.Project, error) {
	return f(ctx)
}

// Cleaner removes cached state during Reset.
type Cleaner func(ctx context.Context) error

// Options configures a Controller.
type Options struct {
	Sessions    SessionManager
	Projects    ProjectResolver
	Clock       Clock
	GracePeriod time.Duration
	Debounce    time.Duration
	Notifier    prompt.Notifier
	Logger      *log.Logger
	Metrics     *metrics.Metrics
}

// Controller serializes lifecycle operations on the single active session.
type Controller struct {
	StateHolder

	sessions SessionManager
	projects ProjectResolver
	clock    Clock
	grace    time.Duration
	notifier prompt.Notifier
	logger   *log.Logger
	metrics  *metrics.Metrics

	// opMu is held for the whole of start, stop, restart and reset.
	opMu      sync.Mutex
	restarts  singleflight.Group
	debouncer *Debouncer

	changeMu      sync.Mutex
	changeAffects bool

	mu      sync.Mutex
	active  *session.Session
	project *project.Project
}

// New returns a controller in the initializing state.
func New(opts Options) *Controller {
	c := &Controller{
		sessions: opts.Sessions,
		projects: opts.Projects,
		clock:    opts.Clock,
		grace:    opts.GracePeriod,
		notifier: opts.Notifier,
		logger:   logging.OrDiscard(opts.Logger).With("component", "lifecycle"),
		metrics:  opts.Metrics,
	}
	if c.clock == nil {
		c.clock = RealClock()
	}
	if c.grace == 0 {
		c.grace = DefaultGracePeriod
	}
	if c.notifier == nil {
		c.notifier = prompt.Discard{}
	}
	debounce := opts.Debounce
	if debounce == 0 {
		debounce = DefaultDebounce
	}
	c.debouncer = NewDebouncer(c.clock, debounce, c.onDebouncedChange)
	return c
}

// ActiveSession returns the running session, or nil.
func (c *Controller) ActiveSession() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Project returns the project of the running session, or nil.
func (c *Controller) Project() *project.Project {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.project
}

func (c *Controller) transition(to State) {
	from := c.set(to)
	if from == to {
		return
	}
	c.logger.Debug("state changed", "from", from, "to", to)
	c.metrics.Transition(from.String(), to.String())
}

// Start creates a session. It is a no-op while a session is running.
// Failures are reported to the user and leave the controller in the error
// state; they are never returned.
func (c *Controller) Start(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.ActiveSession() != nil {
		c.logger.Debug("already started")
		return
	}
	c.transition(StateStarting)
	c.doStart(ctx)
	if c.State() == StateStarted {
		c.logger.Info("pglt started")
	}
}

// Stop waits the grace period, then tears down the session.
func (c *Controller) Stop(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.transition(StateStopping)
	c.doStop(ctx)
	c.transition(StateStopped)
	c.logger.Info("pglt stopped")
}

// Restart stops and starts the session. Calls made while a restart is in
// flight do not start another one.
func (c *Controller) Restart(ctx context.Context) {
	if c.State() == StateRestarting {
		c.logger.Debug("restart already in progress")
		return
	}
	c.restarts.Do("restart", func() (any, error) {
		c.opMu.Lock()
		defer c.opMu.Unlock()

		c.transition(StateRestarting)
		c.doStop(ctx)
		c.doStart(ctx)
		if c.State() == StateStarted {
			c.logger.Info("pglt restarted")
		}
		return nil, nil
	})
}

// Reset stops the session, runs cleaners, and starts again.
func (c *Controller) Reset(ctx context.Context, cleaners ...Cleaner) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.transition(StateStopping)
	c.doStop(ctx)
	c.transition(StateStopped)

	for _, clean := range cleaners {
		if err := clean(ctx); err != nil {
			c.logger.Warn("reset cleanup failed", "err", err)
		}
	}
	c.mu.Lock()
	c.project = nil
	c.mu.Unlock()
	c.logger.Info("pglt was reset")

	c.transition(StateStarting)
	c.doStart(ctx)
}

// OnConfigurationChange schedules a restart if the burst of changes ending
// with ev touched the pglt namespace.
func (c *Controller) OnConfigurationChange(ev config.ChangeEvent) {
	affects := ev.AffectsConfiguration(config.Namespace)
	c.changeMu.Lock()
	c.changeAffects = c.changeAffects || affects
	c.changeMu.Unlock()
	c.debouncer.Call()
}

func (c *Controller) onDebouncedChange() {
	c.changeMu.Lock()
	affects := c.changeAffects
	c.changeAffects = false
	c.changeMu.Unlock()

	if !affects {
		return
	}
	c.logger.Info("configuration change detected")

	switch state := c.State(); state {
	case StateRestarting, StateStopping:
		c.logger.Debug("dropping configuration change", "state", state)
		return
	}
	go c.Restart(context.Background())
}

// Close cancels pending configuration work.
func (c *Controller) Close() {
	c.debouncer.Cancel()
}

// doStart resolves the project and creates a session, ending in started
// or error.
func (c *Controller) doStart(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("failed to start pglt", "panic", r)
			c.notifier.Error(fmt.Sprintf("Failed to start pglt: %v", r))
			c.transition(StateError)
		}
	}()

	var p *project.Project
	if c.projects != nil {
		var err error
		if p, err = c.projects.Resolve(ctx); err != nil {
			c.logger.Error("failed to resolve project", "err", err)
			c.notifier.Error(err.Error())
			c.transition(StateError)
			return
		}
	}
	if p == nil {
		c.logger.Info("no active project, starting in single-file mode")
	}

	s, err := c.sessions.Create(ctx, p)
	if err != nil {
		c.logger.Error("failed to start pglt", "err", err)
		c.notifier.Error(fmt.Sprintf("Failed to start pglt: %v", err))
		c.transition(StateError)
		return
	}
	if s == nil {
		c.transition(StateError)
		return
	}

	c.mu.Lock()
	c.active = s
	c.project = p
	c.mu.Unlock()

	go c.watch(s)
	c.transition(StateStarted)
}

// doStop waits the grace period and destroys the active session.
func (c *Controller) doStop(ctx context.Context) {
	select {
	case <-c.clock.After(c.grace):
	case <-ctx.Done():
	}

	c.mu.Lock()
	s := c.active
	c.active = nil
	c.mu.Unlock()

	if s == nil {
		return
	}
	if err := c.sessions.Destroy(ctx, s); err != nil {
		c.logger.Warn("failed to stop session", "session", s.ID, "err", err)
	}
}

// watch tears the session down when its worker fails. The controller does
// not respawn the worker; the user restarts explicitly.
func (c *Controller) watch(s *session.Session) {
	err, ok := <-s.Done()
	if !ok || err == nil {
		return
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.active != s {
		c.mu.Unlock()
		return
	}
	c.active = nil
	c.mu.Unlock()

	c.logger.Error("worker failed", "session", s.ID, "err", err)
	c.metrics.SessionFailure(metrics.FailureTransport)
	if derr := c.sessions.Destroy(context.Background(), s); derr != nil {
		c.logger.Warn("failed to clean up crashed session", "session", s.ID, "err", derr)
	}
	c.notifier.Error(CrashMessage)
	c.transition(StateError)
}
