// Package host connects the supervisor to its surroundings: it forwards
// settings changes to the lifecycle controller, exposes the user-facing
// commands and computes the status indicator.
package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dshills/pglt-supervisor/internal/config"
	"github.com/dshills/pglt-supervisor/internal/lifecycle"
	"github.com/dshills/pglt-supervisor/internal/logging"
	"github.com/dshills/pglt-supervisor/internal/project"
	"github.com/dshills/pglt-supervisor/internal/prompt"
	"github.com/dshills/pglt-supervisor/internal/session"
)

// Command identifiers.
const (
	CommandStart          = "pglt.start"
	CommandStop           = "pglt.stop"
	CommandRestart        = "pglt.restart"
	CommandDownload       = "pglt.download"
	CommandReset          = "pglt.reset"
	CommandCurrentVersion = "pglt.currentVersion"
)

// SQLLanguageID is the only language the status indicator shows for.
const SQLLanguageID = "sql"

// ErrUnknownCommand is returned by Execute for unregistered names.
var ErrUnknownCommand = errors.New("unknown command")

// Lifecycle is the part of *lifecycle.Controller the host drives.
type Lifecycle interface {
	Start(ctx context.Context)
	Stop(ctx context.Context)
	Restart(ctx context.Context)
	Reset(ctx context.Context, cleaners ...lifecycle.Cleaner)
	OnConfigurationChange(ev config.ChangeEvent)
	State() lifecycle.State
	ActiveSession() *session.Session
	Project() *project.Project
}

// Downloader runs the interactive version picker and installs the choice.
// *discovery.DownloadStrategy implements it.
type Downloader interface {
	Download(ctx context.Context) (string, error)
}

// Installation is the downloaded-binary bookkeeping. *release.Installer
// implements it.
type Installation interface {
	Downloaded(ctx context.Context) (version, path string, ok bool)
	Clear() error
	Forget(ctx context.Context) error
}

// Clearer removes a cache directory.
type Clearer interface {
	Clear() error
}

// Options configures a Host.
type Options struct {
	Lifecycle    Lifecycle
	Settings     config.Source
	Downloader   Downloader
	Installation Installation
	Stager       Clearer
	Notifier     prompt.Notifier
	Logger       *log.Logger
}

// CommandFunc is a user-facing command.
type CommandFunc func(ctx context.Context) error

// Host owns the commands and the status indicator.
type Host struct {
	lc           Lifecycle
	settings     config.Source
	downloader   Downloader
	installation Installation
	stager       Clearer
	notifier     prompt.Notifier
	logger       *log.Logger

	commands map[string]CommandFunc

	mu     sync.RWMutex
	hidden bool
}

// New creates a host. The status indicator starts hidden until a SQL
// document gains focus.
func New(opts Options) *Host {
	h := &Host{
		lc:           opts.Lifecycle,
		settings:     opts.Settings,
		downloader:   opts.Downloader,
		installation: opts.Installation,
		stager:       opts.Stager,
		notifier:     opts.Notifier,
		logger:       logging.OrDiscard(opts.Logger).With("component", "host"),
		hidden:       true,
	}
	if h.settings == nil {
		h.settings = config.Map(nil)
	}
	if h.notifier == nil {
		h.notifier = prompt.Discard{}
	}
	h.commands = map[string]CommandFunc{
		CommandStart:          h.Start,
		CommandStop:           h.Stop,
		CommandRestart:        h.Restart,
		CommandDownload:       h.Download,
		CommandReset:          h.Reset,
		CommandCurrentVersion: h.CurrentVersion,
	}
	return h
}

// Commands returns the registered command names, sorted.
func (h *Host) Commands() []string {
	names := make([]string, 0, len(h.commands))
	for name := range h.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs the named command.
func (h *Host) Execute(ctx context.Context, name string) error {
	cmd, ok := h.commands[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	h.logger.Debug("executing command", "command", name)
	return cmd(ctx)
}

// Run forwards settings changes to the lifecycle until ctx is done or
// events is closed. Watcher errors are logged and otherwise ignored.
func (h *Host) Run(ctx context.Context, events <-chan config.ChangeEvent, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.lc.OnConfigurationChange(ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			h.logger.Warn("settings watcher error", "err", err)
		}
	}
}

// Start starts the supervisor.
func (h *Host) Start(ctx context.Context) error {
	h.lc.Start(ctx)
	return nil
}

// Stop stops the supervisor.
func (h *Host) Stop(ctx context.Context) error {
	h.lc.Stop(ctx)
	return nil
}

// Restart restarts the supervisor.
func (h *Host) Restart(ctx context.Context) error {
	h.lc.Restart(ctx)
	return nil
}

// Download prompts for a release and installs it. Picking nothing is not
// an error.
func (h *Host) Download(ctx context.Context) error {
	if h.downloader == nil {
		h.notifier.Error("Downloading PGLT is not available.")
		return nil
	}
	path, err := h.downloader.Download(ctx)
	if err != nil {
		return err
	}
	if path != "" {
		h.logger.Info("downloaded binary", "path", path)
	}
	return nil
}

// Reset stops the supervisor, removes staged and downloaded binaries,
// forgets the downloaded version and starts again.
func (h *Host) Reset(ctx context.Context) error {
	var cleaners []lifecycle.Cleaner
	if h.stager != nil {
		cleaners = append(cleaners, func(context.Context) error { return h.stager.Clear() })
	}
	if h.installation != nil {
		cleaners = append(cleaners,
			func(context.Context) error { return h.installation.Clear() },
			h.installation.Forget,
		)
	}
	h.lc.Reset(ctx, cleaners...)
	return nil
}

// CurrentVersion tells the user which downloaded version is recorded.
func (h *Host) CurrentVersion(ctx context.Context) error {
	if h.installation == nil {
		h.notifier.Info("No PGLT version installed.")
		return nil
	}
	version, _, ok := h.installation.Downloaded(ctx)
	if !ok {
		h.notifier.Info("No PGLT version installed.")
		return nil
	}
	h.notifier.Info(fmt.Sprintf("Currently installed PGLT version is %s.", version))
	return nil
}

// FocusChanged records the language of the focused document. An empty id
// means no document has focus.
func (h *Host) FocusChanged(languageID string) {
	h.mu.Lock()
	h.hidden = languageID != SQLLanguageID
	h.mu.Unlock()
}

// Hidden reports whether the indicator is suppressed by focus.
func (h *Host) Hidden() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.hidden
}
