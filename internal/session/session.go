// Package session creates and destroys worker sessions: discover the
// binary, stage it, launch it, and wrap the connection.
package session

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dshills/pglt-supervisor/internal/discovery"
	"github.com/dshills/pglt-supervisor/internal/logging"
	"github.com/dshills/pglt-supervisor/internal/lsp"
	"github.com/dshills/pglt-supervisor/internal/metrics"
	"github.com/dshills/pglt-supervisor/internal/project"
	"github.com/dshills/pglt-supervisor/internal/prompt"
	"github.com/dshills/pglt-supervisor/internal/staging"
	"github.com/dshills/pglt-supervisor/internal/workspace"
)

// LanguageID is the document language a session serves.
const LanguageID = "sql"

// Finder locates the worker binary.
type Finder interface {
	Find(ctx context.Context, root string) (discovery.Result, bool)
}

// Stager copies the binary out of its install location.
type Stager interface {
	Stage(ctx context.Context, bin string) (staging.Binary, error)
}

// Session is one running worker.
type Session struct {
	ID         string
	BinaryPath string
	StagedPath string
	Version    string
	Strategy   string
	Project    *project.Project
	Selector   lsp.Selector
	Worker     Worker
	Workspace  *workspace.Workspace

	destroyOnce sync.Once
	destroyErr  error
}

// Done yields the transport failure that ended the session, if any, and is
// closed when the worker stops.
func (s *Session) Done() <-chan error {
	return s.Worker.Done()
}

// ServerVersion returns the version the worker reported, if any.
func (s *Session) ServerVersion() string {
	if info := s.Worker.ServerInfo(); info != nil {
		return info.Version
	}
	return ""
}

// Root returns the project root, or "" for a single-file session.
func (s *Session) Root() string {
	if s.Project == nil {
		return ""
	}
	return s.Project.Root
}

// Supervisor builds sessions.
type Supervisor struct {
	Finder   Finder
	Stager   Stager
	Launcher Launcher
	Notifier prompt.Notifier
	Logger   *log.Logger
	Metrics  *metrics.Metrics
}

func (sv *Supervisor) logger() *log.Logger {
	return logging.OrDiscard(sv.Logger).With("component", "session")
}

func (sv *Supervisor) notifier() prompt.Notifier {
	if sv.Notifier == nil {
		return prompt.Discard{}
	}
	return sv.Notifier
}

// Create starts a session for p. A nil p starts a session for unsaved
// documents only. When no binary is found the user is told and Create
// returns nil without error.
func (sv *Supervisor) Create(ctx context.Context, p *project.Project) (*Session, error) {
	id := uuid.NewString()
	logger := sv.logger().With("session", id)

	root := ""
	if p != nil {
		root = p.Root
	}

	found, ok := sv.Finder.Find(ctx, root)
	if !ok {
		logger.Error("could not find the pglt binary")
		sv.Metrics.SessionFailure(metrics.FailureNotFound)
		sv.notifier().Error(NotFoundMessage)
		return nil, nil
	}

	bin := staging.Binary{OriginalPath: found.Path}
	if sv.Stager != nil {
		logger.Info("copying binary to staging location", "current", found.Path)
		staged, err := sv.Stager.Stage(ctx, found.Path)
		if err != nil {
			logger.Warn("failed to stage binary, using original", "err", err)
		}
		bin = staged
		if bin.OriginalPath == "" {
			bin.OriginalPath = found.Path
		}
	}

	spec := LaunchSpec{Command: bin.Path(), Args: []string{"lsp-proxy"}}
	if p != nil {
		spec.Args = append(spec.Args, "--config-path", p.ConfigPath)
		spec.WorkDir = p.Root
		spec.RootPath = p.Root
		spec.Options = map[string]any{
			"rootUri":  lsp.FilePathToURI(p.Root),
			"rootPath": p.Root,
		}
	}

	logger.Info("launching worker", "bin", spec.Command, "args", spec.Args, "cwd", spec.WorkDir)
	worker, err := sv.Launcher.Launch(ctx, spec)
	if err != nil {
		logger.Error("failed to launch worker", "err", err)
		sv.Metrics.SessionFailure(metrics.FailureLaunch)
		return nil, &LaunchError{Binary: spec.Command, Err: err}
	}

	sel := Selector(p)
	s := &Session{
		ID:         id,
		BinaryPath: found.Path,
		StagedPath: bin.StagedPath,
		Version:    bin.Version,
		Strategy:   found.Strategy,
		Project:    p,
		Selector:   sel,
		Worker:     worker,
		Workspace:  workspace.New(worker, logger, workspace.WithScope(serves(sel))),
	}
	logger.Info("created session", "strategy", found.Strategy, "version", s.ServerVersion())
	return s, nil
}

// Selector returns the documents a session for p serves: files under the
// project root, or unsaved documents when there is no project. Never both.
func Selector(p *project.Project) lsp.Selector {
	if p == nil {
		return lsp.UnsavedSelector(LanguageID)
	}
	return lsp.ProjectSelector(p.Root, LanguageID)
}

// Serves reports whether ref, a file path or document URI, is one of the
// session's documents.
func (s *Session) Serves(ref string) bool {
	return serves(s.Selector)(ref)
}

func serves(sel lsp.Selector) workspace.Scope {
	return func(ref string) bool {
		return sel.Matches(lsp.DocumentURIFor(ref), LanguageID)
	}
}

// Destroy stops the session's worker if it is still running. Destroying a
// session twice, or a nil session, is a no-op.
func (sv *Supervisor) Destroy(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}
	s.destroyOnce.Do(func() {
		logger := sv.logger().With("session", s.ID)
		if s.Worker.NeedsStop() {
			logger.Debug("stopping worker")
			s.destroyErr = s.Worker.Shutdown(ctx)
		}
		if err := s.Workspace.Destroy(); err != nil && s.destroyErr == nil {
			s.destroyErr = err
		}
	})
	return s.destroyErr
}
