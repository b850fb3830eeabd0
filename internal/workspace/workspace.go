// Package workspace exposes the worker's pgt/* requests as typed methods.
//
// Each method is a single request on the underlying connection with no
// retry or caching. Transport errors are returned to the caller as is.
package workspace

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/dshills/pglt-supervisor/internal/logging"
)

// Worker method names.
const (
	MethodIsPathIgnored   = "pgt/is_path_ignored"
	MethodGetFileContent  = "pgt/get_file_content"
	MethodPullDiagnostics = "pgt/pull_diagnostics"
	MethodGetCompletions  = "pgt/get_completions"
	MethodUpdateSettings  = "pgt/update_settings"
	MethodOpenFile        = "pgt/open_file"
	MethodChangeFile      = "pgt/change_file"
	MethodCloseFile       = "pgt/close_file"
)

// Requester sends requests to the worker. *lsp.Server satisfies it.
type Requester interface {
	Call(ctx context.Context, method string, params, result any) error
	Close() error
}

// Scope reports whether a document path or URI belongs to the connection.
type Scope func(path string) bool

// Option configures a Workspace.
type Option func(*Workspace)

// WithScope refuses document requests for paths scope rejects.
func WithScope(scope Scope) Option {
	return func(w *Workspace) {
		w.scope = scope
	}
}

// Workspace is the typed view of one worker connection.
type Workspace struct {
	req       Requester
	docs      *Documents
	scope     Scope
	logger    *log.Logger
	destroyed atomic.Bool
}

// New wraps req. A nil logger discards. Without WithScope every path is
// accepted.
func New(req Requester, logger *log.Logger, opts ...Option) *Workspace {
	w := &Workspace{
		req:    req,
		docs:   NewDocuments(),
		logger: logging.OrDiscard(logger).With("component", "workspace"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Accepts reports whether path is in the workspace's scope.
func (w *Workspace) Accepts(path string) bool {
	return w.scope == nil || w.scope(path)
}

func (w *Workspace) checkScope(p Path) error {
	if !w.Accepts(p.Path) {
		w.logger.Debug("refused document outside scope", "path", p.Path)
		return &ScopeError{Path: p.Path}
	}
	return nil
}

// Documents returns the open-file tracker.
func (w *Workspace) Documents() *Documents {
	return w.docs
}

func (w *Workspace) call(ctx context.Context, method string, params, result any) error {
	if w.destroyed.Load() {
		return ErrDestroyed
	}
	w.logger.Debug("request", "method", method)
	return w.req.Call(ctx, method, params, result)
}

// IsPathIgnored asks whether the worker ignores path.
func (w *Workspace) IsPathIgnored(ctx context.Context, params IsPathIgnoredParams) (bool, error) {
	if err := w.checkScope(params.PgtPath); err != nil {
		return false, err
	}
	normalizePath(&params.PgtPath)
	var ignored bool
	if err := w.call(ctx, MethodIsPathIgnored, params, &ignored); err != nil {
		return false, err
	}
	return ignored, nil
}

// GetFileContent returns the worker's view of a file.
func (w *Workspace) GetFileContent(ctx context.Context, params GetFileContentParams) (string, error) {
	if err := w.checkScope(params.Path); err != nil {
		return "", err
	}
	normalizePath(&params.Path)
	var content string
	if err := w.call(ctx, MethodGetFileContent, params, &content); err != nil {
		return "", err
	}
	return content, nil
}

// PullDiagnostics returns diagnostics for a file. A zero MaxDiagnostics
// means DefaultMaxDiagnostics.
func (w *Workspace) PullDiagnostics(ctx context.Context, params PullDiagnosticsParams) (*PullDiagnosticsResult, error) {
	if err := w.checkScope(params.Path); err != nil {
		return nil, err
	}
	if params.MaxDiagnostics == 0 {
		params.MaxDiagnostics = DefaultMaxDiagnostics
	}
	if params.Categories == nil {
		params.Categories = []RuleCategory{}
	}
	if params.Only == nil {
		params.Only = []string{}
	}
	if params.Skip == nil {
		params.Skip = []string{}
	}
	normalizePath(&params.Path)

	var result PullDiagnosticsResult
	if err := w.call(ctx, MethodPullDiagnostics, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetCompletions returns completion candidates at a byte offset.
func (w *Workspace) GetCompletions(ctx context.Context, params GetCompletionsParams) (*CompletionResult, error) {
	if err := w.checkScope(params.Path); err != nil {
		return nil, err
	}
	normalizePath(&params.Path)
	var result CompletionResult
	if err := w.call(ctx, MethodGetCompletions, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateSettings replaces the worker configuration.
func (w *Workspace) UpdateSettings(ctx context.Context, params UpdateSettingsParams) error {
	if len(params.Configuration) == 0 {
		params.Configuration = json.RawMessage("{}")
	}
	if params.GitignoreMatches == nil {
		params.GitignoreMatches = []string{}
	}
	return w.call(ctx, MethodUpdateSettings, params, nil)
}

// ApplySettings sends a raw worker configuration document for workspaceDir.
func (w *Workspace) ApplySettings(ctx context.Context, config json.RawMessage, workspaceDir string, skipDB bool) error {
	payload, err := SettingsPayload(config, workspaceDir, skipDB)
	if err != nil {
		return err
	}
	return w.call(ctx, MethodUpdateSettings, payload, nil)
}

// OpenFile registers a file with the worker.
func (w *Workspace) OpenFile(ctx context.Context, params OpenFileParams) error {
	if err := w.checkScope(params.Path); err != nil {
		return err
	}
	normalizePath(&params.Path)
	unlock := w.docs.lock(params.Path.Path)
	defer unlock()

	if err := w.docs.checkOpen(params.Path.Path); err != nil {
		return err
	}
	if err := w.call(ctx, MethodOpenFile, params, nil); err != nil {
		return err
	}
	w.docs.set(params.Path.Path, params.Version)
	return nil
}

// ChangeFile applies ordered edits to an open file.
func (w *Workspace) ChangeFile(ctx context.Context, params ChangeFileParams) error {
	if err := w.checkScope(params.Path); err != nil {
		return err
	}
	normalizePath(&params.Path)
	unlock := w.docs.lock(params.Path.Path)
	defer unlock()

	if err := w.docs.checkChange(params.Path.Path, params.Version); err != nil {
		return err
	}
	if params.Changes == nil {
		params.Changes = []ChangeParams{}
	}
	if err := w.call(ctx, MethodChangeFile, params, nil); err != nil {
		return err
	}
	w.docs.set(params.Path.Path, params.Version)
	return nil
}

// CloseFile tells the worker a file is no longer open.
func (w *Workspace) CloseFile(ctx context.Context, params CloseFileParams) error {
	if err := w.checkScope(params.Path); err != nil {
		return err
	}
	normalizePath(&params.Path)
	unlock := w.docs.lock(params.Path.Path)
	defer unlock()

	if err := w.docs.checkClose(params.Path.Path); err != nil {
		return err
	}
	if err := w.call(ctx, MethodCloseFile, params, nil); err != nil {
		return err
	}
	w.docs.forget(params.Path.Path)
	return nil
}

// Destroy closes the connection. Later calls fail with ErrDestroyed.
func (w *Workspace) Destroy() error {
	if w.destroyed.Swap(true) {
		return nil
	}
	w.docs.reset()
	return w.req.Close()
}

// Destroyed reports whether Destroy has been called.
func (w *Workspace) Destroyed() bool {
	return w.destroyed.Load()
}

func normalizePath(p *Path) {
	if p.Kind == nil {
		p.Kind = []FileKind{}
	}
}
