package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pglt-supervisor/internal/discovery"
	"github.com/dshills/pglt-supervisor/internal/lsp"
	"github.com/dshills/pglt-supervisor/internal/project"
	"github.com/dshills/pglt-supervisor/internal/prompt"
	"github.com/dshills/pglt-supervisor/internal/staging"
	"github.com/dshills/pglt-supervisor/internal/workspace"
)

type fakeFinder struct {
	result discovery.Result
	ok     bool
	roots  []string
}

func (f *fakeFinder) Find(_ context.Context, root string) (discovery.Result, bool) {
	f.roots = append(f.roots, root)
	return f.result, f.ok
}

type fakeStager struct {
	bin staging.Binary
	err error
}

func (f *fakeStager) Stage(_ context.Context, bin string) (staging.Binary, error) {
	b := f.bin
	b.OriginalPath = bin
	return b, f.err
}

type fakeWorker struct {
	mu        sync.Mutex
	methods   []string
	running   bool
	shutdowns int
	closes    int
	done      chan error
	info      *lsp.InitializeServerInfo
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{running: true, done: make(chan error, 1), info: &lsp.InitializeServerInfo{Name: "pglt", Version: "0.3.0"}}
}

func (w *fakeWorker) Call(_ context.Context, method string, _, _ any) error {
	w.mu.Lock()
	w.methods = append(w.methods, method)
	w.mu.Unlock()
	return nil
}

func (w *fakeWorker) Methods() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.methods...)
}

func (w *fakeWorker) Close() error {
	w.mu.Lock()
	w.closes++
	w.mu.Unlock()
	return nil
}

func (w *fakeWorker) Shutdown(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.shutdowns++
	w.running = false
	return nil
}

func (w *fakeWorker) NeedsStop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *fakeWorker) Done() <-chan error                    { return w.done }
func (w *fakeWorker) ServerInfo() *lsp.InitializeServerInfo { return w.info }

type fakeLauncher struct {
	specs  []LaunchSpec
	worker *fakeWorker
	err    error
}

func (l *fakeLauncher) Launch(_ context.Context, spec LaunchSpec) (Worker, error) {
	l.specs = append(l.specs, spec)
	if l.err != nil {
		return nil, l.err
	}
	return l.worker, nil
}

func testProject() *project.Project {
	root := filepath.FromSlash("/work/app")
	return &project.Project{
		Root:       root,
		ConfigPath: filepath.Join(root, "pglt.toml"),
		Folder:     &project.Folder{Name: "app", Root: root},
	}
}

func TestCreate_LaunchesStagedBinary(t *testing.T) {
	finder := &fakeFinder{result: discovery.Result{Path: "/usr/bin/pglt", Strategy: "PATH Env Var Strategy"}, ok: true}
	stager := &fakeStager{bin: staging.Binary{StagedPath: "/cache/tmp-bin/pglt-0.3.0", Version: "0.3.0"}}
	launcher := &fakeLauncher{worker: newFakeWorker()}
	sv := &Supervisor{Finder: finder, Stager: stager, Launcher: launcher}
	p := testProject()

	s, err := sv.Create(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Equal(t, []string{p.Root}, finder.roots)
	require.Len(t, launcher.specs, 1)
	spec := launcher.specs[0]
	assert.Equal(t, "/cache/tmp-bin/pglt-0.3.0", spec.Command)
	assert.Equal(t, []string{"lsp-proxy", "--config-path", p.ConfigPath}, spec.Args)
	assert.Equal(t, p.Root, spec.WorkDir)
	assert.Equal(t, p.Root, spec.RootPath)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "/usr/bin/pglt", s.BinaryPath)
	assert.Equal(t, "/cache/tmp-bin/pglt-0.3.0", s.StagedPath)
	assert.Equal(t, "0.3.0", s.Version)
	assert.Equal(t, "0.3.0", s.ServerVersion())
	assert.Equal(t, p.Root, s.Root())
	assert.NotNil(t, s.Workspace)
}

func TestCreate_StagingFailureFallsBack(t *testing.T) {
	finder := &fakeFinder{result: discovery.Result{Path: "/usr/bin/pglt"}, ok: true}
	stager := &fakeStager{err: &staging.Error{Op: "copy", Path: "/usr/bin/pglt", Err: errors.New("disk full")}}
	launcher := &fakeLauncher{worker: newFakeWorker()}
	sv := &Supervisor{Finder: finder, Stager: stager, Launcher: launcher}

	s, err := sv.Create(context.Background(), testProject())
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "/usr/bin/pglt", launcher.specs[0].Command)
	assert.Empty(t, s.StagedPath)
}

func TestCreate_NotFound(t *testing.T) {
	notes := &prompt.Recorder{}
	launcher := &fakeLauncher{worker: newFakeWorker()}
	sv := &Supervisor{Finder: &fakeFinder{}, Launcher: launcher, Notifier: notes}

	s, err := sv.Create(context.Background(), testProject())
	assert.NoError(t, err)
	assert.Nil(t, s)
	assert.Empty(t, launcher.specs)

	msgs := notes.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, prompt.LevelError, msgs[0].Level)
	assert.Contains(t, msgs[0].Text, "pglt.bin")
}

func TestCreate_LaunchFailure(t *testing.T) {
	cause := &lsp.StartError{Command: "/usr/bin/pglt", Err: errors.New("exec format error")}
	sv := &Supervisor{
		Finder:   &fakeFinder{result: discovery.Result{Path: "/usr/bin/pglt"}, ok: true},
		Launcher: &fakeLauncher{err: cause},
	}

	s, err := sv.Create(context.Background(), testProject())
	assert.Nil(t, s)

	var lerr *LaunchError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "/usr/bin/pglt", lerr.Binary)
	assert.ErrorIs(t, err, cause)
}

func TestCreate_NoProject(t *testing.T) {
	finder := &fakeFinder{result: discovery.Result{Path: "/usr/bin/pglt"}, ok: true}
	launcher := &fakeLauncher{worker: newFakeWorker()}
	sv := &Supervisor{Finder: finder, Launcher: launcher}

	s, err := sv.Create(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Equal(t, []string{""}, finder.roots)
	assert.Equal(t, []string{"lsp-proxy"}, launcher.specs[0].Args)
	assert.Empty(t, launcher.specs[0].WorkDir)
	assert.Empty(t, s.Root())
}

func TestSelector_Exclusive(t *testing.T) {
	p := testProject()
	projectSel := Selector(p)
	unsavedSel := Selector(nil)

	file := lsp.FilePathToURI(filepath.Join(p.Root, "schema.sql"))
	untitled := lsp.DocumentURI("untitled:Untitled-1")

	assert.True(t, projectSel.Matches(file, LanguageID))
	assert.False(t, projectSel.Matches(untitled, LanguageID))
	assert.True(t, unsavedSel.Matches(untitled, LanguageID))
	assert.False(t, unsavedSel.Matches(file, LanguageID))
}

func TestDestroy(t *testing.T) {
	worker := newFakeWorker()
	sv := &Supervisor{
		Finder:   &fakeFinder{result: discovery.Result{Path: "/usr/bin/pglt"}, ok: true},
		Launcher: &fakeLauncher{worker: worker},
	}
	s, err := sv.Create(context.Background(), testProject())
	require.NoError(t, err)

	require.NoError(t, sv.Destroy(context.Background(), s))
	require.NoError(t, sv.Destroy(context.Background(), s))
	require.NoError(t, sv.Destroy(context.Background(), nil))

	assert.Equal(t, 1, worker.shutdowns)
	assert.Equal(t, 1, worker.closes)
	assert.True(t, s.Workspace.Destroyed())
}

func TestDestroy_StoppedWorker(t *testing.T) {
	worker := newFakeWorker()
	worker.running = false
	sv := &Supervisor{
		Finder:   &fakeFinder{result: discovery.Result{Path: "/usr/bin/pglt"}, ok: true},
		Launcher: &fakeLauncher{worker: worker},
	}
	s, err := sv.Create(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, sv.Destroy(context.Background(), s))
	assert.Zero(t, worker.shutdowns, "a stopped worker is not asked to shut down again")
}

func TestProcessLauncher_ServerConfig(t *testing.T) {
	l := ProcessLauncher{}
	cfg := l.serverConfig(LaunchSpec{
		Command:  "/bin/pglt",
		Args:     []string{"lsp-proxy", "--config-path", "/p/pglt.toml"},
		WorkDir:  "/p",
		RootPath: "/p",
	})
	assert.Equal(t, "/bin/pglt", cfg.Command)
	assert.Equal(t, "/p", cfg.WorkDir)
	assert.Equal(t, "/p", cfg.RootPath)
	assert.Equal(t, []string{"lsp-proxy", "--config-path", "/p/pglt.toml"}, cfg.Args)
}

func TestCreate_RefusesDocumentsOutsideRoot(t *testing.T) {
	finder := &fakeFinder{result: discovery.Result{Path: "/usr/bin/pglt"}, ok: true}
	worker := newFakeWorker()
	sv := &Supervisor{Finder: finder, Launcher: &fakeLauncher{worker: worker}}
	p := testProject()

	s, err := sv.Create(context.Background(), p)
	require.NoError(t, err)

	outside := filepath.FromSlash("/elsewhere/query.sql")
	assert.False(t, s.Serves(outside))

	ctx := context.Background()
	err = s.Workspace.OpenFile(ctx, workspace.OpenFileParams{Path: workspace.NewPath(outside), Content: "select 1;"})
	var scopeErr *workspace.ScopeError
	require.ErrorAs(t, err, &scopeErr)
	assert.Equal(t, outside, scopeErr.Path)
	assert.ErrorIs(t, err, workspace.ErrOutOfScope)

	_, err = s.Workspace.PullDiagnostics(ctx, workspace.PullDiagnosticsParams{Path: workspace.NewPath(outside)})
	assert.ErrorIs(t, err, workspace.ErrOutOfScope)
	_, err = s.Workspace.IsPathIgnored(ctx, workspace.IsPathIgnoredParams{PgtPath: workspace.NewPath(outside)})
	assert.ErrorIs(t, err, workspace.ErrOutOfScope)
	assert.Empty(t, worker.Methods(), "no request may reach the worker")
	assert.Empty(t, s.Workspace.Documents().Open())

	inside := filepath.Join(p.Root, "migrations", "001.sql")
	assert.True(t, s.Serves(inside))
	require.NoError(t, s.Workspace.OpenFile(ctx, workspace.OpenFileParams{Path: workspace.NewPath(inside), Content: "select 1;"}))
	assert.Equal(t, []string{workspace.MethodOpenFile}, worker.Methods())
}

func TestCreate_SingleFileModeServesUnsavedDocuments(t *testing.T) {
	finder := &fakeFinder{result: discovery.Result{Path: "/usr/bin/pglt"}, ok: true}
	sv := &Supervisor{Finder: finder, Launcher: &fakeLauncher{worker: newFakeWorker()}}

	s, err := sv.Create(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, s.Serves("untitled:Untitled-1"))
	assert.False(t, s.Serves(filepath.FromSlash("/work/app/query.sql")))
	assert.True(t, s.Workspace.Accepts("untitled:Untitled-1"))
}
