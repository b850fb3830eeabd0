package host

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pglt-supervisor/internal/config"
	"github.com/dshills/pglt-supervisor/internal/lifecycle"
	"github.com/dshills/pglt-supervisor/internal/lsp"
	"github.com/dshills/pglt-supervisor/internal/project"
	"github.com/dshills/pglt-supervisor/internal/prompt"
	"github.com/dshills/pglt-supervisor/internal/session"
)

type fakeLifecycle struct {
	mu       sync.Mutex
	calls    []string
	cleaners []lifecycle.Cleaner
	changes  []config.ChangeEvent
	state    lifecycle.State
	active   *session.Session
	project  *project.Project
}

func (f *fakeLifecycle) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeLifecycle) Start(context.Context)   { f.record("start") }
func (f *fakeLifecycle) Stop(context.Context)    { f.record("stop") }
func (f *fakeLifecycle) Restart(context.Context) { f.record("restart") }

func (f *fakeLifecycle) Reset(ctx context.Context, cleaners ...lifecycle.Cleaner) {
	f.record("reset")
	f.mu.Lock()
	f.cleaners = cleaners
	f.mu.Unlock()
	for _, clean := range cleaners {
		_ = clean(ctx)
	}
}

func (f *fakeLifecycle) OnConfigurationChange(ev config.ChangeEvent) {
	f.mu.Lock()
	f.changes = append(f.changes, ev)
	f.mu.Unlock()
}

func (f *fakeLifecycle) State() lifecycle.State          { return f.state }
func (f *fakeLifecycle) ActiveSession() *session.Session { return f.active }
func (f *fakeLifecycle) Project() *project.Project       { return f.project }

func (f *fakeLifecycle) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeLifecycle) Changes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.changes)
}

type fakeInstallation struct {
	version  string
	cleared  bool
	forgot   bool
	clearErr error
}

func (f *fakeInstallation) Downloaded(context.Context) (string, string, bool) {
	if f.version == "" {
		return "", "", false
	}
	return f.version, "/cache/pglt", true
}

func (f *fakeInstallation) Clear() error {
	f.cleared = true
	return f.clearErr
}

func (f *fakeInstallation) Forget(context.Context) error {
	f.forgot = true
	return nil
}

type fakeStager struct{ cleared bool }

func (f *fakeStager) Clear() error {
	f.cleared = true
	return nil
}

type fakeDownloader struct {
	path string
	err  error
	n    int
}

func (f *fakeDownloader) Download(context.Context) (string, error) {
	f.n++
	return f.path, f.err
}

type versionWorker struct{ version string }

func (w *versionWorker) Call(context.Context, string, any, any) error { return nil }
func (w *versionWorker) Close() error                                 { return nil }
func (w *versionWorker) Shutdown(context.Context) error               { return nil }
func (w *versionWorker) NeedsStop() bool                              { return false }
func (w *versionWorker) Done() <-chan error                           { return nil }
func (w *versionWorker) ServerInfo() *lsp.InitializeServerInfo {
	return &lsp.InitializeServerInfo{Name: "pglt", Version: w.version}
}

func TestHost_LifecycleCommands(t *testing.T) {
	lc := &fakeLifecycle{}
	h := New(Options{Lifecycle: lc})
	ctx := context.Background()

	require.NoError(t, h.Execute(ctx, CommandStart))
	require.NoError(t, h.Execute(ctx, CommandStop))
	require.NoError(t, h.Execute(ctx, CommandRestart))

	assert.Equal(t, []string{"start", "stop", "restart"}, lc.Calls())
}

func TestHost_UnknownCommand(t *testing.T) {
	h := New(Options{Lifecycle: &fakeLifecycle{}})

	err := h.Execute(context.Background(), "pglt.nope")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestHost_Commands(t *testing.T) {
	h := New(Options{Lifecycle: &fakeLifecycle{}})

	assert.Equal(t, []string{
		CommandCurrentVersion,
		CommandDownload,
		CommandReset,
		CommandRestart,
		CommandStart,
		CommandStop,
	}, h.Commands())
}

func TestHost_Reset(t *testing.T) {
	lc := &fakeLifecycle{}
	inst := &fakeInstallation{version: "0.3.0", clearErr: errors.New("busy")}
	stager := &fakeStager{}
	h := New(Options{Lifecycle: lc, Installation: inst, Stager: stager})

	require.NoError(t, h.Execute(context.Background(), CommandReset))

	assert.Equal(t, []string{"reset"}, lc.Calls())
	assert.Len(t, lc.cleaners, 3)
	assert.True(t, stager.cleared)
	assert.True(t, inst.cleared)
	assert.True(t, inst.forgot, "a failing cleaner must not stop the others")
}

func TestHost_CurrentVersion(t *testing.T) {
	tests := []struct {
		name string
		inst Installation
		want string
	}{
		{"none recorded", &fakeInstallation{}, "No PGLT version installed."},
		{"no installer", nil, "No PGLT version installed."},
		{"recorded", &fakeInstallation{version: "0.3.0"}, "Currently installed PGLT version is 0.3.0."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &prompt.Recorder{}
			h := New(Options{Lifecycle: &fakeLifecycle{}, Installation: tt.inst, Notifier: rec})

			require.NoError(t, h.Execute(context.Background(), CommandCurrentVersion))

			msgs := rec.Messages()
			require.Len(t, msgs, 1)
			assert.Equal(t, prompt.LevelInfo, msgs[0].Level)
			assert.Equal(t, tt.want, msgs[0].Text)
		})
	}
}

func TestHost_Download(t *testing.T) {
	d := &fakeDownloader{path: "/cache/pglt"}
	h := New(Options{Lifecycle: &fakeLifecycle{}, Downloader: d})

	require.NoError(t, h.Execute(context.Background(), CommandDownload))
	assert.Equal(t, 1, d.n)

	d.err = errors.New("network down")
	assert.EqualError(t, h.Execute(context.Background(), CommandDownload), "network down")
}

func TestHost_DownloadUnavailable(t *testing.T) {
	rec := &prompt.Recorder{}
	h := New(Options{Lifecycle: &fakeLifecycle{}, Notifier: rec})

	require.NoError(t, h.Execute(context.Background(), CommandDownload))
	require.Len(t, rec.Messages(), 1)
	assert.Equal(t, prompt.LevelError, rec.Messages()[0].Level)
}

func TestHost_RunForwardsChanges(t *testing.T) {
	lc := &fakeLifecycle{}
	h := New(Options{Lifecycle: lc})

	events := make(chan config.ChangeEvent)
	errs := make(chan error)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, events, errs)
		close(done)
	}()

	events <- config.ChangeEvent{}
	errs <- errors.New("watch failed")
	events <- config.ChangeEvent{}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 2, lc.Changes())
}

func TestHost_RunStopsWhenEventsClose(t *testing.T) {
	h := New(Options{Lifecycle: &fakeLifecycle{}})
	events := make(chan config.ChangeEvent)
	close(events)

	done := make(chan struct{})
	go func() {
		h.Run(context.Background(), events, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after events closed")
	}
}

func TestHost_FocusChanged(t *testing.T) {
	h := New(Options{Lifecycle: &fakeLifecycle{}})
	assert.True(t, h.Hidden())

	h.FocusChanged("sql")
	assert.False(t, h.Hidden())

	h.FocusChanged("go")
	assert.True(t, h.Hidden())

	h.FocusChanged("")
	assert.True(t, h.Hidden())
}

func TestHost_Status(t *testing.T) {
	proj := &project.Project{Root: "/work/db"}

	tests := []struct {
		name     string
		state    lifecycle.State
		project  *project.Project
		settings config.Source
		focus    string
		visible  bool
		tooltip  string
	}{
		{"running sql", lifecycle.StateStarted, proj, nil, "sql", true, "Up and running"},
		{"other language", lifecycle.StateStarted, proj, nil, "go", false, "Up and running"},
		{"no project", lifecycle.StateStarted, nil, nil, "sql", false, "Up and running"},
		{"disabled", lifecycle.StateStarted, proj, config.Map{"pglt": map[string]any{"enabled": false}}, "sql", false, "Up and running"},
		{"initializing", lifecycle.StateInitializing, proj, nil, "sql", true, "Initializing"},
		{"starting", lifecycle.StateStarting, proj, nil, "sql", true, "Starting"},
		{"restarting", lifecycle.StateRestarting, proj, nil, "sql", true, "Restarting"},
		{"stopping", lifecycle.StateStopping, proj, nil, "sql", true, "Stopping"},
		{"stopped", lifecycle.StateStopped, proj, nil, "sql", true, "Stopped"},
		{"error", lifecycle.StateError, proj, nil, "sql", true, "Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := &fakeLifecycle{state: tt.state, project: tt.project}
			h := New(Options{Lifecycle: lc, Settings: tt.settings})
			h.FocusChanged(tt.focus)

			st := h.Status()
			assert.Equal(t, tt.visible, st.Visible)
			assert.Equal(t, tt.tooltip, st.Tooltip)
			assert.Equal(t, StatusText, st.Text)
			if !tt.visible {
				assert.Empty(t, st.Render())
			}
		})
	}
}

func TestHost_StatusVersion(t *testing.T) {
	lc := &fakeLifecycle{
		state:   lifecycle.StateStarted,
		project: &project.Project{Root: "/work/db"},
		active:  &session.Session{ID: "s1", Worker: &versionWorker{version: "0.3.1"}},
	}
	h := New(Options{Lifecycle: lc})
	h.FocusChanged("sql")

	st := h.Status()
	assert.Equal(t, "0.3.1", st.Version)
	assert.Equal(t, "✓ PGLT 0.3.1", st.Label())
	assert.Contains(t, st.Render(), "PGLT 0.3.1")
}

func TestStatus_LabelWithoutVersion(t *testing.T) {
	st := Status{Icon: "✗", Text: StatusText}
	assert.Equal(t, "✗ PGLT", st.Label())
}
