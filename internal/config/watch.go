package config

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Watcher observes the settings files and emits a ChangeEvent after each
// successful reload. Events are not debounced here; consumers coalesce.
type Watcher struct {
	manager *Manager
	logger  *log.Logger
	fsw     *fsnotify.Watcher
	files   map[string]bool
	dirs    map[string]bool

	events chan ChangeEvent
	errors chan error

	mu       sync.Mutex
	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// Watch starts observing the manager's settings files. The watcher stops
// when ctx is done or Close is called.
func (m *Manager) Watch(ctx context.Context) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		manager: m,
		logger:  m.logger.With("component", "config-watcher"),
		fsw:     fsw,
		files:   make(map[string]bool),
		dirs:    make(map[string]bool),
		events:  make(chan ChangeEvent, 16),
		errors:  make(chan error, 16),
		closeCh: make(chan struct{}),
	}

	for _, file := range m.Files() {
		abs, err := filepath.Abs(file)
		if err != nil {
			_ = fsw.Close()
			return nil, err
		}
		w.files[abs] = true
		w.addDir(filepath.Dir(abs))
	}
	if root := m.opts.FolderRoot; root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			w.addDir(abs)
		}
	}

	w.closedWg.Add(1)
	go w.processLoop(ctx)

	return w, nil
}

// addDir watches dir when it exists. fsnotify watches directories rather
// than files so that editors replacing a file by rename are still seen.
func (w *Watcher) addDir(dir string) {
	if w.dirs[dir] {
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Debug("not watching settings directory", "dir", dir, "err", err)
		return
	}
	w.dirs[dir] = true
}

// Events returns the reload channel. It is closed by Close.
func (w *Watcher) Events() <-chan ChangeEvent {
	return w.events
}

// Errors returns reload and watch errors. It is closed by Close.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Close stops watching. Safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	err := w.fsw.Close()
	w.closedWg.Wait()
	close(w.events)
	close(w.errors)
	return err
}

func (w *Watcher) processLoop(ctx context.Context) {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return
		case <-ctx.Done():
			go func() { _ = w.Close() }()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.forwardError(err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	name := filepath.Clean(ev.Name)

	// A folder settings directory created after startup.
	if ev.Has(fsnotify.Create) && filepath.Base(name) == FolderSettingsDir {
		w.addDir(name)
		return
	}

	if !w.files[name] {
		return
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
		!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}

	change, err := w.manager.Reload()
	if err != nil {
		w.logger.Warn("settings reload failed", "path", name, "err", err)
		w.forwardError(err)
		return
	}
	w.logger.Debug("settings reloaded", "path", name, "op", ev.Op.String())

	select {
	case w.events <- change:
	case <-w.closeCh:
	}
}

func (w *Watcher) forwardError(err error) {
	select {
	case w.errors <- err:
	case <-w.closeCh:
	default:
	}
}
