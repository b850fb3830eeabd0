package workspace

import (
	"fmt"
	"sort"
	"sync"
)

// Documents tracks the files open in the worker and their versions.
type Documents struct {
	mu    sync.RWMutex
	files map[string]int32
	locks map[string]*pathLock
}

// pathLock serializes open, change and close of one path.
type pathLock struct {
	mu   sync.Mutex
	refs int
}

// NewDocuments returns an empty tracker.
func NewDocuments() *Documents {
	return &Documents{
		files: make(map[string]int32),
		locks: make(map[string]*pathLock),
	}
}

// lock holds path until the returned func is called. The tracker check,
// the worker request and the tracker update must all run under it.
func (d *Documents) lock(path string) (unlock func()) {
	d.mu.Lock()
	if d.locks == nil {
		d.locks = make(map[string]*pathLock)
	}
	l, ok := d.locks[path]
	if !ok {
		l = &pathLock{}
		d.locks[path] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, path)
		}
		d.mu.Unlock()
	}
}

// checkOpen validates an open of path.
func (d *Documents) checkOpen(path string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.files[path]; ok {
		return fmt.Errorf("%s: %w", path, ErrAlreadyOpen)
	}
	return nil
}

// checkChange validates a change of path to version.
func (d *Documents) checkChange(path string, version int32) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cur, ok := d.files[path]
	if !ok {
		return fmt.Errorf("%s: %w", path, ErrNotOpen)
	}
	if version <= cur {
		return fmt.Errorf("%s: version %d after %d: %w", path, version, cur, ErrStaleVersion)
	}
	return nil
}

// checkClose validates a close of path.
func (d *Documents) checkClose(path string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.files[path]; !ok {
		return fmt.Errorf("%s: %w", path, ErrNotOpen)
	}
	return nil
}

func (d *Documents) set(path string, version int32) {
	d.mu.Lock()
	d.files[path] = version
	d.mu.Unlock()
}

func (d *Documents) forget(path string) {
	d.mu.Lock()
	delete(d.files, path)
	d.mu.Unlock()
}

func (d *Documents) reset() {
	d.mu.Lock()
	d.files = make(map[string]int32)
	d.mu.Unlock()
}

// Version returns the last version sent for path.
func (d *Documents) Version(path string) (int32, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.files[path]
	return v, ok
}

// Open returns the open paths in sorted order.
func (d *Documents) Open() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	paths := make([]string, 0, len(d.files))
	for p := range d.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
