package lifecycle

import (
	"sync"
	"time"
)

// Debouncer groups rapid calls into a single trailing call after a quiet
// period. The callback never runs concurrently with itself.
type Debouncer struct {
	mu       sync.Mutex
	clock    Clock
	delay    time.Duration
	timer    Timer
	pending  bool
	seq      uint64
	callback func()

	runMu sync.Mutex
}

// NewDebouncer returns a debouncer that runs callback once calls have
// stopped for delay.
func NewDebouncer(clock Clock, delay time.Duration, callback func()) *Debouncer {
	if clock == nil {
		clock = RealClock()
	}
	return &Debouncer{
		clock:    clock,
		delay:    delay,
		callback: callback,
	}
}

// Call schedules the callback, pushing back any call already scheduled.
func (d *Debouncer) Call() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = true
	d.seq++
	seq := d.seq

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clock.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if !d.pending || d.seq != seq {
			d.mu.Unlock()
			return
		}
		d.pending = false
		d.timer = nil
		d.mu.Unlock()

		d.runMu.Lock()
		defer d.runMu.Unlock()
		d.callback()
	})
}

// Cancel drops any scheduled call.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	d.pending = false
}

// IsPending reports whether a call is scheduled.
func (d *Debouncer) IsPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}
