package lifecycle

import "sync"

// State is the supervisor's lifecycle state.
type State int

const (
	StateInitializing State = iota
	StateStarting
	StateStarted
	StateRestarting
	StateStopping
	StateStopped
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateRestarting:
		return "restarting"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Transitional reports whether the state is between stable states.
func (s State) Transitional() bool {
	switch s {
	case StateInitializing, StateStarting, StateRestarting, StateStopping:
		return true
	default:
		return false
	}
}

// Listener observes state changes.
type Listener func(old, new State)

// StateHolder owns the current state. Only the controller changes it;
// everyone else reads or subscribes.
type StateHolder struct {
	mu        sync.RWMutex
	state     State
	listeners map[int]Listener
	nextID    int
}

// State returns the current state.
func (h *StateHolder) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Subscribe registers fn for every later change and returns a function
// that removes it. Listeners run synchronously, in no particular order.
func (h *StateHolder) Subscribe(fn Listener) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listeners == nil {
		h.listeners = make(map[int]Listener)
	}
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

// set moves to s and notifies listeners. It returns the previous state.
func (h *StateHolder) set(s State) State {
	h.mu.Lock()
	old := h.state
	h.state = s
	listeners := make([]Listener, 0, len(h.listeners))
	for _, fn := range h.listeners {
		listeners = append(listeners, fn)
	}
	h.mu.Unlock()

	if old != s {
		for _, fn := range listeners {
			fn(old, s)
		}
	}
	return old
}
