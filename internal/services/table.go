package services

import (
	"sync"
	"time"
)

// StateTable is the single owned table of observed runtime state. It is the
// only mutable structure shared between the orchestrator, the health prober
// and readers such as the status command.
//
// The table map itself is guarded by one lock; each service entry carries its
// own lock so concurrent transitions on different services never contend, and
// dependency checks never race with a transition on the same service.
type StateTable struct {
	mu      sync.RWMutex
	entries map[string]*tableEntry

	cbMu     sync.RWMutex
	callback StateChangeCallback
}

type tableEntry struct {
	mu        sync.Mutex
	name      string
	state     RuntimeState
	handle    string
	specHash  string
	lastError error
	updatedAt time.Time
}

// NewStateTable returns an empty table.
func NewStateTable() *StateTable {
	return &StateTable{entries: make(map[string]*tableEntry)}
}

// SetStateChangeCallback registers the callback invoked after transitions.
// The orchestrator uses this to publish its event stream.
func (t *StateTable) SetStateChangeCallback(cb StateChangeCallback) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.callback = cb
}

func (t *StateTable) entry(name string) *tableEntry {
	t.mu.RLock()
	e, ok := t.entries[name]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.entries[name]; ok {
		return e
	}
	e = &tableEntry{name: name, state: StateAbsent, updatedAt: time.Now()}
	t.entries[name] = e
	return e
}

// Observe records an externally observed state without treating it as a
// transition: no callback fires. Used when reading back reality from the
// container runtime before reconciliation.
func (t *StateTable) Observe(name string, state RuntimeState, handle, specHash string) {
	e := t.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
	e.handle = handle
	e.specHash = specHash
	e.lastError = nil
	e.updatedAt = time.Now()
}

// Transition moves a service to a new state and fires the state change
// callback. It returns the previous state.
func (t *StateTable) Transition(name string, state RuntimeState, err error) RuntimeState {
	e := t.entry(name)

	e.mu.Lock()
	oldState := e.state
	e.state = state
	e.lastError = err
	e.updatedAt = time.Now()
	t.cbMu.RLock()
	cb := t.callback
	t.cbMu.RUnlock()
	e.mu.Unlock()

	// Callback runs outside the entry lock to avoid deadlocks when the
	// subscriber reads the table.
	if cb != nil && oldState != state {
		cb(name, oldState, state, err)
	}
	return oldState
}

// SetHandle records the container handle and spec hash for a service.
func (t *StateTable) SetHandle(name, handle, specHash string) {
	e := t.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handle = handle
	e.specHash = specHash
}

// Get returns the current snapshot for a service. Unknown services report
// StateAbsent.
func (t *StateTable) Get(name string) Status {
	e := t.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Name:      e.name,
		State:     e.state,
		Handle:    e.handle,
		SpecHash:  e.specHash,
		LastError: e.lastError,
		UpdatedAt: e.updatedAt,
	}
}

// State returns just the current state for a service.
func (t *StateTable) State(name string) RuntimeState {
	return t.Get(name).State
}

// Snapshot returns a copy of all known statuses keyed by name.
func (t *StateTable) Snapshot() map[string]Status {
	t.mu.RLock()
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	t.mu.RUnlock()

	snap := make(map[string]Status, len(names))
	for _, name := range names {
		snap[name] = t.Get(name)
	}
	return snap
}

// Forget drops a service from the table. Used when a service is removed from
// the graph and torn down.
func (t *StateTable) Forget(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, name)
}
