package services

import "time"

// RuntimeState is the observed lifecycle state of a service.
type RuntimeState string

const (
	// StateAbsent means no container exists for the service.
	StateAbsent RuntimeState = "absent"
	// StateStarting means the container is up but not yet confirmed ready.
	StateStarting RuntimeState = "starting"
	// StateHealthy means the service passed its readiness probe.
	StateHealthy RuntimeState = "healthy"
	// StateUnhealthy means the probe exhausted its attempts without success.
	StateUnhealthy RuntimeState = "unhealthy"
	// StateStopped means a container exists but is not running.
	StateStopped RuntimeState = "stopped"
	// StateFailed means the last action on the service failed.
	StateFailed RuntimeState = "failed"
)

// IsTerminal reports whether a state ends an in-flight start action.
func (s RuntimeState) IsTerminal() bool {
	switch s {
	case StateHealthy, StateUnhealthy, StateFailed:
		return true
	default:
		return false
	}
}

// Status is a point-in-time snapshot of one service's runtime state.
type Status struct {
	Name      string
	State     RuntimeState
	Handle    string // container ID, empty when absent
	SpecHash  string // hash of the last applied spec, empty when never applied
	LastError error
	UpdatedAt time.Time
}

// StateChangeCallback is invoked by the StateTable after every state
// transition. Callbacks run outside the per-service lock.
type StateChangeCallback func(name string, oldState, newState RuntimeState, err error)
