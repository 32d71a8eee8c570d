package reconciler

import (
	"fmt"
	"strings"
	"time"
)

// ActionType classifies a single reconciliation action.
type ActionType string

const (
	// ActionStart creates and starts a container for a service that has
	// none, or restarts one that is stopped.
	ActionStart ActionType = "start"

	// ActionStop stops the container of a service that is no longer
	// desired (removed from config or disabled).
	ActionStop ActionType = "stop"

	// ActionRecreate removes an existing container and starts a fresh
	// one, used when the service spec changed or the container went
	// unhealthy.
	ActionRecreate ActionType = "recreate"

	// ActionAwait waits for a container that is already starting to
	// become healthy, so dependents are not released early.
	ActionAwait ActionType = "await"
)

// Action is one unit of work the orchestrator must carry out to move a
// service toward its desired state.
type Action struct {
	// Service is the service name the action applies to.
	Service string

	// Type is what to do.
	Type ActionType

	// Reason is a human-readable explanation for status output and logs.
	Reason string
}

func (a Action) String() string {
	return fmt.Sprintf("%s %s (%s)", a.Type, a.Service, a.Reason)
}

// Plan is the full set of actions produced by one reconciliation pass.
// A plan computed against a converged deployment is empty.
type Plan struct {
	// Start holds start actions in dependency order.
	Start []Action

	// Recreate holds recreate actions in dependency order.
	Recreate []Action

	// Await holds actions for containers observed mid-startup, in
	// dependency order. They carry no container work but hold back
	// dependents until health is confirmed.
	Await []Action

	// Stop holds stop actions for services that are running but no
	// longer desired, in deterministic name order.
	Stop []Action

	// ComputedAt is when the plan was built.
	ComputedAt time.Time
}

// Empty reports whether the plan requires no work.
func (p Plan) Empty() bool {
	return len(p.Start) == 0 && len(p.Recreate) == 0 && len(p.Await) == 0 && len(p.Stop) == 0
}

// Len returns the total number of actions in the plan.
func (p Plan) Len() int {
	return len(p.Start) + len(p.Recreate) + len(p.Await) + len(p.Stop)
}

// Actions returns all actions as one slice, stops first, then recreates,
// then awaits and starts. This matches the order in which they should be
// applied.
func (p Plan) Actions() []Action {
	actions := make([]Action, 0, p.Len())
	actions = append(actions, p.Stop...)
	actions = append(actions, p.Recreate...)
	actions = append(actions, p.Await...)
	actions = append(actions, p.Start...)
	return actions
}

func (p Plan) String() string {
	if p.Empty() {
		return "plan: nothing to do"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("plan: %d action(s)", p.Len()))
	for _, a := range p.Actions() {
		b.WriteString("\n  ")
		b.WriteString(a.String())
	}
	return b.String()
}
