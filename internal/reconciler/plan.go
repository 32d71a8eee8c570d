package reconciler

import (
	"sort"
	"time"

	"datastack/internal/dependency"
	"datastack/internal/services"
	"datastack/pkg/logging"
)

// BuildPlan diffs the desired deployment (the dependency graph of
// enabled services) against the observed runtime state and returns the
// actions needed to converge.
//
// The policy is:
//   - no container, or a stopped one with an unchanged spec: start
//   - running container whose recorded spec hash differs: recreate
//   - unhealthy container: recreate
//   - container still starting with an unchanged spec: await health, so
//     dependents are not released before it is actually healthy
//   - failed service: start again (recreate when its spec also changed)
//   - container for a service that is gone or disabled: stop
//
// Running BuildPlan against a converged deployment yields an empty plan.
func BuildPlan(graph *dependency.Graph, observed map[string]services.Status) Plan {
	plan := Plan{ComputedAt: time.Now()}

	desired := make(map[string]bool, graph.Len())
	for _, name := range graph.StartOrder() {
		desired[name] = true

		node := graph.Get(name)
		status := observed[name]
		wantHash := node.Spec.Hash()
		specChanged := status.SpecHash != "" && status.SpecHash != wantHash

		switch status.State {
		case services.StateHealthy:
			if specChanged {
				plan.Recreate = append(plan.Recreate, Action{
					Service: name, Type: ActionRecreate, Reason: "spec changed",
				})
			}

		case services.StateStarting:
			if specChanged {
				plan.Recreate = append(plan.Recreate, Action{
					Service: name, Type: ActionRecreate, Reason: "spec changed",
				})
				continue
			}
			plan.Await = append(plan.Await, Action{
				Service: name, Type: ActionAwait, Reason: "still starting",
			})

		case services.StateUnhealthy:
			reason := "unhealthy"
			if specChanged {
				reason = "spec changed"
			}
			plan.Recreate = append(plan.Recreate, Action{
				Service: name, Type: ActionRecreate, Reason: reason,
			})

		case services.StateStopped, services.StateFailed:
			if specChanged {
				plan.Recreate = append(plan.Recreate, Action{
					Service: name, Type: ActionRecreate, Reason: "spec changed",
				})
				continue
			}
			reason := "stopped"
			if status.State == services.StateFailed {
				reason = "previous start failed"
			}
			plan.Start = append(plan.Start, Action{
				Service: name, Type: ActionStart, Reason: reason,
			})

		default: // absent or never observed
			plan.Start = append(plan.Start, Action{
				Service: name, Type: ActionStart, Reason: "not running",
			})
		}
	}

	// Containers for services that are no longer part of the deployment.
	var orphans []string
	for name, status := range observed {
		if desired[name] {
			continue
		}
		switch status.State {
		case services.StateStarting, services.StateHealthy, services.StateUnhealthy:
			orphans = append(orphans, name)
		}
	}
	sort.Strings(orphans)
	for _, name := range orphans {
		plan.Stop = append(plan.Stop, Action{
			Service: name, Type: ActionStop, Reason: "no longer desired",
		})
	}

	logging.Debug("reconciler", "Computed plan: %d start, %d recreate, %d await, %d stop",
		len(plan.Start), len(plan.Recreate), len(plan.Await), len(plan.Stop))
	return plan
}
