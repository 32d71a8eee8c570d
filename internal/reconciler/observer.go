package reconciler

import (
	"context"
	"fmt"

	"datastack/internal/containerizer"
	"datastack/internal/services"
	"datastack/pkg/logging"
)

// ContainerLister is the slice of the container runtime the observer
// needs: enumerating the containers this platform manages.
type ContainerLister interface {
	ListContainers(ctx context.Context, labels map[string]string) ([]containerizer.ContainerInfo, error)
}

// Observer synchronizes the state table with what the container engine
// actually reports. It writes observed states only and never triggers
// state change notifications.
type Observer struct {
	runtime  ContainerLister
	table    *services.StateTable
	platform string
}

// NewObserver creates an observer for the named platform. The platform
// name selects containers via the label stamped on them at creation.
func NewObserver(runtime ContainerLister, table *services.StateTable, platform string) *Observer {
	return &Observer{
		runtime:  runtime,
		table:    table,
		platform: platform,
	}
}

// Observe lists the platform's containers and records each service's
// runtime state. Desired services without a container are recorded as
// absent so a following BuildPlan sees them.
func (o *Observer) Observe(ctx context.Context, desired []string) error {
	infos, err := o.runtime.ListContainers(ctx, map[string]string{
		containerizer.LabelPlatform: o.platform,
	})
	if err != nil {
		return fmt.Errorf("observe containers: %w", err)
	}

	seen := make(map[string]bool, len(infos))
	for _, info := range infos {
		name := info.Labels[containerizer.LabelService]
		if name == "" {
			// Not ours despite the platform label; leave it alone.
			logging.Warn("reconciler", "Container %s carries no service label, ignoring", info.Name)
			continue
		}
		seen[name] = true
		o.table.Observe(name, stateFromInfo(info), info.ID, info.SpecHash())
	}

	for _, name := range desired {
		if !seen[name] {
			o.table.Observe(name, services.StateAbsent, "", "")
		}
	}

	logging.Debug("reconciler", "Observed %d container(s) for platform %s", len(infos), o.platform)
	return nil
}

// stateFromInfo maps the engine's view of a container onto a runtime
// state. Containers without a native healthcheck count as healthy while
// running; protocol probes refine that during orchestration.
func stateFromInfo(info containerizer.ContainerInfo) services.RuntimeState {
	if !info.Running {
		return services.StateStopped
	}
	switch info.Health {
	case containerizer.HealthStarting:
		return services.StateStarting
	case containerizer.HealthUnhealthy:
		return services.StateUnhealthy
	default:
		return services.StateHealthy
	}
}
