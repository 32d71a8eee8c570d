package app

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"datastack/internal/containerizer"
	"datastack/internal/orchestrator"
	"datastack/internal/reconciler"
	"datastack/internal/services"
	"datastack/pkg/logging"
)

// Plan observes the runtime and computes the reconciliation plan without
// applying it.
func (a *Application) Plan(ctx context.Context) (reconciler.Plan, error) {
	if err := a.ConnectRuntime(ctx); err != nil {
		return reconciler.Plan{}, err
	}
	if err := a.observer.Observe(ctx, a.Graph.StartOrder()); err != nil {
		return reconciler.Plan{}, err
	}
	return reconciler.BuildPlan(a.Graph, a.Table.Snapshot()), nil
}

// Up converges the deployment: provisions the network and volumes,
// observes runtime state, computes the plan, and applies it. The summary
// reports per-service outcomes; partial success is possible.
func (a *Application) Up(ctx context.Context) (orchestrator.Summary, error) {
	if err := a.ConnectRuntime(ctx); err != nil {
		return orchestrator.Summary{}, err
	}

	if err := a.provision(ctx); err != nil {
		return orchestrator.Summary{}, err
	}

	if err := a.observer.Observe(ctx, a.Graph.StartOrder()); err != nil {
		return orchestrator.Summary{}, err
	}

	plan := reconciler.BuildPlan(a.Graph, a.Table.Snapshot())
	if plan.Empty() {
		logging.Info("app", "All services converged, nothing to do")
		return orchestrator.Summary{StartedAt: time.Now()}, a.saveState()
	}

	summary := a.orchestrator.Apply(ctx, a.Graph, plan)
	if err := a.saveState(); err != nil {
		logging.Warn("app", "Could not persist state: %v", err)
	}
	return summary, nil
}

// Down stops all running services in reverse dependency order.
// Containers are stopped but kept, so a later up resumes quickly.
func (a *Application) Down(ctx context.Context) (orchestrator.Summary, error) {
	if err := a.ConnectRuntime(ctx); err != nil {
		return orchestrator.Summary{}, err
	}
	if err := a.observer.Observe(ctx, a.Graph.StartOrder()); err != nil {
		return orchestrator.Summary{}, err
	}

	summary := a.orchestrator.StopAll(ctx, a.Graph)
	if err := a.saveState(); err != nil {
		logging.Warn("app", "Could not persist state: %v", err)
	}
	return summary, nil
}

// StartServices brings up the named services, first making sure their
// transitive dependencies are healthy.
func (a *Application) StartServices(ctx context.Context, names []string) (orchestrator.Summary, error) {
	closure, err := a.dependencyClosure(names)
	if err != nil {
		return orchestrator.Summary{}, err
	}

	if err := a.ConnectRuntime(ctx); err != nil {
		return orchestrator.Summary{}, err
	}
	if err := a.provision(ctx); err != nil {
		return orchestrator.Summary{}, err
	}
	if err := a.observer.Observe(ctx, a.Graph.StartOrder()); err != nil {
		return orchestrator.Summary{}, err
	}

	plan := reconciler.BuildPlan(a.Graph, a.Table.Snapshot())

	// Keep only actions for the requested services and their
	// dependencies; a targeted start must not stop anything.
	filtered := reconciler.Plan{ComputedAt: plan.ComputedAt}
	for _, action := range plan.Start {
		if closure[action.Service] {
			filtered.Start = append(filtered.Start, action)
		}
	}
	for _, action := range plan.Recreate {
		if closure[action.Service] {
			filtered.Recreate = append(filtered.Recreate, action)
		}
	}
	for _, action := range plan.Await {
		if closure[action.Service] {
			filtered.Await = append(filtered.Await, action)
		}
	}

	summary := a.orchestrator.Apply(ctx, a.Graph, filtered)
	if err := a.saveState(); err != nil {
		logging.Warn("app", "Could not persist state: %v", err)
	}
	return summary, nil
}

// StopServicesByName stops only the named services. Their dependents
// keep running; the containers stay around for a later start.
func (a *Application) StopServicesByName(ctx context.Context, names []string) (orchestrator.Summary, error) {
	for _, name := range names {
		if a.Graph.Get(name) == nil {
			return orchestrator.Summary{}, fmt.Errorf("unknown service %q", name)
		}
	}

	if err := a.ConnectRuntime(ctx); err != nil {
		return orchestrator.Summary{}, err
	}
	if err := a.observer.Observe(ctx, a.Graph.StartOrder()); err != nil {
		return orchestrator.Summary{}, err
	}

	summary := a.orchestrator.StopServices(ctx, a.Graph, names)
	if err := a.saveState(); err != nil {
		logging.Warn("app", "Could not persist state: %v", err)
	}
	return summary, nil
}

// ServiceStatusView is one row of status output.
type ServiceStatusView struct {
	Name      string
	Image     string
	State     services.RuntimeState
	Handle    string
	LastError string
	UpdatedAt time.Time
}

// Status reports each service's runtime state. It prefers live data
// from the container engine and falls back to the last persisted state
// when the engine is unreachable. The second return value is true for
// live data.
func (a *Application) Status(ctx context.Context) ([]ServiceStatusView, bool, error) {
	if err := a.ConnectRuntime(ctx); err != nil {
		logging.Warn("app", "Container engine unreachable, using saved state: %v", err)
		views, loadErr := a.savedStatus()
		return views, false, loadErr
	}

	if err := a.observer.Observe(ctx, a.Graph.StartOrder()); err != nil {
		return nil, false, err
	}
	return a.liveStatus(), true, nil
}

func (a *Application) liveStatus() []ServiceStatusView {
	snapshot := a.Table.Snapshot()
	views := make([]ServiceStatusView, 0, len(snapshot))

	seen := make(map[string]bool, len(snapshot))
	for _, name := range a.Config.Services.Names() {
		spec, _ := a.Config.Services.Get(name)
		if !spec.IsEnabled() {
			continue
		}
		seen[name] = true

		status := snapshot[name]
		view := ServiceStatusView{
			Name:      name,
			Image:     spec.Image,
			State:     status.State,
			Handle:    status.Handle,
			UpdatedAt: status.UpdatedAt,
		}
		if view.State == "" {
			view.State = services.StateAbsent
		}
		if status.LastError != nil {
			view.LastError = status.LastError.Error()
		}
		views = append(views, view)
	}

	// Leftover containers from a previous configuration.
	var orphans []string
	for name := range snapshot {
		if !seen[name] {
			orphans = append(orphans, name)
		}
	}
	sort.Strings(orphans)
	for _, name := range orphans {
		status := snapshot[name]
		view := ServiceStatusView{
			Name:      name,
			State:     status.State,
			Handle:    status.Handle,
			UpdatedAt: status.UpdatedAt,
		}
		if status.LastError != nil {
			view.LastError = status.LastError.Error()
		}
		views = append(views, view)
	}

	return views
}

func (a *Application) savedStatus() ([]ServiceStatusView, error) {
	snapshot, err := a.Store.Load()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(snapshot.Services))
	for name := range snapshot.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	views := make([]ServiceStatusView, 0, len(names))
	for _, name := range names {
		record := snapshot.Services[name]
		spec, _ := a.Config.Services.Get(name)
		views = append(views, ServiceStatusView{
			Name:      name,
			Image:     spec.Image,
			State:     record.State,
			Handle:    record.Handle,
			LastError: record.LastError,
			UpdatedAt: record.UpdatedAt,
		})
	}
	return views, nil
}

// Logs streams a service's container logs to stdout and stderr.
func (a *Application) Logs(ctx context.Context, service string, follow bool) error {
	if a.Graph.Get(service) == nil {
		return fmt.Errorf("unknown service %q", service)
	}
	if err := a.ConnectRuntime(ctx); err != nil {
		return err
	}

	containerName := fmt.Sprintf("%s-%s", a.Config.Platform.Name, service)
	info, err := a.runtime.InspectContainer(ctx, containerName)
	if err != nil {
		if containerizer.IsNotFound(err) {
			return fmt.Errorf("service %q has no container; run up first", service)
		}
		return err
	}

	rc, err := a.runtime.ContainerLogs(ctx, info.ID, follow)
	if err != nil {
		return err
	}
	defer rc.Close()

	return containerizer.DemuxLogs(os.Stdout, os.Stderr, rc)
}

// Watch re-applies the deployment whenever the configuration changes on
// disk. It blocks until the context is cancelled.
func (a *Application) Watch(ctx context.Context) error {
	if err := a.ConnectRuntime(ctx); err != nil {
		return err
	}

	detector := reconciler.NewConfigDetector(a.WatchedFiles(), 0)
	changes := make(chan reconciler.ChangeEvent, 8)
	if err := detector.Start(ctx, changes); err != nil {
		return err
	}
	defer detector.Stop()

	// The orchestrator is rebuilt on reload, so the event subscription
	// has to be re-established alongside it.
	stopEvents := a.logStateChanges(ctx)
	defer func() { stopEvents() }()

	// Converge once before waiting for edits.
	if summary, err := a.Up(ctx); err != nil {
		return err
	} else if !summary.Succeeded() {
		logging.Warn("app", "Initial apply incomplete: %s", summary.String())
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event := <-changes:
			logging.Info("app", "Configuration changed (%s), re-applying", event.Path)
			if err := a.Reload(); err != nil {
				logging.Error("app", err, "New configuration rejected, keeping previous state")
				continue
			}
			stopEvents()
			stopEvents = a.logStateChanges(ctx)
			summary, err := a.Up(ctx)
			if err != nil {
				logging.Error("app", err, "Re-apply failed")
				continue
			}
			if !summary.Succeeded() {
				logging.Warn("app", "Re-apply incomplete: %s", summary.String())
			}
		}
	}
}

// logStateChanges forwards orchestrator state change events to the log
// until the returned stop function is called or the context ends.
func (a *Application) logStateChanges(ctx context.Context) (stop func()) {
	events := a.orchestrator.SubscribeToStateChanges()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case event := <-events:
				logging.Info("app", "Service %s: %s -> %s", event.Name, event.OldState, event.NewState)
			}
		}
	}()
	return func() { close(done) }
}

// provision makes sure the shared network and all named volumes exist.
func (a *Application) provision(ctx context.Context) error {
	if err := a.runtime.EnsureNetwork(ctx, a.Config.Runtime.Network); err != nil {
		return err
	}

	for _, spec := range a.Config.Services.Enabled() {
		for _, volume := range spec.Volumes {
			source, _, ok := strings.Cut(volume, ":")
			if !ok || source == "" {
				continue
			}
			// Path sources are bind mounts, nothing to create.
			if strings.HasPrefix(source, "/") || strings.HasPrefix(source, ".") {
				continue
			}
			if err := a.runtime.EnsureVolume(ctx, source); err != nil {
				return err
			}
		}
	}
	return nil
}

// dependencyClosure returns the named services plus every transitive
// dependency.
func (a *Application) dependencyClosure(names []string) (map[string]bool, error) {
	closure := make(map[string]bool)
	var walk func(name string) error
	walk = func(name string) error {
		if closure[name] {
			return nil
		}
		if a.Graph.Get(name) == nil {
			return fmt.Errorf("unknown service %q", name)
		}
		closure[name] = true
		for _, dep := range a.Graph.Dependencies(name) {
			if err := walk(dep); err != nil {
				return err
			}
		}
		return nil
	}

	for _, name := range names {
		if err := walk(name); err != nil {
			return nil, err
		}
	}
	return closure, nil
}

func (a *Application) saveState() error {
	return a.Store.Save(a.Config.Platform.Name, a.Table.Snapshot())
}
