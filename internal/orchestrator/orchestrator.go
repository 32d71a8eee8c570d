package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"datastack/internal/config"
	"datastack/internal/containerizer"
	"datastack/internal/dependency"
	"datastack/internal/reconciler"
	"datastack/internal/services"
	"datastack/pkg/logging"
)

// Runtime is the slice of the container runtime the orchestrator drives.
type Runtime interface {
	EnsureImage(ctx context.Context, ref string) error
	StartContainer(ctx context.Context, cfg containerizer.ContainerConfig) (string, error)
	StopContainer(ctx context.Context, handle string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, handle string) error
	InspectContainer(ctx context.Context, nameOrHandle string) (containerizer.ContainerInfo, error)
	Probe(ctx context.Context, handle string, check containerizer.HealthCheck) (bool, error)
}

// Config holds the orchestrator's runtime settings.
type Config struct {
	// Platform names the deployment and prefixes container names.
	Platform string

	// Network is the shared bridge network containers attach to.
	Network string

	// Workers bounds how many container start operations run at once.
	Workers int

	// RunTimeout bounds a whole Apply run.
	RunTimeout time.Duration

	// StopTimeout is the grace period for container shutdown.
	StopTimeout time.Duration
}

// StateChangeEvent is published whenever a service changes runtime state.
type StateChangeEvent struct {
	Name      string
	OldState  services.RuntimeState
	NewState  services.RuntimeState
	Error     error
	Timestamp time.Time
}

// Orchestrator executes reconciliation plans against the container
// runtime. It is the only component that transitions service states;
// everything else observes.
type Orchestrator struct {
	runtime Runtime
	table   *services.StateTable
	prober  *Prober
	cfg     Config

	mu          sync.RWMutex
	subscribers []chan<- StateChangeEvent
}

// New creates an orchestrator. It registers itself as the state table's
// change callback so every transition reaches event subscribers.
func New(runtime Runtime, table *services.StateTable, cfg Config) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = config.DefaultWorkers
	}

	o := &Orchestrator{
		runtime: runtime,
		table:   table,
		prober:  NewProber(runtime),
		cfg:     cfg,
	}

	table.SetStateChangeCallback(func(name string, oldState, newState services.RuntimeState, err error) {
		o.publishStateChange(name, oldState, newState, err)
	})

	return o
}

// SubscribeToStateChanges returns a channel receiving state change
// events. Slow subscribers miss events rather than blocking transitions.
func (o *Orchestrator) SubscribeToStateChanges() <-chan StateChangeEvent {
	eventChan := make(chan StateChangeEvent, 100)
	o.mu.Lock()
	o.subscribers = append(o.subscribers, eventChan)
	o.mu.Unlock()
	return eventChan
}

func (o *Orchestrator) publishStateChange(name string, oldState, newState services.RuntimeState, err error) {
	event := StateChangeEvent{
		Name:      name,
		OldState:  oldState,
		NewState:  newState,
		Error:     err,
		Timestamp: time.Now(),
	}

	o.mu.RLock()
	subscribers := make([]chan<- StateChangeEvent, len(o.subscribers))
	copy(subscribers, o.subscribers)
	o.mu.RUnlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			logging.Debug("orchestrator", "Subscriber blocked, dropping event for service %s", name)
		}
	}
}

// Apply executes a reconciliation plan. Stops run first, then starts and
// recreates run concurrently with dependency gating: a service's action
// begins only after all its dependencies are healthy. A failed service
// fails its transitive dependents but nothing else, so a run can succeed
// partially. The returned summary always covers every planned action.
func (o *Orchestrator) Apply(ctx context.Context, graph *dependency.Graph, plan reconciler.Plan) Summary {
	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	builder := newSummaryBuilder()
	logging.Info("orchestrator", "Applying plan with %d actions (run: %s)", plan.Len(), builder.summary.RunID)

	for _, action := range plan.Stop {
		builder.record(o.stopOrphan(ctx, action))
	}

	pending := make(map[string]reconciler.Action, len(plan.Start)+len(plan.Recreate)+len(plan.Await))
	for _, action := range plan.Recreate {
		pending[action.Service] = action
	}
	for _, action := range plan.Await {
		pending[action.Service] = action
	}
	for _, action := range plan.Start {
		pending[action.Service] = action
	}

	// ready[name] is closed once name's action finished (or was never
	// needed); the failed map marks outcomes dependents must not build on.
	ready := make(map[string]chan struct{}, graph.Len())
	for _, name := range graph.StartOrder() {
		ready[name] = make(chan struct{})
	}

	var failed sync.Map
	sem := semaphore.NewWeighted(int64(o.cfg.Workers))
	var wg sync.WaitGroup

	for _, name := range graph.StartOrder() {
		action, ok := pending[name]
		if !ok {
			// Observed healthy; dependents may proceed immediately.
			close(ready[name])
			continue
		}

		wg.Add(1)
		go func(action reconciler.Action) {
			defer wg.Done()
			builder.record(o.runAction(ctx, graph, action, ready, &failed, sem))
		}(action)
	}

	wg.Wait()
	summary := builder.finish()

	logging.Info("orchestrator", "Apply finished: %s (run: %s)", summary.String(), summary.RunID)
	return summary
}

// runAction waits for the action's dependencies, then starts or
// recreates the service's container and waits for it to become healthy.
func (o *Orchestrator) runAction(ctx context.Context, graph *dependency.Graph, action reconciler.Action, ready map[string]chan struct{}, failed *sync.Map, sem *semaphore.Weighted) Result {
	name := action.Service
	defer close(ready[name])

	fail := func(err error, skipped bool) Result {
		failed.Store(name, true)
		return Result{Service: name, Action: action.Type, Err: err, Skipped: skipped}
	}

	for _, dep := range graph.Dependencies(name) {
		select {
		case <-ready[dep]:
		case <-ctx.Done():
			o.table.Transition(name, services.StateFailed, ctx.Err())
			return fail(ctx.Err(), true)
		}

		if _, bad := failed.Load(dep); bad {
			err := &DependencyFailedError{Service: name, Dependency: dep}
			o.table.Transition(name, services.StateFailed, err)
			return fail(err, true)
		}
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		o.table.Transition(name, services.StateFailed, err)
		return fail(err, true)
	}
	defer sem.Release(1)

	start := time.Now()
	var err error
	if action.Type == reconciler.ActionAwait {
		err = o.awaitService(ctx, graph.Get(name).Spec)
	} else {
		err = o.startService(ctx, graph.Get(name).Spec)
	}
	if err != nil {
		return fail(err, false)
	}

	return Result{Service: name, Action: action.Type, Duration: time.Since(start)}
}

// awaitService waits for a container that is already starting to become
// healthy, without touching it. Dependents stay gated until then.
func (o *Orchestrator) awaitService(ctx context.Context, spec config.ServiceSpec) error {
	name := spec.Name

	handle := o.table.Get(name).Handle
	if handle == "" {
		// The observation that produced the await is gone; start fresh.
		return o.startService(ctx, spec)
	}

	if spec.HealthCheck == nil {
		o.table.Transition(name, services.StateHealthy, nil)
		return nil
	}

	if err := o.prober.WaitHealthy(ctx, name, handle, toHealthCheck(spec.HealthCheck)); err != nil {
		o.table.Transition(name, services.StateUnhealthy, err)
		return err
	}

	o.table.Transition(name, services.StateHealthy, nil)
	return nil
}

// startService brings one service's container up and waits for health.
// Any existing container under the service's name is stopped and removed
// first, so start and recreate share this path.
func (o *Orchestrator) startService(ctx context.Context, spec config.ServiceSpec) error {
	name := spec.Name
	o.table.Transition(name, services.StateStarting, nil)

	containerName := o.containerName(name)
	if info, err := o.runtime.InspectContainer(ctx, containerName); err == nil {
		// A running container gets its shutdown grace period before
		// removal, otherwise a recreate would kill it mid-write.
		if info.Running {
			if stopErr := o.runtime.StopContainer(ctx, info.ID, o.cfg.StopTimeout); stopErr != nil {
				logging.Warn("orchestrator", "Graceful stop of %s failed, removing anyway: %v", containerName, stopErr)
			}
		}
		if rmErr := o.runtime.RemoveContainer(ctx, info.ID); rmErr != nil {
			startErr := &ContainerStartError{Service: name, Err: rmErr}
			o.table.Transition(name, services.StateFailed, startErr)
			return startErr
		}
	} else if !containerizer.IsNotFound(err) {
		startErr := &ContainerStartError{Service: name, Err: err}
		o.table.Transition(name, services.StateFailed, startErr)
		return startErr
	}

	if err := o.runtime.EnsureImage(ctx, spec.Image); err != nil {
		startErr := &ContainerStartError{Service: name, Err: err}
		o.table.Transition(name, services.StateFailed, startErr)
		return startErr
	}

	handle, err := o.runtime.StartContainer(ctx, o.containerConfig(spec))
	if err != nil {
		startErr := &ContainerStartError{Service: name, Err: err}
		o.table.Transition(name, services.StateFailed, startErr)
		return startErr
	}
	o.table.SetHandle(name, handle, spec.Hash())

	if spec.HealthCheck == nil {
		o.table.Transition(name, services.StateHealthy, nil)
		return nil
	}

	if err := o.prober.WaitHealthy(ctx, name, handle, toHealthCheck(spec.HealthCheck)); err != nil {
		o.table.Transition(name, services.StateUnhealthy, err)
		return err
	}

	o.table.Transition(name, services.StateHealthy, nil)
	return nil
}

// stopOrphan stops the container of a service that is no longer desired.
func (o *Orchestrator) stopOrphan(ctx context.Context, action reconciler.Action) Result {
	name := action.Service
	start := time.Now()

	status := o.table.Get(name)
	if status.Handle == "" {
		return Result{Service: name, Action: action.Type}
	}

	if err := o.runtime.StopContainer(ctx, status.Handle, o.cfg.StopTimeout); err != nil {
		o.table.Transition(name, services.StateFailed, err)
		return Result{Service: name, Action: action.Type, Err: err}
	}

	o.table.Transition(name, services.StateStopped, nil)
	return Result{Service: name, Action: action.Type, Duration: time.Since(start)}
}

// StopAll stops every running service in reverse dependency order. Used
// by teardown; containers are kept so a later start reuses their state.
func (o *Orchestrator) StopAll(ctx context.Context, graph *dependency.Graph) Summary {
	return o.StopServices(ctx, graph, graph.StopOrder())
}

// StopServices stops the named services sequentially, ordered so that
// dependents shut down before their dependencies.
func (o *Orchestrator) StopServices(ctx context.Context, graph *dependency.Graph, names []string) Summary {
	builder := newSummaryBuilder()

	want := make(map[string]bool, len(names))
	for _, name := range names {
		want[name] = true
	}

	for _, name := range graph.StopOrder() {
		if !want[name] {
			continue
		}

		start := time.Now()
		status := o.table.Get(name)
		if status.Handle == "" || status.State == services.StateStopped || status.State == services.StateAbsent {
			continue
		}

		if err := o.runtime.StopContainer(ctx, status.Handle, o.cfg.StopTimeout); err != nil {
			o.table.Transition(name, services.StateFailed, err)
			builder.record(Result{Service: name, Action: reconciler.ActionStop, Err: err})
			continue
		}

		o.table.Transition(name, services.StateStopped, nil)
		builder.record(Result{Service: name, Action: reconciler.ActionStop, Duration: time.Since(start)})
	}

	summary := builder.finish()
	logging.Info("orchestrator", "Stop finished: %s", summary.String())
	return summary
}

func (o *Orchestrator) containerName(service string) string {
	return fmt.Sprintf("%s-%s", o.cfg.Platform, service)
}

func (o *Orchestrator) containerConfig(spec config.ServiceSpec) containerizer.ContainerConfig {
	cfg := containerizer.ContainerConfig{
		Name:    o.containerName(spec.Name),
		Image:   spec.Image,
		Env:     spec.Env,
		Ports:   spec.Ports,
		Volumes: spec.Volumes,
		Network: o.cfg.Network,
		Aliases: []string{spec.Name},
		Labels: map[string]string{
			containerizer.LabelPlatform: o.cfg.Platform,
			containerizer.LabelService:  spec.Name,
			containerizer.LabelSpecHash: spec.Hash(),
		},
		Memory: spec.Memory,
		CPU:    spec.CPU,
	}
	if spec.HealthCheck != nil {
		check := toHealthCheck(spec.HealthCheck)
		cfg.HealthCheck = &check
	}
	return cfg
}

func toHealthCheck(spec *config.HealthCheckSpec) containerizer.HealthCheck {
	return containerizer.HealthCheck{
		Protocol: containerizer.HealthCheckProtocol(spec.Protocol),
		Target:   spec.Target,
		Interval: spec.Interval,
		Timeout:  spec.Timeout,
		Retries:  spec.MaxAttempts,
	}
}
