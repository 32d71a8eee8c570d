package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datastack/internal/config"
	"datastack/internal/containerizer"
	"datastack/internal/dependency"
	"datastack/internal/reconciler"
	"datastack/internal/services"
	"datastack/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.InitForCLI(logging.LevelError, io.Discard)
	os.Exit(m.Run())
}

// fakeRuntime is an in-memory Runtime that records call order and lets
// tests inject start and probe failures.
type fakeRuntime struct {
	mu sync.Mutex

	started    []string
	stopped    []string
	removed    []string
	pulled     []string
	existing   map[string]containerizer.ContainerInfo
	failStart  map[string]error
	probeAfter map[string]int // attempts before the probe passes; -1 never passes
	probeCount map[string]int

	startDelay  time.Duration
	inFlight    int
	maxInFlight int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		existing:   make(map[string]containerizer.ContainerInfo),
		failStart:  make(map[string]error),
		probeAfter: make(map[string]int),
		probeCount: make(map[string]int),
	}
}

func (f *fakeRuntime) EnsureImage(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = append(f.pulled, ref)
	return nil
}

func (f *fakeRuntime) StartContainer(ctx context.Context, cfg containerizer.ContainerConfig) (string, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.startDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--

	service := cfg.Labels[containerizer.LabelService]
	if err, ok := f.failStart[service]; ok {
		return "", err
	}

	f.started = append(f.started, service)
	handle := "handle-" + service
	f.existing[cfg.Name] = containerizer.ContainerInfo{
		ID:      handle,
		Name:    cfg.Name,
		Running: true,
		Labels:  cfg.Labels,
	}
	return handle, nil
}

func (f *fakeRuntime) StopContainer(ctx context.Context, handle string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, handle)
	return nil
}

func (f *fakeRuntime) RemoveContainer(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, handle)
	for name, info := range f.existing {
		if info.ID == handle {
			delete(f.existing, name)
		}
	}
	return nil
}

func (f *fakeRuntime) InspectContainer(ctx context.Context, nameOrHandle string) (containerizer.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if info, ok := f.existing[nameOrHandle]; ok {
		return info, nil
	}
	return containerizer.ContainerInfo{}, fmt.Errorf("no such container %q: %w", nameOrHandle, errdefs.ErrNotFound)
}

func (f *fakeRuntime) Probe(ctx context.Context, handle string, check containerizer.HealthCheck) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	after, ok := f.probeAfter[handle]
	if !ok {
		return true, nil
	}
	if after < 0 {
		return false, nil
	}
	f.probeCount[handle]++
	return f.probeCount[handle] > after, nil
}

func (f *fakeRuntime) startOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

func testConfig() Config {
	return Config{
		Platform:    "local",
		Network:     "datastack",
		Workers:     4,
		RunTimeout:  30 * time.Second,
		StopTimeout: time.Second,
	}
}

func fastCheck() *config.HealthCheckSpec {
	return &config.HealthCheckSpec{
		Protocol:    config.HealthCheckTCP,
		Target:      "localhost:5432",
		Interval:    time.Millisecond,
		Timeout:     10 * time.Millisecond,
		MaxAttempts: 3,
	}
}

func buildTestGraph(t *testing.T, specs ...config.ServiceSpec) *dependency.Graph {
	t.Helper()
	graph, err := dependency.Build(specs)
	require.NoError(t, err)
	return graph
}

func TestApplyStartsInDependencyOrder(t *testing.T) {
	graph := buildTestGraph(t,
		config.ServiceSpec{Name: "db", Image: "postgres:16-alpine"},
		config.ServiceSpec{Name: "scheduler", Image: "airflow:2.9.3", DependsOn: []string{"db"}},
		config.ServiceSpec{Name: "notebook", Image: "jupyter:lab", DependsOn: []string{"scheduler"}},
	)

	runtime := newFakeRuntime()
	table := services.NewStateTable()
	orch := New(runtime, table, testConfig())

	plan := reconciler.BuildPlan(graph, nil)
	summary := orch.Apply(context.Background(), graph, plan)

	require.True(t, summary.Succeeded(), "summary: %s", summary.String())
	assert.Equal(t, []string{"db", "scheduler", "notebook"}, runtime.startOrder())
	assert.ElementsMatch(t, []string{"postgres:16-alpine", "airflow:2.9.3", "jupyter:lab"}, runtime.pulled)

	for _, name := range []string{"db", "scheduler", "notebook"} {
		assert.Equal(t, services.StateHealthy, table.State(name))
	}
}

func TestApplyEmptyPlan(t *testing.T) {
	graph := buildTestGraph(t, config.ServiceSpec{Name: "db", Image: "postgres:16-alpine"})
	orch := New(newFakeRuntime(), services.NewStateTable(), testConfig())

	summary := orch.Apply(context.Background(), graph, reconciler.Plan{})
	assert.Empty(t, summary.Results)
	assert.True(t, summary.Succeeded())
}

func TestApplyFailureIsolation(t *testing.T) {
	graph := buildTestGraph(t,
		config.ServiceSpec{Name: "db", Image: "postgres:16-alpine"},
		config.ServiceSpec{Name: "scheduler", Image: "airflow:2.9.3", DependsOn: []string{"db"}},
		config.ServiceSpec{Name: "notebook", Image: "jupyter:lab", DependsOn: []string{"scheduler"}},
		config.ServiceSpec{Name: "cache", Image: "redis:7"},
	)

	runtime := newFakeRuntime()
	runtime.failStart["db"] = errors.New("image pull failed")

	table := services.NewStateTable()
	orch := New(runtime, table, testConfig())

	summary := orch.Apply(context.Background(), graph, reconciler.BuildPlan(graph, nil))

	require.False(t, summary.Succeeded())
	succeeded, failed, skipped := summary.Counts()
	assert.Equal(t, 1, succeeded) // cache
	assert.Equal(t, 1, failed)    // db
	assert.Equal(t, 2, skipped)   // scheduler, notebook

	byService := make(map[string]Result)
	for _, res := range summary.Results {
		byService[res.Service] = res
	}

	assert.True(t, IsContainerStart(byService["db"].Err))
	assert.True(t, IsDependencyFailed(byService["scheduler"].Err))
	assert.True(t, IsDependencyFailed(byService["notebook"].Err))
	assert.NoError(t, byService["cache"].Err)

	assert.Equal(t, services.StateFailed, table.State("db"))
	assert.Equal(t, services.StateFailed, table.State("scheduler"))
	assert.Equal(t, services.StateHealthy, table.State("cache"))
}

func TestApplyHealthCheckTimeout(t *testing.T) {
	spec := config.ServiceSpec{Name: "db", Image: "postgres:16-alpine", HealthCheck: fastCheck()}
	graph := buildTestGraph(t, spec)

	runtime := newFakeRuntime()
	runtime.probeAfter["handle-db"] = -1 // never healthy

	table := services.NewStateTable()
	orch := New(runtime, table, testConfig())

	summary := orch.Apply(context.Background(), graph, reconciler.BuildPlan(graph, nil))

	require.False(t, summary.Succeeded())
	require.Len(t, summary.Results, 1)
	assert.True(t, IsHealthCheckTimeout(summary.Results[0].Err))
	assert.Equal(t, services.StateUnhealthy, table.State("db"))

	var timeoutErr *HealthCheckTimeoutError
	require.ErrorAs(t, summary.Results[0].Err, &timeoutErr)
	assert.Equal(t, 3, timeoutErr.Attempts)
}

func TestApplyProbeEventuallyPasses(t *testing.T) {
	spec := config.ServiceSpec{Name: "db", Image: "postgres:16-alpine", HealthCheck: fastCheck()}
	graph := buildTestGraph(t, spec)

	runtime := newFakeRuntime()
	runtime.probeAfter["handle-db"] = 2 // passes on third attempt

	table := services.NewStateTable()
	orch := New(runtime, table, testConfig())

	summary := orch.Apply(context.Background(), graph, reconciler.BuildPlan(graph, nil))
	require.True(t, summary.Succeeded(), "summary: %s", summary.String())
	assert.Equal(t, services.StateHealthy, table.State("db"))
}

func TestApplyRecreateRemovesOldContainer(t *testing.T) {
	spec := config.ServiceSpec{Name: "db", Image: "postgres:17-alpine"}
	graph := buildTestGraph(t, spec)

	runtime := newFakeRuntime()
	runtime.existing["local-db"] = containerizer.ContainerInfo{
		ID:      "stale-handle",
		Name:    "local-db",
		Running: true,
	}

	table := services.NewStateTable()
	orch := New(runtime, table, testConfig())

	plan := reconciler.Plan{Recreate: []reconciler.Action{
		{Service: "db", Type: reconciler.ActionRecreate, Reason: "spec changed"},
	}}

	summary := orch.Apply(context.Background(), graph, plan)
	require.True(t, summary.Succeeded())
	assert.Equal(t, []string{"stale-handle"}, runtime.stopped, "running container must be stopped gracefully before removal")
	assert.Equal(t, []string{"stale-handle"}, runtime.removed)
	assert.Equal(t, []string{"db"}, runtime.startOrder())

	status := table.Get("db")
	assert.Equal(t, "handle-db", status.Handle)
	assert.Equal(t, spec.Hash(), status.SpecHash)
}

func TestApplyStartSkipsStopForStoppedContainer(t *testing.T) {
	spec := config.ServiceSpec{Name: "db", Image: "postgres:16-alpine"}
	graph := buildTestGraph(t, spec)

	runtime := newFakeRuntime()
	runtime.existing["local-db"] = containerizer.ContainerInfo{
		ID:      "stale-handle",
		Name:    "local-db",
		Running: false,
	}

	orch := New(runtime, services.NewStateTable(), testConfig())

	plan := reconciler.Plan{Start: []reconciler.Action{
		{Service: "db", Type: reconciler.ActionStart, Reason: "stopped"},
	}}

	summary := orch.Apply(context.Background(), graph, plan)
	require.True(t, summary.Succeeded())
	assert.Empty(t, runtime.stopped)
	assert.Equal(t, []string{"stale-handle"}, runtime.removed)
}

func TestApplyAwaitGatesDependentsOnStartingService(t *testing.T) {
	dbSpec := config.ServiceSpec{Name: "db", Image: "postgres:16-alpine", HealthCheck: fastCheck()}
	graph := buildTestGraph(t,
		dbSpec,
		config.ServiceSpec{Name: "scheduler", Image: "airflow:2.9.3", DependsOn: []string{"db"}},
	)

	runtime := newFakeRuntime()
	runtime.probeAfter["db-ctr-1"] = 2 // health arrives on the third probe

	table := services.NewStateTable()
	table.Observe("db", services.StateStarting, "db-ctr-1", dbSpec.Hash())

	orch := New(runtime, table, testConfig())
	events := orch.SubscribeToStateChanges()

	plan := reconciler.BuildPlan(graph, table.Snapshot())
	require.Len(t, plan.Await, 1, "starting service must be awaited, plan: %s", plan.String())
	require.Len(t, plan.Start, 1)

	summary := orch.Apply(context.Background(), graph, plan)
	require.True(t, summary.Succeeded(), "summary: %s", summary.String())

	// The starting container is left alone, only the dependent starts.
	assert.Equal(t, []string{"scheduler"}, runtime.startOrder())
	assert.Empty(t, runtime.removed)
	assert.Equal(t, services.StateHealthy, table.State("db"))
	assert.Equal(t, services.StateHealthy, table.State("scheduler"))

	// The dependency reaches healthy before the dependent begins.
	var got []StateChangeEvent
	for len(got) < 3 {
		select {
		case e := <-events:
			got = append(got, e)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for events, have %d", len(got))
		}
	}
	assert.Equal(t, "db", got[0].Name)
	assert.Equal(t, services.StateHealthy, got[0].NewState)
	assert.Equal(t, "scheduler", got[1].Name)
	assert.Equal(t, services.StateStarting, got[1].NewState)
}

func TestApplyAwaitFailureSkipsDependents(t *testing.T) {
	dbSpec := config.ServiceSpec{Name: "db", Image: "postgres:16-alpine", HealthCheck: fastCheck()}
	graph := buildTestGraph(t,
		dbSpec,
		config.ServiceSpec{Name: "scheduler", Image: "airflow:2.9.3", DependsOn: []string{"db"}},
	)

	runtime := newFakeRuntime()
	runtime.probeAfter["db-ctr-1"] = -1 // never healthy

	table := services.NewStateTable()
	table.Observe("db", services.StateStarting, "db-ctr-1", dbSpec.Hash())

	orch := New(runtime, table, testConfig())
	summary := orch.Apply(context.Background(), graph, reconciler.BuildPlan(graph, table.Snapshot()))

	require.False(t, summary.Succeeded())

	byService := make(map[string]Result)
	for _, res := range summary.Results {
		byService[res.Service] = res
	}
	assert.True(t, IsHealthCheckTimeout(byService["db"].Err))
	assert.True(t, IsDependencyFailed(byService["scheduler"].Err))
	assert.Empty(t, runtime.startOrder())
	assert.Equal(t, services.StateUnhealthy, table.State("db"))
}

func TestApplyBoundsConcurrentStarts(t *testing.T) {
	specs := make([]config.ServiceSpec, 8)
	for i := range specs {
		specs[i] = config.ServiceSpec{Name: fmt.Sprintf("svc%d", i), Image: "img"}
	}
	graph := buildTestGraph(t, specs...)

	runtime := newFakeRuntime()
	runtime.startDelay = 20 * time.Millisecond

	cfg := testConfig()
	cfg.Workers = 2
	orch := New(runtime, services.NewStateTable(), cfg)

	summary := orch.Apply(context.Background(), graph, reconciler.BuildPlan(graph, nil))
	require.True(t, summary.Succeeded())
	assert.LessOrEqual(t, runtime.maxInFlight, 2)
}

func TestStopAllReverseOrder(t *testing.T) {
	graph := buildTestGraph(t,
		config.ServiceSpec{Name: "db", Image: "postgres:16-alpine"},
		config.ServiceSpec{Name: "scheduler", Image: "airflow:2.9.3", DependsOn: []string{"db"}},
	)

	runtime := newFakeRuntime()
	table := services.NewStateTable()
	table.Observe("db", services.StateHealthy, "handle-db", "h1")
	table.Observe("scheduler", services.StateHealthy, "handle-scheduler", "h2")

	orch := New(runtime, table, testConfig())
	summary := orch.StopAll(context.Background(), graph)

	require.True(t, summary.Succeeded())
	assert.Equal(t, []string{"handle-scheduler", "handle-db"}, runtime.stopped)
	assert.Equal(t, services.StateStopped, table.State("db"))
	assert.Equal(t, services.StateStopped, table.State("scheduler"))
}

func TestStopServicesSkipsNotRunning(t *testing.T) {
	graph := buildTestGraph(t,
		config.ServiceSpec{Name: "db", Image: "postgres:16-alpine"},
		config.ServiceSpec{Name: "dbt", Image: "dbt-postgres:1.8.0"},
	)

	runtime := newFakeRuntime()
	table := services.NewStateTable()
	table.Observe("db", services.StateHealthy, "handle-db", "h1")
	table.Observe("dbt", services.StateStopped, "handle-dbt", "h2")

	orch := New(runtime, table, testConfig())
	summary := orch.StopServices(context.Background(), graph, []string{"db", "dbt"})

	require.True(t, summary.Succeeded())
	assert.Equal(t, []string{"handle-db"}, runtime.stopped)
}

func TestApplyPublishesStateChangeEvents(t *testing.T) {
	graph := buildTestGraph(t, config.ServiceSpec{Name: "db", Image: "postgres:16-alpine"})

	runtime := newFakeRuntime()
	table := services.NewStateTable()
	orch := New(runtime, table, testConfig())

	events := orch.SubscribeToStateChanges()

	summary := orch.Apply(context.Background(), graph, reconciler.BuildPlan(graph, nil))
	require.True(t, summary.Succeeded())

	var got []StateChangeEvent
	for len(got) < 2 {
		select {
		case e := <-events:
			got = append(got, e)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for events, have %d", len(got))
		}
	}

	assert.Equal(t, services.StateStarting, got[0].NewState)
	assert.Equal(t, services.StateAbsent, got[0].OldState)
	assert.Equal(t, services.StateHealthy, got[1].NewState)
	assert.Equal(t, services.StateStarting, got[1].OldState)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestApplyOrphanStops(t *testing.T) {
	graph := buildTestGraph(t, config.ServiceSpec{Name: "db", Image: "postgres:16-alpine"})

	runtime := newFakeRuntime()
	table := services.NewStateTable()
	table.Observe("old-cache", services.StateHealthy, "handle-old-cache", "h9")

	orch := New(runtime, table, testConfig())

	plan := reconciler.Plan{Stop: []reconciler.Action{
		{Service: "old-cache", Type: reconciler.ActionStop, Reason: "no longer desired"},
	}}

	summary := orch.Apply(context.Background(), graph, plan)
	require.True(t, summary.Succeeded())
	assert.Equal(t, []string{"handle-old-cache"}, runtime.stopped)
	assert.Equal(t, services.StateStopped, table.State("old-cache"))
}
