package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datastack/internal/config"
	"datastack/internal/dependency"
	"datastack/internal/services"
)

func testGraph(t *testing.T, specs ...config.ServiceSpec) *dependency.Graph {
	t.Helper()
	graph, err := dependency.Build(specs)
	require.NoError(t, err)
	return graph
}

func TestBuildPlanFreshDeployment(t *testing.T) {
	graph := testGraph(t,
		config.ServiceSpec{Name: "db", Image: "postgres:16-alpine"},
		config.ServiceSpec{Name: "scheduler", Image: "airflow:2.9.3", DependsOn: []string{"db"}},
	)

	plan := BuildPlan(graph, map[string]services.Status{})

	require.Len(t, plan.Start, 2)
	assert.Equal(t, "db", plan.Start[0].Service)
	assert.Equal(t, "scheduler", plan.Start[1].Service)
	assert.Empty(t, plan.Recreate)
	assert.Empty(t, plan.Stop)
}

func TestBuildPlanConvergedIsEmpty(t *testing.T) {
	spec := config.ServiceSpec{Name: "db", Image: "postgres:16-alpine"}
	graph := testGraph(t, spec)

	observed := map[string]services.Status{
		"db": {Name: "db", State: services.StateHealthy, SpecHash: spec.Hash()},
	}

	plan := BuildPlan(graph, observed)
	assert.True(t, plan.Empty())
	assert.Equal(t, 0, plan.Len())
}

func TestBuildPlanSpecChangeRecreates(t *testing.T) {
	spec := config.ServiceSpec{Name: "db", Image: "postgres:17-alpine"}
	graph := testGraph(t, spec)

	observed := map[string]services.Status{
		"db": {Name: "db", State: services.StateHealthy, SpecHash: "stale-hash"},
	}

	plan := BuildPlan(graph, observed)
	require.Len(t, plan.Recreate, 1)
	assert.Equal(t, "db", plan.Recreate[0].Service)
	assert.Equal(t, "spec changed", plan.Recreate[0].Reason)
	assert.Empty(t, plan.Start)
}

func TestBuildPlanStartingIsAwaited(t *testing.T) {
	dbSpec := config.ServiceSpec{Name: "db", Image: "postgres:16-alpine"}
	graph := testGraph(t,
		dbSpec,
		config.ServiceSpec{Name: "scheduler", Image: "airflow:2.9.3", DependsOn: []string{"db"}},
	)

	observed := map[string]services.Status{
		"db": {Name: "db", State: services.StateStarting, SpecHash: dbSpec.Hash()},
	}

	plan := BuildPlan(graph, observed)

	// A container in its startup window is not converged yet; without an
	// await action the dependent would be released immediately.
	require.Len(t, plan.Await, 1)
	assert.Equal(t, "db", plan.Await[0].Service)
	assert.Equal(t, ActionAwait, plan.Await[0].Type)
	require.Len(t, plan.Start, 1)
	assert.Equal(t, "scheduler", plan.Start[0].Service)
	assert.Empty(t, plan.Recreate)
	assert.False(t, plan.Empty())
}

func TestBuildPlanStartingWithChangedSpecRecreates(t *testing.T) {
	spec := config.ServiceSpec{Name: "db", Image: "postgres:17-alpine"}
	graph := testGraph(t, spec)

	observed := map[string]services.Status{
		"db": {Name: "db", State: services.StateStarting, SpecHash: "stale-hash"},
	}

	plan := BuildPlan(graph, observed)
	require.Len(t, plan.Recreate, 1)
	assert.Equal(t, "db", plan.Recreate[0].Service)
	assert.Empty(t, plan.Await)
	assert.Empty(t, plan.Start)
}

func TestBuildPlanUnhealthyRecreates(t *testing.T) {
	spec := config.ServiceSpec{Name: "db", Image: "postgres:16-alpine"}
	graph := testGraph(t, spec)

	observed := map[string]services.Status{
		"db": {Name: "db", State: services.StateUnhealthy, SpecHash: spec.Hash()},
	}

	plan := BuildPlan(graph, observed)
	require.Len(t, plan.Recreate, 1)
	assert.Equal(t, "unhealthy", plan.Recreate[0].Reason)
}

func TestBuildPlanStoppedStarts(t *testing.T) {
	spec := config.ServiceSpec{Name: "db", Image: "postgres:16-alpine"}
	graph := testGraph(t, spec)

	observed := map[string]services.Status{
		"db": {Name: "db", State: services.StateStopped, SpecHash: spec.Hash()},
	}

	plan := BuildPlan(graph, observed)
	require.Len(t, plan.Start, 1)
	assert.Equal(t, "stopped", plan.Start[0].Reason)
}

func TestBuildPlanStoppedWithChangedSpecRecreates(t *testing.T) {
	spec := config.ServiceSpec{Name: "db", Image: "postgres:17-alpine"}
	graph := testGraph(t, spec)

	observed := map[string]services.Status{
		"db": {Name: "db", State: services.StateStopped, SpecHash: "stale-hash"},
	}

	plan := BuildPlan(graph, observed)
	require.Len(t, plan.Recreate, 1)
	assert.Empty(t, plan.Start)
}

func TestBuildPlanFailedStartsAgain(t *testing.T) {
	spec := config.ServiceSpec{Name: "db", Image: "postgres:16-alpine"}
	graph := testGraph(t, spec)

	observed := map[string]services.Status{
		"db": {Name: "db", State: services.StateFailed},
	}

	plan := BuildPlan(graph, observed)
	require.Len(t, plan.Start, 1)
	assert.Equal(t, "previous start failed", plan.Start[0].Reason)
}

func TestBuildPlanOrphansAreStopped(t *testing.T) {
	graph := testGraph(t, config.ServiceSpec{Name: "db", Image: "postgres:16-alpine"})

	observed := map[string]services.Status{
		"old-cache":  {Name: "old-cache", State: services.StateHealthy},
		"old-broker": {Name: "old-broker", State: services.StateUnhealthy},
		"long-gone":  {Name: "long-gone", State: services.StateStopped},
	}

	plan := BuildPlan(graph, observed)
	require.Len(t, plan.Stop, 2)
	// Deterministic name order.
	assert.Equal(t, "old-broker", plan.Stop[0].Service)
	assert.Equal(t, "old-cache", plan.Stop[1].Service)
}

func TestBuildPlanStartOrderFollowsDependencies(t *testing.T) {
	graph := testGraph(t,
		config.ServiceSpec{Name: "notebook", Image: "jupyter:lab", DependsOn: []string{"compute"}},
		config.ServiceSpec{Name: "compute", Image: "spark:3.5.1"},
		config.ServiceSpec{Name: "db", Image: "postgres:16-alpine"},
	)

	plan := BuildPlan(graph, map[string]services.Status{})
	require.Len(t, plan.Start, 3)

	pos := map[string]int{}
	for i, a := range plan.Start {
		pos[a.Service] = i
	}
	assert.Less(t, pos["compute"], pos["notebook"])
}

func TestPlanActionsOrder(t *testing.T) {
	plan := Plan{
		Start:    []Action{{Service: "a", Type: ActionStart}},
		Recreate: []Action{{Service: "b", Type: ActionRecreate}},
		Await:    []Action{{Service: "d", Type: ActionAwait}},
		Stop:     []Action{{Service: "c", Type: ActionStop}},
	}

	actions := plan.Actions()
	require.Len(t, actions, 4)
	assert.Equal(t, ActionStop, actions[0].Type)
	assert.Equal(t, ActionRecreate, actions[1].Type)
	assert.Equal(t, ActionAwait, actions[2].Type)
	assert.Equal(t, ActionStart, actions[3].Type)

	assert.Contains(t, plan.String(), "4 action(s)")
	assert.Equal(t, "plan: nothing to do", Plan{}.String())
}
