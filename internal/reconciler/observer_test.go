package reconciler

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datastack/internal/containerizer"
	"datastack/internal/services"
	"datastack/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.InitForCLI(logging.LevelError, io.Discard)
	os.Exit(m.Run())
}

type fakeLister struct {
	infos []containerizer.ContainerInfo
	err   error
}

func (f *fakeLister) ListContainers(ctx context.Context, labels map[string]string) ([]containerizer.ContainerInfo, error) {
	return f.infos, f.err
}

func containerFor(service, hash string, running bool, health containerizer.HealthStatus) containerizer.ContainerInfo {
	return containerizer.ContainerInfo{
		ID:      "id-" + service,
		Name:    "datastack-" + service,
		Running: running,
		Health:  health,
		Labels: map[string]string{
			containerizer.LabelPlatform: "local",
			containerizer.LabelService:  service,
			containerizer.LabelSpecHash: hash,
		},
	}
}

func TestObserveRecordsRuntimeStates(t *testing.T) {
	lister := &fakeLister{infos: []containerizer.ContainerInfo{
		containerFor("db", "h1", true, containerizer.HealthHealthy),
		containerFor("scheduler", "h2", true, containerizer.HealthStarting),
		containerFor("compute", "h3", true, containerizer.HealthNone),
		containerFor("notebook", "h4", false, containerizer.HealthNone),
		containerFor("pgadmin", "h5", true, containerizer.HealthUnhealthy),
	}}

	table := services.NewStateTable()
	observer := NewObserver(lister, table, "local")

	desired := []string{"db", "scheduler", "compute", "notebook", "pgadmin", "dbt"}
	require.NoError(t, observer.Observe(context.Background(), desired))

	assert.Equal(t, services.StateHealthy, table.State("db"))
	assert.Equal(t, services.StateStarting, table.State("scheduler"))
	assert.Equal(t, services.StateHealthy, table.State("compute"))
	assert.Equal(t, services.StateStopped, table.State("notebook"))
	assert.Equal(t, services.StateUnhealthy, table.State("pgadmin"))
	assert.Equal(t, services.StateAbsent, table.State("dbt"))

	status := table.Get("db")
	assert.Equal(t, "id-db", status.Handle)
	assert.Equal(t, "h1", status.SpecHash)
}

func TestObserveIgnoresUnlabeledContainers(t *testing.T) {
	info := containerizer.ContainerInfo{
		ID:      "mystery",
		Name:    "mystery",
		Running: true,
		Labels:  map[string]string{containerizer.LabelPlatform: "local"},
	}
	lister := &fakeLister{infos: []containerizer.ContainerInfo{info}}

	table := services.NewStateTable()
	observer := NewObserver(lister, table, "local")
	require.NoError(t, observer.Observe(context.Background(), nil))

	assert.Empty(t, table.Snapshot())
}

func TestObserveDoesNotFireCallbacks(t *testing.T) {
	lister := &fakeLister{infos: []containerizer.ContainerInfo{
		containerFor("db", "h1", true, containerizer.HealthHealthy),
	}}

	table := services.NewStateTable()
	fired := 0
	table.SetStateChangeCallback(func(name string, old, new services.RuntimeState, err error) {
		fired++
	})

	observer := NewObserver(lister, table, "local")
	require.NoError(t, observer.Observe(context.Background(), []string{"db"}))
	assert.Zero(t, fired)
}

func TestObserveListFailure(t *testing.T) {
	lister := &fakeLister{err: errors.New("daemon gone")}
	observer := NewObserver(lister, services.NewStateTable(), "local")

	err := observer.Observe(context.Background(), []string{"db"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon gone")
}
