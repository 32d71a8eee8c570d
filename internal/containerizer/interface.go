package containerizer

import (
	"context"
	"fmt"
	"io"
	"time"
)

// ContainerRuntime abstracts a container engine so that the orchestrator
// and reconciler can be driven against Docker, Podman, or a fake in tests.
type ContainerRuntime interface {
	// Ping verifies that the engine daemon is reachable. A failure here
	// means no container operation can be attempted at all.
	Ping(ctx context.Context) error

	// EnsureNetwork creates the named bridge network if it does not exist.
	EnsureNetwork(ctx context.Context, name string) error

	// EnsureVolume creates the named volume if it does not exist.
	EnsureVolume(ctx context.Context, name string) error

	// EnsureImage pulls the image if it is not present locally.
	EnsureImage(ctx context.Context, ref string) error

	// StartContainer creates and starts a container from cfg and returns
	// the engine handle (container ID). An existing container with the
	// same name is an error; callers remove stale containers first.
	StartContainer(ctx context.Context, cfg ContainerConfig) (string, error)

	// StopContainer stops the container identified by handle, waiting up
	// to timeout for a graceful shutdown before the engine kills it.
	StopContainer(ctx context.Context, handle string, timeout time.Duration) error

	// RemoveContainer force-removes the container identified by handle.
	// Removing a container that does not exist is not an error.
	RemoveContainer(ctx context.Context, handle string) error

	// InspectContainer looks up a container by name or handle.
	// Returns an error satisfying IsNotFound when no such container exists.
	InspectContainer(ctx context.Context, nameOrHandle string) (ContainerInfo, error)

	// ListContainers returns all containers (running or not) carrying the
	// given labels.
	ListContainers(ctx context.Context, labels map[string]string) ([]ContainerInfo, error)

	// Probe performs a single health check attempt against the container
	// identified by handle. It returns true when the check passed. An
	// error indicates the attempt could not be carried out; callers count
	// it as a failed attempt.
	Probe(ctx context.Context, handle string, check HealthCheck) (bool, error)

	// ContainerLogs streams logs for the container identified by handle.
	// The caller is responsible for closing the returned reader.
	ContainerLogs(ctx context.Context, handle string, follow bool) (io.ReadCloser, error)
}

// HealthCheckProtocol selects how a container's health is probed.
type HealthCheckProtocol string

const (
	// HealthCheckCmd runs a command inside the container via the engine's
	// native healthcheck mechanism.
	HealthCheckCmd HealthCheckProtocol = "cmd"
	// HealthCheckTCP dials a host-published TCP address.
	HealthCheckTCP HealthCheckProtocol = "tcp"
	// HealthCheckHTTP issues a GET against a host-reachable URL and
	// expects a 2xx response.
	HealthCheckHTTP HealthCheckProtocol = "http"
)

// HealthCheck describes a single service's health probe.
type HealthCheck struct {
	Protocol HealthCheckProtocol
	Target   string
	Interval time.Duration
	Timeout  time.Duration
	Retries  int
}

// ContainerConfig is everything the runtime needs to create a container.
type ContainerConfig struct {
	Name    string
	Image   string
	Env     map[string]string
	Ports   []string // "host:container"
	Volumes []string // "source:target", absolute source means bind mount
	Network string
	Aliases []string
	Labels  map[string]string
	Memory  string // e.g. "2G", empty means unlimited
	CPU     float64

	// HealthCheck is attached as a native engine healthcheck when its
	// protocol is cmd; tcp and http probes run from the host instead.
	HealthCheck *HealthCheck
}

// HealthStatus is the engine's view of a container's native healthcheck.
type HealthStatus string

const (
	HealthNone      HealthStatus = "none" // no healthcheck configured
	HealthStarting  HealthStatus = "starting"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// ContainerInfo is the runtime's view of an existing container.
type ContainerInfo struct {
	ID      string
	Name    string
	Running bool
	Health  HealthStatus
	Labels  map[string]string
}

// Label keys attached to every container this tool manages.
const (
	LabelPlatform = "datastack.platform"
	LabelService  = "datastack.service"
	LabelSpecHash = "datastack.spec-hash"
)

// SpecHash returns the spec hash label recorded at creation time, or
// the empty string for containers not created by this tool.
func (i ContainerInfo) SpecHash() string {
	return i.Labels[LabelSpecHash]
}

// RuntimeUnavailableError indicates that the container engine daemon
// could not be reached. It is fatal for a whole run.
type RuntimeUnavailableError struct {
	Engine string
	Err    error
}

func (e *RuntimeUnavailableError) Error() string {
	return fmt.Sprintf("container runtime %q is unavailable: %v", e.Engine, e.Err)
}

func (e *RuntimeUnavailableError) Unwrap() error {
	return e.Err
}
