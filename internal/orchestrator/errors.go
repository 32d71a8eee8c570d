package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// ContainerStartError indicates that the container engine could not
// create or start a service's container. It fails the service but not
// the whole run.
type ContainerStartError struct {
	Service string
	Err     error
}

func (e *ContainerStartError) Error() string {
	return fmt.Sprintf("failed to start container for service %q: %v", e.Service, e.Err)
}

func (e *ContainerStartError) Unwrap() error {
	return e.Err
}

// IsContainerStart checks if an error is a ContainerStartError.
func IsContainerStart(err error) bool {
	var target *ContainerStartError
	return errors.As(err, &target)
}

// HealthCheckTimeoutError indicates that a service's container started
// but never passed its health check within the allowed attempts.
type HealthCheckTimeoutError struct {
	Service  string
	Attempts int
	Elapsed  time.Duration
}

func (e *HealthCheckTimeoutError) Error() string {
	return fmt.Sprintf("service %q did not become healthy after %d attempt(s) in %s",
		e.Service, e.Attempts, e.Elapsed.Round(time.Millisecond))
}

// IsHealthCheckTimeout checks if an error is a HealthCheckTimeoutError.
func IsHealthCheckTimeout(err error) bool {
	var target *HealthCheckTimeoutError
	return errors.As(err, &target)
}

// DependencyFailedError indicates that a service was skipped because one
// of its dependencies never became healthy.
type DependencyFailedError struct {
	Service    string
	Dependency string
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("service %q skipped: dependency %q is not healthy", e.Service, e.Dependency)
}

// IsDependencyFailed checks if an error is a DependencyFailedError.
func IsDependencyFailed(err error) bool {
	var target *DependencyFailedError
	return errors.As(err, &target)
}
