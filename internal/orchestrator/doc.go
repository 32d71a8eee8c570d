// Package orchestrator executes reconciliation plans against a container
// runtime.
//
// It is the sole writer of service runtime states. Starts and recreates
// run concurrently, one goroutine per service, gated so that a service
// only starts after every dependency reported healthy. A weighted
// semaphore bounds how many container starts are in flight at once.
// Failures are isolated per service: a failed start fails its transitive
// dependents but leaves independent branches running, and the run
// summary reports the partial outcome.
//
// The prober waits for a freshly started container to pass its health
// check, giving each attempt its own timeout and failing the service
// with a HealthCheckTimeoutError when the attempt budget is exhausted.
package orchestrator
