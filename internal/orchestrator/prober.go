package orchestrator

import (
	"context"
	"time"

	"datastack/internal/containerizer"
	"datastack/pkg/logging"
)

// ProbeRunner is the slice of the container runtime the prober needs.
type ProbeRunner interface {
	Probe(ctx context.Context, handle string, check containerizer.HealthCheck) (bool, error)
}

// Prober polls a service's health check until it passes or the attempt
// budget runs out.
type Prober struct {
	runtime ProbeRunner
}

// NewProber creates a prober backed by the given runtime.
func NewProber(runtime ProbeRunner) *Prober {
	return &Prober{runtime: runtime}
}

// WaitHealthy blocks until the health check passes. Each attempt gets
// check.Timeout; attempts are spaced check.Interval apart. When all
// attempts fail it returns a HealthCheckTimeoutError. Context
// cancellation aborts the wait with the context's error.
func (p *Prober) WaitHealthy(ctx context.Context, service, handle string, check containerizer.HealthCheck) error {
	attempts := check.Retries
	if attempts <= 0 {
		attempts = 1
	}

	start := time.Now()
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, check.Timeout)
		ok, err := p.runtime.Probe(attemptCtx, handle, check)
		cancel()

		if err != nil {
			logging.Debug("prober", "Probe attempt %d/%d for %s errored: %v", attempt, attempts, service, err)
		} else if ok {
			logging.Debug("prober", "Service %s healthy after %d attempt(s)", service, attempt)
			return nil
		}

		if attempt == attempts {
			break
		}

		select {
		case <-time.After(check.Interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return &HealthCheckTimeoutError{
		Service:  service,
		Attempts: attempts,
		Elapsed:  time.Since(start),
	}
}
