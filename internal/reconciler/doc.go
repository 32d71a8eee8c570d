// Package reconciler computes the difference between the declared
// deployment and the containers actually running, and expresses it as an
// actionable plan.
//
// The Observer reads runtime reality from the container engine into the
// shared state table. BuildPlan then diffs the dependency graph of
// enabled services against that snapshot and emits start, recreate,
// await, and stop actions. Plans are deterministic and idempotent: re-running
// against a converged deployment produces an empty plan.
//
// The ConfigDetector supports watch mode by emitting debounced change
// events whenever the configuration files are edited, so callers can
// observe, re-plan, and re-apply.
package reconciler
