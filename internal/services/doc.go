// Package services holds the runtime state model shared by the
// orchestration engine.
//
// RuntimeState tracks the observed lifecycle of each service (absent,
// starting, healthy, unhealthy, stopped, failed). The StateTable is the one
// mutable structure shared across the engine: the orchestrator and health
// prober write transitions through it, the reconciler and status command read
// snapshots from it. Per-service locks keep independent transitions from
// contending while a callback hook lets the orchestrator publish every
// transition as an event.
package services
