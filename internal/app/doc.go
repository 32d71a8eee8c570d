// Package app bootstraps and wires the platform components for the CLI.
//
// Bootstrap is two-phase: NewApplication loads configuration and builds
// the dependency graph without touching the container engine, then
// ConnectRuntime establishes the engine connection on demand. Commands
// that only read persisted state keep working while the engine is down.
//
// The operations here, up, down, start, stop, status, logs, and watch,
// are thin compositions of the observer, planner, and orchestrator.
package app
