// Package state persists the last-applied deployment state to disk.
//
// After every run the orchestration layer saves a JSON snapshot of each
// service's runtime state, container handle, and spec hash. The status
// command reads it back for fast reporting, and stale entries let later
// runs explain what changed between applies.
package state
