// Package dependency builds the directed acyclic graph over ServiceSpecs
// that drives orchestration ordering.
//
// Build validates that every declared dependency exists and that the edges
// are acyclic, producing a canonical topological start order via Kahn's
// algorithm. Ties among independent nodes are broken by declaration order so
// repeated runs over the same configuration always yield the same order.
// Failures surface as UnknownDependencyError or CycleError, both of which
// name the offending services.
package dependency
