package dependency

import (
	"errors"
	"fmt"
	"strings"
)

// CycleError reports a dependency cycle between services. Cycle holds the
// names along the cycle, with the first name repeated at the end.
type CycleError struct {
	Cycle []string
}

// Error implements the error interface for CycleError.
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// IsCycle checks if an error is or wraps a CycleError.
func IsCycle(err error) bool {
	var cycleErr *CycleError
	return errors.As(err, &cycleErr)
}

// UnknownDependencyError reports a dependency reference to a service that is
// not part of the set.
type UnknownDependencyError struct {
	Service    string
	Dependency string
}

// Error implements the error interface for UnknownDependencyError.
func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("service %s depends on unknown service %s", e.Service, e.Dependency)
}

// IsUnknownDependency checks if an error is or wraps an UnknownDependencyError.
func IsUnknownDependency(err error) bool {
	var unknownErr *UnknownDependencyError
	return errors.As(err, &unknownErr)
}
