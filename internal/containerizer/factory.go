package containerizer

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// RuntimeConstructor builds a ContainerRuntime for one engine kind.
type RuntimeConstructor func() (ContainerRuntime, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]RuntimeConstructor{}
)

func init() {
	Register("docker", func() (ContainerRuntime, error) {
		return NewDockerRuntime()
	})
}

// Register makes a runtime constructor available under the given engine
// name. Registering an already-registered name replaces the constructor.
func Register(engine string, ctor RuntimeConstructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(engine)] = ctor
}

// Engines returns the registered engine names, sorted.
func Engines() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewContainerRuntime creates a runtime for the named engine. An empty
// name defaults to Docker.
func NewContainerRuntime(engine string) (ContainerRuntime, error) {
	name := strings.ToLower(engine)
	if name == "" {
		name = "docker"
	}

	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unsupported container runtime %q (registered: %s)",
			engine, strings.Join(Engines(), ", "))
	}
	return ctor()
}
