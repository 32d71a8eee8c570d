package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PlatformConfig is the top-level configuration structure for datastack.
type PlatformConfig struct {
	Platform PlatformInfo  `yaml:"platform"`
	Runtime  RuntimeConfig `yaml:"runtime,omitempty"`
	Services ServiceMap    `yaml:"services"`
}

// PlatformInfo describes the platform installation itself.
type PlatformInfo struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment,omitempty"` // development | production | custom
}

// RuntimeConfig configures the container runtime collaborator and the
// orchestration engine.
type RuntimeConfig struct {
	Engine      string        `yaml:"engine,omitempty"`      // Container engine to use (default: docker)
	Network     string        `yaml:"network,omitempty"`     // Shared bridge network for all services
	Workers     int           `yaml:"workers,omitempty"`     // Max concurrent in-flight actions (default: 4)
	RunTimeout  time.Duration `yaml:"runTimeout,omitempty"`  // Overall apply/teardown deadline (default: 10m)
	StopTimeout time.Duration `yaml:"stopTimeout,omitempty"` // Per-container stop grace period (default: 30s)
}

// HealthCheckProtocol selects how a service's readiness is probed.
type HealthCheckProtocol string

const (
	// HealthCheckCmd executes a command inside the container and treats a
	// zero exit code as success.
	HealthCheckCmd HealthCheckProtocol = "cmd"
	// HealthCheckTCP dials a TCP address and treats a successful connect as
	// success.
	HealthCheckTCP HealthCheckProtocol = "tcp"
	// HealthCheckHTTP performs an HTTP GET and treats a 2xx response as
	// success.
	HealthCheckHTTP HealthCheckProtocol = "http"
)

// HealthCheckSpec describes how to probe a started service until it reports
// ready. A service without a HealthCheckSpec is considered healthy as soon as
// its container is running.
type HealthCheckSpec struct {
	Protocol    HealthCheckProtocol `yaml:"protocol"`
	Target      string              `yaml:"target"`                // command, host:port or URL depending on protocol
	Interval    time.Duration       `yaml:"interval,omitempty"`    // default: 5s
	Timeout     time.Duration       `yaml:"timeout,omitempty"`     // per-attempt deadline, default: 3s
	MaxAttempts int                 `yaml:"maxAttempts,omitempty"` // consecutive failures before unhealthy, default: 12
}

// ServiceSpec is the declarative description of one orchestrated service.
// It is immutable once loaded; the orchestrator never mutates it.
type ServiceSpec struct {
	Name      string            `yaml:"-"`
	Enabled   *bool             `yaml:"enabled,omitempty"` // nil means enabled
	Image     string            `yaml:"image"`
	DependsOn []string          `yaml:"dependsOn,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Ports     []string          `yaml:"ports,omitempty"`   // host:container mappings
	Volumes   []string          `yaml:"volumes,omitempty"` // name:path or host:path mounts
	Memory    string            `yaml:"memory,omitempty"`  // e.g. 2G, 512M
	CPU       float64           `yaml:"cpu,omitempty"`

	HealthCheck *HealthCheckSpec `yaml:"healthCheck,omitempty"`
}

// IsEnabled reports whether the service should be part of the desired state.
func (s ServiceSpec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Hash returns a stable digest over the fields that require a container
// recreate when they change: image, env, ports, volumes and resource limits.
// Dependencies are excluded; rewiring the graph alone does not invalidate a
// running container.
func (s ServiceSpec) Hash() string {
	var b strings.Builder
	b.WriteString("image=" + s.Image + "\n")

	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "env=%s=%s\n", k, s.Env[k])
	}

	for _, p := range s.Ports {
		b.WriteString("port=" + p + "\n")
	}
	for _, v := range s.Volumes {
		b.WriteString("volume=" + v + "\n")
	}
	fmt.Fprintf(&b, "resources=%s/%g\n", s.Memory, s.CPU)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ServiceMap holds the desired services keyed by name while preserving the
// order in which they were declared. Declaration order is the deterministic
// tie-break between otherwise independent services, so it has to survive the
// round-trip through YAML.
type ServiceMap struct {
	order []string
	specs map[string]ServiceSpec
}

// NewServiceMap builds a ServiceMap from specs in the given order.
// Specs must carry their Name.
func NewServiceMap(specs ...ServiceSpec) ServiceMap {
	m := ServiceMap{specs: make(map[string]ServiceSpec, len(specs))}
	for _, s := range specs {
		if _, exists := m.specs[s.Name]; !exists {
			m.order = append(m.order, s.Name)
		}
		m.specs[s.Name] = s
	}
	return m
}

// Names returns the service names in declaration order.
func (m ServiceMap) Names() []string {
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

// Get returns the spec for a service name.
func (m ServiceMap) Get(name string) (ServiceSpec, bool) {
	s, ok := m.specs[name]
	return s, ok
}

// Len returns the number of declared services.
func (m ServiceMap) Len() int {
	return len(m.order)
}

// Enabled returns the enabled specs in declaration order.
func (m ServiceMap) Enabled() []ServiceSpec {
	var specs []ServiceSpec
	for _, name := range m.order {
		if s := m.specs[name]; s.IsEnabled() {
			specs = append(specs, s)
		}
	}
	return specs
}

// UnmarshalYAML decodes a services mapping while recording key order.
func (m *ServiceMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("services must be a mapping, got %s", nodeKindName(node.Kind))
	}

	m.order = nil
	m.specs = make(map[string]ServiceSpec, len(node.Content)/2)

	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		valNode := node.Content[i+1]

		var spec ServiceSpec
		if err := valNode.Decode(&spec); err != nil {
			return fmt.Errorf("service %q: %w", keyNode.Value, err)
		}
		spec.Name = keyNode.Value

		if _, exists := m.specs[spec.Name]; exists {
			return fmt.Errorf("service %q declared more than once", spec.Name)
		}
		m.order = append(m.order, spec.Name)
		m.specs[spec.Name] = spec
	}
	return nil
}

// MarshalYAML encodes the services mapping in declaration order.
func (m ServiceMap) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range m.order {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: name}
		valNode := &yaml.Node{}
		if err := valNode.Encode(m.specs[name]); err != nil {
			return nil, fmt.Errorf("service %q: %w", name, err)
		}
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node, nil
}

func nodeKindName(kind yaml.Kind) string {
	switch kind {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
