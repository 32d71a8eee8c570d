package dependency

import (
	"datastack/internal/config"
)

// Node represents one service inside the graph together with its dependency
// list.
type Node struct {
	Name      string
	Spec      config.ServiceSpec
	DependsOn []string
}

// Graph is a directed acyclic graph over ServiceSpecs. It is immutable after
// Build and safe for concurrent reads.
type Graph struct {
	nodes map[string]*Node
	// order is the canonical topological start order. Ties among independent
	// nodes are broken by declaration order, so the order is deterministic
	// for a given input.
	order []string
}

// Build converts a set of ServiceSpecs into a Graph. Specs must be given in
// declaration order. It fails with an UnknownDependencyError if a spec
// references a name outside the set, or a CycleError if the declared
// dependencies contain a cycle.
func Build(specs []config.ServiceSpec) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*Node, len(specs))}

	declared := make([]string, 0, len(specs))
	for _, spec := range specs {
		deps := make([]string, len(spec.DependsOn))
		copy(deps, spec.DependsOn)
		g.nodes[spec.Name] = &Node{Name: spec.Name, Spec: spec, DependsOn: deps}
		declared = append(declared, spec.Name)
	}

	for _, name := range declared {
		for _, dep := range g.nodes[name].DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, &UnknownDependencyError{Service: name, Dependency: dep}
			}
		}
	}

	order, err := topoSort(g.nodes, declared)
	if err != nil {
		return nil, err
	}
	g.order = order

	return g, nil
}

// Get returns the node for a service name, or nil if it does not exist.
func (g *Graph) Get(name string) *Node {
	return g.nodes[name]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// StartOrder returns the canonical topological order: every node appears
// after all of its dependencies.
func (g *Graph) StartOrder() []string {
	order := make([]string, len(g.order))
	copy(order, g.order)
	return order
}

// StopOrder returns the reverse of StartOrder: every node appears before all
// of its dependencies, so dependents are stopped first.
func (g *Graph) StopOrder() []string {
	order := make([]string, len(g.order))
	for i, name := range g.order {
		order[len(g.order)-1-i] = name
	}
	return order
}

// Dependencies returns a copy of the immediate dependency names for a node.
func (g *Graph) Dependencies(name string) []string {
	n, ok := g.nodes[name]
	if !ok {
		return nil
	}
	deps := make([]string, len(n.DependsOn))
	copy(deps, n.DependsOn)
	return deps
}

// Dependents returns all node names that directly depend on the given node,
// in canonical order.
func (g *Graph) Dependents(name string) []string {
	var res []string
	for _, candidate := range g.order {
		for _, dep := range g.nodes[candidate].DependsOn {
			if dep == name {
				res = append(res, candidate)
				break
			}
		}
	}
	return res
}

// topoSort runs Kahn's algorithm over the node set. declared gives the
// declaration order used to break ties between ready nodes. If no node is
// ready before all are placed, the remainder contains a cycle, which is
// reconstructed for the error.
func topoSort(nodes map[string]*Node, declared []string) ([]string, error) {
	indegree := make(map[string]int, len(nodes))
	for _, name := range declared {
		indegree[name] = len(nodes[name].DependsOn)
	}

	placed := make(map[string]bool, len(nodes))
	order := make([]string, 0, len(nodes))

	for len(order) < len(declared) {
		next := ""
		for _, name := range declared {
			if !placed[name] && indegree[name] == 0 {
				next = name
				break
			}
		}
		if next == "" {
			return nil, &CycleError{Cycle: findCycle(nodes, placed)}
		}

		placed[next] = true
		order = append(order, next)
		for _, name := range declared {
			if placed[name] {
				continue
			}
			for _, dep := range nodes[name].DependsOn {
				if dep == next {
					indegree[name]--
				}
			}
		}
	}

	return order, nil
}

// findCycle walks the unplaced remainder until a node repeats, then trims the
// walk to the cycle itself. Every unplaced node has at least one unplaced
// dependency, so the walk is guaranteed to close.
func findCycle(nodes map[string]*Node, placed map[string]bool) []string {
	start := ""
	for name := range nodes {
		if !placed[name] {
			start = name
			break
		}
	}

	seen := make(map[string]int)
	var path []string
	current := start
	for {
		if idx, ok := seen[current]; ok {
			cycle := append([]string{}, path[idx:]...)
			return append(cycle, current)
		}
		seen[current] = len(path)
		path = append(path, current)

		for _, dep := range nodes[current].DependsOn {
			if !placed[dep] {
				current = dep
				break
			}
		}
	}
}
