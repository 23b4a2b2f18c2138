package engine

import (
	"fmt"
	"sort"

	"github.com/alexisbeaulieu97/loomwork/internal/config"
	loomerrors "github.com/alexisbeaulieu97/loomwork/pkg/errors"
)

// Node is a vertex in the execution DAG: a step id, its insertion order (for
// deterministic tie-breaking within a layer, spec.md §4.3), and its
// effective dependency set (spec.md §3).
type Node struct {
	ID    string
	Index int
	Deps  []string
}

// Graph is the dependency DAG over a workflow's steps, plus the layering
// computed by TopologicalSort.
type Graph struct {
	Nodes  map[string]*Node
	Levels [][]string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{Nodes: make(map[string]*Node)}
}

// AddNode inserts a step as a vertex, recording its effective dependencies.
func (g *Graph) AddNode(id string, index int, deps []string) error {
	if id == "" {
		return loomerrors.NewExecutionError("", fmt.Errorf("step id cannot be empty"))
	}
	if _, exists := g.Nodes[id]; exists {
		return loomerrors.NewValidationError("steps", fmt.Sprintf("duplicate step id %q", id), nil)
	}
	g.Nodes[id] = &Node{ID: id, Index: index, Deps: append([]string(nil), deps...)}
	return nil
}

// TopologicalSort computes the DAG's layers via Kahn's algorithm: layer 0 is
// every step with no dependencies, layer k+1 is every step whose
// dependencies are all in layers ≤ k (spec.md §4.3). Ties within a layer are
// broken by insertion order, never by id string.
func (g *Graph) TopologicalSort() error {
	dependents := make(map[string][]string, len(g.Nodes))
	indegree := make(map[string]int, len(g.Nodes))
	for id, node := range g.Nodes {
		indegree[id] = 0
		for _, dep := range node.Deps {
			if _, ok := g.Nodes[dep]; !ok {
				return loomerrors.NewValidationError("steps", fmt.Sprintf("step %q depends on unknown step %q", id, dep), nil)
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	byIndex := func(ids []string) {
		sort.Slice(ids, func(i, j int) bool { return g.Nodes[ids[i]].Index < g.Nodes[ids[j]].Index })
	}

	var ready []string
	for id, degree := range indegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}
	byIndex(ready)

	processed := 0
	var levels [][]string
	for len(ready) > 0 {
		level := append([]string(nil), ready...)
		levels = append(levels, level)

		var next []string
		for _, id := range level {
			processed++
			for _, dep := range dependents[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		byIndex(next)
		ready = next
	}

	if processed != len(g.Nodes) {
		return loomerrors.NewValidationError("steps", "cycle detected while sorting graph", nil)
	}

	g.Levels = levels
	return nil
}

// BuildDAG constructs and layers the execution graph from a workflow's
// steps, using each step's effective dependency set (spec.md §3) as edges.
// A condition field that names no step in the workflow adds no edge; the
// condition gate then evaluates that condition as false.
func BuildDAG(steps []config.Step) (*Graph, error) {
	known := make(map[string]bool, len(steps))
	for _, step := range steps {
		known[step.ID] = true
	}
	g := NewGraph()
	for i, step := range steps {
		deps := step.EffectiveDependencies()
		if c := step.Condition; c != nil && c.Field != "" && !known[c.Field] {
			kept := deps[:0]
			for _, dep := range deps {
				if dep != c.Field {
					kept = append(kept, dep)
				}
			}
			deps = kept
		}
		if err := g.AddNode(step.ID, i, deps); err != nil {
			return nil, err
		}
	}
	if err := g.TopologicalSort(); err != nil {
		return nil, err
	}
	return g, nil
}
