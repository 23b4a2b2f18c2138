package engine

import (
	"fmt"
	"strings"
)

// ExecutionPlan is a graph's layering, presented independently of the Graph
// type; Executor.Run walks its levels in order.
type ExecutionPlan struct {
	Levels []ExecutionLevel
}

// ExecutionLevel is one set of steps eligible to run concurrently (spec.md
// §4.3): every dependency of every step in the level is already terminal.
type ExecutionLevel struct {
	StepIDs []string
}

// GeneratePlan converts a laid-out Graph into an ExecutionPlan.
func GeneratePlan(graph *Graph) (*ExecutionPlan, error) {
	if graph == nil {
		return nil, fmt.Errorf("graph cannot be nil")
	}
	levels := make([]ExecutionLevel, 0, len(graph.Levels))
	for _, ids := range graph.Levels {
		levels = append(levels, ExecutionLevel{StepIDs: append([]string(nil), ids...)})
	}
	return &ExecutionPlan{Levels: levels}, nil
}

// String renders a human-readable summary of the plan, one line per layer.
func (p *ExecutionPlan) String() string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	for i, level := range p.Levels {
		fmt.Fprintf(&b, "layer %d (%d steps): %s\n", i, len(level.StepIDs), strings.Join(level.StepIDs, ", "))
	}
	return b.String()
}
