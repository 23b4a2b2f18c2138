package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/loomwork/internal/config"
)

func steps(ids ...string) []config.Step {
	out := make([]config.Step, len(ids))
	for i, id := range ids {
		out[i] = config.Step{ID: id, Plugin: "noop"}
	}
	return out
}

func TestBuildDAGLayersIndependentStepsTogether(t *testing.T) {
	t.Parallel()

	wf := steps("a", "b", "c")
	graph, err := BuildDAG(wf)
	require.NoError(t, err)
	require.Len(t, graph.Levels, 1)
	require.ElementsMatch(t, []string{"a", "b", "c"}, graph.Levels[0])
}

func TestBuildDAGLayersByDependsOn(t *testing.T) {
	t.Parallel()

	wf := steps("a", "b")
	wf[1].DependsOn = []string{"a"}

	graph, err := BuildDAG(wf)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a"}, {"b"}}, graph.Levels)
}

func TestBuildDAGTreatsInputFromAsADependencyEdge(t *testing.T) {
	t.Parallel()

	wf := steps("a", "b")
	wf[1].InputFrom = "a"

	graph, err := BuildDAG(wf)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a"}, {"b"}}, graph.Levels)
}

func TestBuildDAGBreaksLayerTiesByInsertionOrder(t *testing.T) {
	t.Parallel()

	// Reverse-alphabetical ids, both depending on "root" — the resulting
	// layer must preserve document order, not sort by id.
	wf := steps("root", "zebra", "apple")
	wf[1].DependsOn = []string{"root"}
	wf[2].DependsOn = []string{"root"}

	graph, err := BuildDAG(wf)
	require.NoError(t, err)
	require.Equal(t, []string{"zebra", "apple"}, graph.Levels[1])
}

func TestBuildDAGDetectsCycle(t *testing.T) {
	t.Parallel()

	wf := steps("a", "b")
	wf[0].DependsOn = []string{"b"}
	wf[1].DependsOn = []string{"a"}

	_, err := BuildDAG(wf)
	require.Error(t, err)
}

func TestBuildDAGDetectsSelfDependency(t *testing.T) {
	t.Parallel()

	wf := steps("a")
	wf[0].DependsOn = []string{"a"}

	_, err := BuildDAG(wf)
	require.Error(t, err)
}
