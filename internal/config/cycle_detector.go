package config

import "sort"

// detectCycle returns the nodes participating in a dependency cycle, or nil
// if the effective-dependency graph is acyclic (spec.md §3 "the dependency
// relation is acyclic"). Walks a DFS with an explicit stack so the actual
// cyclic node list, not just a boolean, can be reported.
func detectCycle(steps []Step) []string {
	graph := make(map[string][]string, len(steps))
	for _, step := range steps {
		graph[step.ID] = step.EffectiveDependencies()
	}

	visiting := make(map[string]bool, len(steps))
	visited := make(map[string]bool, len(steps))
	var stack []string

	var cycle []string
	var dfs func(string) bool
	dfs = func(node string) bool {
		visiting[node] = true
		stack = append(stack, node)

		for _, dep := range graph[node] {
			if _, ok := graph[dep]; !ok {
				continue // unresolved reference; reported separately
			}
			if !visited[dep] {
				if visiting[dep] {
					idx := indexOf(stack, dep)
					if idx >= 0 {
						cycle = append([]string{}, stack[idx:]...)
						cycle = append(cycle, dep)
					}
					return true
				}
				if dfs(dep) {
					return true
				}
			}
		}

		visiting[node] = false
		visited[node] = true
		stack = stack[:len(stack)-1]
		return false
	}

	ids := make([]string, 0, len(steps))
	for id := range graph {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if visited[id] {
			continue
		}
		if dfs(id) {
			break
		}
	}

	return cycle
}

func indexOf(slice []string, target string) int {
	for i, v := range slice {
		if v == target {
			return i
		}
	}
	return -1
}
