package graph

import "sort"

// TopologicalSort returns a deterministic topological order of the graph's
// task ids using Kahn's algorithm. The ready queue is kept sorted
// lexicographically at all times, so the order is a pure function of the
// task-id set and its edges, independent of definition order.
func TopologicalSort(g *WorkflowGraph) ([]string, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	for id, node := range g.Nodes {
		inDegree[id] = len(node.Dependencies)
	}

	ready := make([]string, 0, len(g.Nodes))
	for id, degree := range inDegree {
		if degree == 0 {
			ready = insertSorted(ready, id)
		}
	}

	order := make([]string, 0, len(g.Nodes))

	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, dependent := range g.Nodes[id].Dependents {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = insertSorted(ready, dependent)
			}
		}
	}

	// Unreachable when BuildWorkflowGraph ran cycle detection first.
	if len(order) != len(g.Nodes) {
		return nil, validationErrorf("graph contains cycles")
	}

	return order, nil
}

func insertSorted(queue []string, id string) []string {
	i := sort.SearchStrings(queue, id)
	queue = append(queue, "")
	copy(queue[i+1:], queue[i:])
	queue[i] = id

	return queue
}
