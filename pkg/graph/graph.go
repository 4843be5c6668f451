// Package graph validates workflow task lists and produces deterministic
// execution orders over their dependency DAGs.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/reeflow/reeflow/pkg/models"
)

// Node is one task in a workflow graph together with its resolved edges.
type Node struct {
	Task         models.WorkflowTask
	Dependencies []string
	Dependents   []string
}

// WorkflowGraph is an in-memory dependency graph derived from a workflow
// definition. It is rebuilt per run and never persisted.
type WorkflowGraph struct {
	Nodes map[string]*Node
	Roots []string
}

// GraphValidationError reports a malformed workflow graph: duplicate ids,
// self-dependencies, missing dependencies or cycles.
type GraphValidationError struct {
	Message string
}

func (e *GraphValidationError) Error() string {
	return e.Message
}

func validationErrorf(format string, args ...any) error {
	return &GraphValidationError{Message: fmt.Sprintf(format, args...)}
}

// BuildWorkflowGraph validates the task list and builds the dependency
// graph. Validation order: task ids, dependency references, cycles.
func BuildWorkflowGraph(tasks []models.WorkflowTask) (*WorkflowGraph, error) {
	if err := validateTaskIDs(tasks); err != nil {
		return nil, err
	}

	if err := validateDependencies(tasks); err != nil {
		return nil, err
	}

	if err := detectCycles(tasks); err != nil {
		return nil, err
	}

	nodes := make(map[string]*Node, len(tasks))
	for _, task := range tasks {
		dependencies := make([]string, len(task.Needs))
		copy(dependencies, task.Needs)

		nodes[task.ID] = &Node{
			Task:         task,
			Dependencies: dependencies,
		}
	}

	roots := make([]string, 0)

	for _, task := range tasks {
		for _, need := range task.Needs {
			nodes[need].Dependents = append(nodes[need].Dependents, task.ID)
		}

		if len(task.Needs) == 0 {
			roots = append(roots, task.ID)
		}
	}

	sort.Strings(roots)

	return &WorkflowGraph{Nodes: nodes, Roots: roots}, nil
}

func validateTaskIDs(tasks []models.WorkflowTask) error {
	seen := make(map[string]struct{}, len(tasks))

	for _, task := range tasks {
		if task.ID == "" {
			return validationErrorf("task id is required")
		}

		if _, exists := seen[task.ID]; exists {
			return validationErrorf("duplicate task id: %q", task.ID)
		}

		seen[task.ID] = struct{}{}

		for _, need := range task.Needs {
			if need == task.ID {
				return validationErrorf("task %q depends on itself", task.ID)
			}
		}
	}

	return nil
}

func validateDependencies(tasks []models.WorkflowTask) error {
	ids := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		ids[task.ID] = struct{}{}
	}

	for _, task := range tasks {
		for _, need := range task.Needs {
			if _, exists := ids[need]; !exists {
				return validationErrorf("task %q depends on unknown task %q", task.ID, need)
			}
		}
	}

	return nil
}

// detectCycles runs a depth-first traversal with visiting/visited sets.
// When a node is revisited while still on the stack the cycle is reported as
// the ordered path from its first occurrence back to itself.
func detectCycles(tasks []models.WorkflowTask) error {
	needs := make(map[string][]string, len(tasks))
	order := make([]string, 0, len(tasks))

	for _, task := range tasks {
		needs[task.ID] = task.Needs
		order = append(order, task.ID)
	}

	sort.Strings(order)

	const (
		unvisited = iota
		visiting
		visited
	)

	state := make(map[string]int, len(tasks))

	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		state[id] = visiting
		stack = append(stack, id)

		deps := make([]string, len(needs[id]))
		copy(deps, needs[id])
		sort.Strings(deps)

		for _, dep := range deps {
			switch state[dep] {
			case visiting:
				return validationErrorf("workflow contains a cycle: %s", cyclePath(stack, dep))
			case unvisited:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		state[id] = visited
		stack = stack[:len(stack)-1]

		return nil
	}

	for _, id := range order {
		if state[id] == unvisited {
			if err := visit(id); err != nil {
				return err
			}
		}
	}

	return nil
}

func cyclePath(stack []string, repeated string) string {
	start := 0

	for i, id := range stack {
		if id == repeated {
			start = i

			break
		}
	}

	path := append([]string{}, stack[start:]...)
	path = append(path, repeated)

	return strings.Join(path, " -> ")
}
