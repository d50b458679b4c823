package dag

import (
	"slices"
	"strings"

	"github.com/randalmurphal/nexus/pkg/nexus/event"
)

// Graph is the dependency structure implied by completion triggers.
// Task B depends on task A when one of B's triggers is exactly
// "task.A.completed". Wildcard triggers create no edges.
//
// The graph is informational; it does not affect how tasks run.
type Graph struct {
	tasks      []string
	downstream map[string][]string
	upstream   map[string][]string
}

// Graph derives the dependency graph of the definition.
func (d Definition) Graph() *Graph {
	g := &Graph{
		downstream: make(map[string][]string),
		upstream:   make(map[string][]string),
	}

	known := make(map[string]bool, len(d.Tasks))
	for _, t := range d.Tasks {
		if !known[t.ID] {
			g.tasks = append(g.tasks, t.ID)
		}
		known[t.ID] = true
	}

	for _, t := range d.Tasks {
		for _, trigger := range t.Triggers {
			up, ok := completedTaskID(trigger)
			if !ok || !known[up] {
				continue
			}
			if !slices.Contains(g.downstream[up], t.ID) {
				g.downstream[up] = append(g.downstream[up], t.ID)
			}
			if !slices.Contains(g.upstream[t.ID], up) {
				g.upstream[t.ID] = append(g.upstream[t.ID], up)
			}
		}
	}
	return g
}

// completedTaskID extracts A from a literal "task.A.completed" pattern.
func completedTaskID(pattern string) (string, bool) {
	segs := strings.Split(pattern, event.Delimiter)
	if len(segs) != 3 || segs[0] != "task" || segs[2] != "completed" {
		return "", false
	}
	if segs[1] == "" || segs[1] == event.Wildcard {
		return "", false
	}
	return segs[1], true
}

// Tasks returns the task ids in definition order.
func (g *Graph) Tasks() []string {
	return slices.Clone(g.tasks)
}

// Downstream returns the tasks triggered by id's completion.
func (g *Graph) Downstream(id string) []string {
	return slices.Clone(g.downstream[id])
}

// Upstream returns the tasks whose completion triggers id.
func (g *Graph) Upstream(id string) []string {
	return slices.Clone(g.upstream[id])
}

// Roots returns the tasks with no upstream task, in definition order.
// Roots are started by external events.
func (g *Graph) Roots() []string {
	var roots []string
	for _, id := range g.tasks {
		if len(g.upstream[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Cycle returns one dependency cycle as a path that starts and ends with the
// same task, or nil if the graph is acyclic. A cycle means the tasks will
// keep re-triggering each other for as long as they succeed.
func (g *Graph) Cycle() []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(g.tasks))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = visiting
		stack = append(stack, id)
		for _, next := range g.downstream[id] {
			switch state[next] {
			case visiting:
				start := slices.Index(stack, next)
				cycle := slices.Clone(stack[start:])
				return append(cycle, next)
			case unvisited:
				if c := visit(next); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, id := range g.tasks {
		if state[id] == unvisited {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}
