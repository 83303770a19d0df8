// Package graph provides the dependency graph used at both levels of a
// loaded document: the system graph (components connected by wiring) and
// each component's internal node graph (nodes connected by formula
// references).
//
// Determinism is the point of this package. Vertices remember their
// declaration order, topological sorting breaks ties by that order, and
// cycle detection reports the complete cycle path so load failures are
// reproducible and diffable.
package graph

import (
	"fmt"
	"strings"
)

// Graph is a directed graph over string-identified vertices. Vertices keep
// their insertion (declaration) order; edges point from a dependency to
// its dependent.
type Graph struct {
	order []string
	index map[string]int
	// out[id] lists ids that depend on id, in edge-insertion order.
	out map[string][]string
	// indegree counts incoming edges per vertex.
	indegree map[string]int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		index:    make(map[string]int),
		out:      make(map[string][]string),
		indegree: make(map[string]int),
	}
}

// Add inserts a vertex. Re-adding an existing vertex does nothing; the
// first insertion fixes its declaration order.
func (g *Graph) Add(id string) {
	if _, ok := g.index[id]; ok {
		return
	}
	g.index[id] = len(g.order)
	g.order = append(g.order, id)
}

// AddEdge records that `to` depends on `from`. Both vertices must already
// exist. Self-edges are legal at insertion and reported later by Sort as a
// one-vertex cycle.
func (g *Graph) AddEdge(from, to string) error {
	if _, ok := g.index[from]; !ok {
		return fmt.Errorf("unknown vertex %q", from)
	}
	if _, ok := g.index[to]; !ok {
		return fmt.Errorf("unknown vertex %q", to)
	}
	g.out[from] = append(g.out[from], to)
	g.indegree[to]++
	return nil
}

// Has reports whether a vertex exists.
func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Len returns the vertex count.
func (g *Graph) Len() int {
	return len(g.order)
}

// CycleError reports a dependency cycle. Path lists every vertex on the
// cycle exactly once, ordered along the edges, followed by the starting
// vertex again.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

// Sort returns a topological order of all vertices, with ties broken by
// declaration order so repeated loads of the same document produce the
// same order. If the graph has a cycle, Sort returns a *CycleError with
// the full cycle path and no order.
func (g *Graph) Sort() ([]string, error) {
	if cyc := g.findCycle(); cyc != nil {
		return nil, cyc
	}

	indeg := make(map[string]int, len(g.order))
	for id, n := range g.indegree {
		indeg[id] = n
	}

	sorted := make([]string, 0, len(g.order))
	placed := make(map[string]bool, len(g.order))
	// The graphs here are small (components per system, nodes per
	// component), so a linear scan for the lowest-declared ready vertex
	// beats maintaining a heap.
	for len(sorted) < len(g.order) {
		next := ""
		for _, id := range g.order {
			if !placed[id] && indeg[id] == 0 {
				next = id
				break
			}
		}
		if next == "" {
			// Unreachable once findCycle has passed.
			return nil, &CycleError{Path: g.unplaced(placed)}
		}
		placed[next] = true
		sorted = append(sorted, next)
		for _, dep := range g.out[next] {
			indeg[dep]--
		}
	}
	return sorted, nil
}

// findCycle runs a depth-first traversal with an explicit recursion stack.
// On meeting a back-edge it reconstructs the cycle from the stack so the
// error names every vertex on it.
func (g *Graph) findCycle() *CycleError {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.order))
	var stack []string

	var visit func(id string) *CycleError
	visit = func(id string) *CycleError {
		state[id] = visiting
		stack = append(stack, id)
		for _, dep := range g.out[id] {
			switch state[dep] {
			case visiting:
				// Back-edge: the cycle is the stack suffix starting at dep.
				start := 0
				for i, v := range stack {
					if v == dep {
						start = i
						break
					}
				}
				path := append([]string{}, stack[start:]...)
				path = append(path, dep)
				return &CycleError{Path: path}
			case unvisited:
				if cyc := visit(dep); cyc != nil {
					return cyc
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, id := range g.order {
		if state[id] == unvisited {
			if cyc := visit(id); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

func (g *Graph) unplaced(placed map[string]bool) []string {
	var out []string
	for _, id := range g.order {
		if !placed[id] {
			out = append(out, id)
		}
	}
	return out
}
