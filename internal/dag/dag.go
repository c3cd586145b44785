// Package dag is a small directed acyclic graph used to order entities so
// that every referenced entity is loaded before the entities pointing at it.
package dag

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Vertex is a node of the graph. Order is the insertion rank used to break
// ties, which keeps sorting stable with respect to document order.
type Vertex[T cmp.Ordered] struct {
	ID        T
	Order     int
	DependsOn map[T]struct{}
}

// DirectedAcyclicGraph keeps vertices and their dependency sets.
// An edge "A depends on B" means B must come before A.
type DirectedAcyclicGraph[T cmp.Ordered] struct {
	Vertices map[T]*Vertex[T]
}

// NewDirectedAcyclicGraph returns an empty graph.
func NewDirectedAcyclicGraph[T cmp.Ordered]() *DirectedAcyclicGraph[T] {
	return &DirectedAcyclicGraph[T]{Vertices: make(map[T]*Vertex[T])}
}

// CycleError is returned when an edge would close a cycle.
type CycleError[T cmp.Ordered] struct {
	Cycle []T
}

func (e *CycleError[T]) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, v := range e.Cycle {
		parts[i] = fmt.Sprint(v)
	}
	return "dependency cycle: " + strings.Join(parts, " -> ")
}

// AsCycleError extracts a *CycleError from err, or returns nil.
func AsCycleError[T cmp.Ordered](err error) *CycleError[T] {
	var ce *CycleError[T]
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}

// AddVertex adds a node. Adding the same id twice is an error.
func (d *DirectedAcyclicGraph[T]) AddVertex(id T, order int) error {
	if _, exists := d.Vertices[id]; exists {
		return fmt.Errorf("node %v already exists", id)
	}
	d.Vertices[id] = &Vertex[T]{
		ID:        id,
		Order:     order,
		DependsOn: make(map[T]struct{}),
	}
	return nil
}

// AddDependencies records that from depends on every node in deps.
// The graph is left unchanged when any edge is invalid or closes a cycle.
func (d *DirectedAcyclicGraph[T]) AddDependencies(from T, deps []T) error {
	v, ok := d.Vertices[from]
	if !ok {
		return fmt.Errorf("node %v does not exist", from)
	}
	added := make([]T, 0, len(deps))
	for _, dep := range deps {
		if dep == from {
			d.rollback(v, added)
			return fmt.Errorf("node %v cannot depend on itself", from)
		}
		if _, ok := d.Vertices[dep]; !ok {
			d.rollback(v, added)
			return fmt.Errorf("dependency %v of %v does not exist", dep, from)
		}
		if _, dup := v.DependsOn[dep]; dup {
			continue
		}
		v.DependsOn[dep] = struct{}{}
		added = append(added, dep)
	}
	if cyclic, cycle := d.hasCycle(); cyclic {
		d.rollback(v, added)
		return &CycleError[T]{Cycle: cycle}
	}
	return nil
}

func (d *DirectedAcyclicGraph[T]) rollback(v *Vertex[T], added []T) {
	for _, dep := range added {
		delete(v.DependsOn, dep)
	}
}

// sortedIDs returns vertex ids ordered by insertion rank.
func (d *DirectedAcyclicGraph[T]) sortedIDs() []T {
	ids := make([]T, 0, len(d.Vertices))
	for id := range d.Vertices {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b T) int {
		if c := cmp.Compare(d.Vertices[a].Order, d.Vertices[b].Order); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return ids
}

func (d *DirectedAcyclicGraph[T]) hasCycle() (bool, []T) {
	const (
		white = iota
		grey
		black
	)
	color := make(map[T]int, len(d.Vertices))
	var path []T
	var cycle []T

	var visit func(id T) bool
	visit = func(id T) bool {
		color[id] = grey
		path = append(path, id)
		deps := make([]T, 0, len(d.Vertices[id].DependsOn))
		for dep := range d.Vertices[id].DependsOn {
			deps = append(deps, dep)
		}
		slices.Sort(deps)
		for _, dep := range deps {
			switch color[dep] {
			case grey:
				start := slices.Index(path, dep)
				cycle = append(slices.Clone(path[start:]), dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	for _, id := range d.sortedIDs() {
		if color[id] == white && visit(id) {
			return true, cycle
		}
	}
	return false, nil
}

// TopologicalSortLevels groups vertices into levels: every vertex only depends
// on vertices of earlier levels. Within a level insertion order is kept.
func (d *DirectedAcyclicGraph[T]) TopologicalSortLevels() ([][]T, error) {
	if cyclic, cycle := d.hasCycle(); cyclic {
		return nil, &CycleError[T]{Cycle: cycle}
	}

	remaining := make(map[T]int, len(d.Vertices))
	dependents := make(map[T][]T, len(d.Vertices))
	for id, v := range d.Vertices {
		remaining[id] = len(v.DependsOn)
		for dep := range v.DependsOn {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var current []T
	for _, id := range d.sortedIDs() {
		if remaining[id] == 0 {
			current = append(current, id)
		}
	}

	var levels [][]T
	for len(current) > 0 {
		levels = append(levels, current)
		var next []T
		for _, id := range current {
			for _, dependent := range dependents[id] {
				remaining[dependent]--
				if remaining[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		slices.SortFunc(next, func(a, b T) int {
			return cmp.Compare(d.Vertices[a].Order, d.Vertices[b].Order)
		})
		current = next
	}
	return levels, nil
}

// TopologicalSort returns all vertices with dependencies first.
func (d *DirectedAcyclicGraph[T]) TopologicalSort() ([]T, error) {
	levels, err := d.TopologicalSortLevels()
	if err != nil {
		return nil, err
	}
	order := make([]T, 0, len(d.Vertices))
	for _, level := range levels {
		order = append(order, level...)
	}
	return order, nil
}
