// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"container/heap"
	"strings"
)

// ValidateGraph checks ids and the dependency relation: every action needs
// an id, ids are unique, each dependency names an action in the plan, and
// the dependency relation is acyclic. Errors are *GraphError.
func ValidateGraph(p *Plan) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := checkIDs(p.Actions); err != nil {
		return err
	}
	if err := checkDependencies(p.Actions); err != nil {
		return err
	}
	g := newGraph(p.Actions)
	if order := g.topoOrder(); len(order) == len(p.Actions) {
		return nil
	}
	return cycleError(g.findCycle())
}

// Order returns action ids in a dependency-respecting order. Among actions
// that are ready at the same time, declaration order wins.
func Order(p *Plan) ([]string, error) {
	if err := ValidateGraph(p); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	g := newGraph(p.Actions)
	order := g.topoOrder()
	ids := make([]string, len(order))
	for i, n := range order {
		ids[i] = p.Actions[n].ID
	}
	return ids, nil
}

func checkIDs(actions []Action) error {
	seen := make(map[string]struct{}, len(actions))
	for i, a := range actions {
		if strings.TrimSpace(a.ID) == "" {
			return invalidf("action %d has an empty id", i+1)
		}
		if _, dup := seen[a.ID]; dup {
			return &GraphError{Kind: ErrDuplicateAction, Msg: a.ID}
		}
		seen[a.ID] = struct{}{}
	}
	return nil
}

func checkDependencies(actions []Action) error {
	ids := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		ids[a.ID] = struct{}{}
	}
	for _, a := range actions {
		for _, dep := range a.Dependencies {
			if _, ok := ids[dep]; !ok {
				return &GraphError{Kind: ErrUnknownDependency, Msg: a.ID + " depends on " + dep}
			}
		}
	}
	return nil
}

// =============================================================================
// GRAPH
// =============================================================================

// graph indexes actions by declaration position. Edges run from a
// dependency to its dependents.
type graph struct {
	ids      []string
	outgoing [][]int
	indeg    []int
}

func newGraph(actions []Action) *graph {
	g := &graph{
		ids:      make([]string, len(actions)),
		outgoing: make([][]int, len(actions)),
		indeg:    make([]int, len(actions)),
	}
	pos := make(map[string]int, len(actions))
	for i, a := range actions {
		g.ids[i] = a.ID
		pos[a.ID] = i
	}
	for i, a := range actions {
		for _, dep := range a.Dependencies {
			d, ok := pos[dep]
			if !ok {
				continue
			}
			g.outgoing[d] = append(g.outgoing[d], i)
			g.indeg[i]++
		}
	}
	return g
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrder runs Kahn's algorithm with a min-heap over declaration index.
// A result shorter than the node count means a cycle exists.
func (g *graph) topoOrder() []int {
	indeg := append([]int(nil), g.indeg...)
	ready := &intMinHeap{}
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}
	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle returns one cycle as a closed id path, e.g. [a b a].
func (g *graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(g.ids))
	parent := make([]int, len(g.ids))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				// Back edge u -> v closes v ... u -> v.
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range g.ids {
		if color[i] == white && dfs(i) {
			break
		}
	}

	out := make([]string, 0, len(cycle))
	for i := len(cycle) - 1; i >= 0; i-- {
		out = append(out, g.ids[cycle[i]])
	}
	return out
}
