/*
 * MIT License
 *
 * Copyright (c) 2026 The corelib Authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package depgraph

import "sort"

// tarjan computes strongly connected components over the node arena,
// returning each SCC as a slice of node indices, in reverse topological
// order of discovery (Tarjan's algorithm's natural output order).
func (g *Graph) tarjan() [][]int {
	n := len(g.nodes)

	index := make([]int, n)
	lowlink := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}

	var stack []int
	var sccs [][]int
	counter := 0

	var strongconnect func(v int)
	strongconnect = func(v int) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, e := range g.outgoingNonDeferred(v) {
			w := g.index[e.To]
			if index[w] == -1 {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if index[w] < lowlink[v] {
					lowlink[v] = index[w]
				}
			}
		}

		if lowlink[v] == index[v] {
			var scc []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for v := 0; v < n; v++ {
		if index[v] == -1 {
			strongconnect(v)
		}
	}

	return sccs
}

// tier computes SCCs, breaks cycles by nominating one deferred edge per
// circular group, and partitions the resulting condensation DAG into
// topological tiers via Kahn's algorithm. Deterministic given a
// deterministic node/edge insertion order.
func (g *Graph) tier() error {
	sccs := g.tarjan()

	compOf := make([]int, len(g.nodes))
	for ci, scc := range sccs {
		for _, v := range scc {
			compOf[v] = ci
		}
	}

	isCircular := make([]bool, len(sccs))
	for ci, scc := range sccs {
		if len(scc) > 1 {
			isCircular[ci] = true
			continue
		}
		v := scc[0]
		name := g.nodes[v]
		for _, e := range g.edges {
			if e.From == name && e.To == name {
				isCircular[ci] = true
			}
		}
	}

	for ci, scc := range sccs {
		if !isCircular[ci] {
			continue
		}
		g.breakCycle(scc)
	}

	// tarjan only follows non-deferred edges, so recomputing the components
	// now splits every broken cycle into members that are tiered by their
	// remaining dependencies.
	sccs = g.tarjan()
	for ci, scc := range sccs {
		for _, v := range scc {
			compOf[v] = ci
		}
	}

	// Build the condensation DAG: for each component, the set of distinct
	// other components it depends on (edges component -> dependency),
	// excluding deferred edges.
	nComp := len(sccs)
	adj := make(map[int]map[int]bool, nComp)

	for _, e := range g.edges {
		if e.Deferred {
			continue
		}
		from := compOf[g.index[e.From]]
		to := compOf[g.index[e.To]]
		if from == to {
			continue
		}
		if adj[from] == nil {
			adj[from] = map[int]bool{}
		}
		adj[from][to] = true
	}

	// Kahn's: a component is ready once all of its dependencies have been
	// placed in an earlier tier.
	placed := make([]bool, nComp)
	tierOf := make([]int, nComp)

	remaining := nComp
	tierIdx := 0
	for remaining > 0 {
		var ready []int
		for ci := 0; ci < nComp; ci++ {
			if placed[ci] {
				continue
			}
			deps := adj[ci]
			ok := true
			for dep := range deps {
				if !placed[dep] {
					ok = false
					break
				}
			}
			if ok {
				ready = append(ready, ci)
			}
		}
		if len(ready) == 0 {
			return errCycleNotBroken
		}

		sort.Ints(ready)
		for _, ci := range ready {
			placed[ci] = true
			tierOf[ci] = tierIdx
			remaining--
		}
		tierIdx++
	}

	tiers := make([][]string, tierIdx)
	for ci, scc := range sccs {
		t := tierOf[ci]
		names := make([]string, 0, len(scc))
		for _, v := range scc {
			names = append(names, g.nodes[v])
		}
		sort.Strings(names)
		tiers[t] = append(tiers[t], names...)
	}
	for i := range tiers {
		sort.Strings(tiers[i])
	}

	g.Tiers = tiers

	g.DeferredFields = map[string][]string{}
	for _, e := range g.edges {
		if !e.Deferred {
			continue
		}
		g.CircularRefs = append(g.CircularRefs, e)
		fields := g.DeferredFields[e.From]
		fields = append(fields, e.Field)
		sort.Strings(fields)
		g.DeferredFields[e.From] = fields
	}

	return nil
}

// breakCycle nominates exactly one deferred edge per cycle within scc,
// preferring a non-mandatory edge; ties are broken deterministically by
// (from_entity, field_name) lexicographic order.
func (g *Graph) breakCycle(scc []int) {
	members := make(map[string]bool, len(scc))
	for _, v := range scc {
		members[g.nodes[v]] = true
	}

	var candidates []int // indices into g.edges
	for i, e := range g.edges {
		if e.Deferred {
			continue
		}
		if members[e.From] && members[e.To] {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := g.edges[candidates[i]], g.edges[candidates[j]]
		if a.Required != b.Required {
			return !a.Required // prefer non-mandatory (Required == false) first
		}
		if a.From != b.From {
			return a.From < b.From
		}
		return a.Field < b.Field
	})

	g.edges[candidates[0]].Deferred = true

	// A single deferred edge may not break every internal cycle of an SCC
	// with more than two members; re-check by recomputing SCCs restricted
	// to this group and deferring additional edges until the group is
	// acyclic.
	for g.hasInternalCycle(members) {
		var next []int
		for i, e := range g.edges {
			if e.Deferred {
				continue
			}
			if members[e.From] && members[e.To] {
				next = append(next, i)
			}
		}
		if len(next) == 0 {
			break
		}
		sort.Slice(next, func(i, j int) bool {
			a, b := g.edges[next[i]], g.edges[next[j]]
			if a.Required != b.Required {
				return !a.Required
			}
			if a.From != b.From {
				return a.From < b.From
			}
			return a.Field < b.Field
		})
		g.edges[next[0]].Deferred = true
	}
}

func (g *Graph) hasInternalCycle(members map[string]bool) bool {
	// Simple DFS cycle check restricted to members, over non-deferred edges.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(members))
	for m := range members {
		color[m] = white
	}

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = gray
		for _, e := range g.edges {
			if e.Deferred || e.From != name || !members[e.To] {
				continue
			}
			switch color[e.To] {
			case gray:
				return true
			case white:
				if visit(e.To) {
					return true
				}
			}
		}
		color[name] = black
		return false
	}

	for m := range members {
		if color[m] == white {
			if visit(m) {
				return true
			}
		}
	}
	return false
}

var errCycleNotBroken = &graphError{"condensation graph still contains a cycle after deferred-edge selection"}

type graphError struct{ msg string }

func (e *graphError) Error() string { return e.msg }
