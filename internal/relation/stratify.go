package relation

import (
	"errors"
	"fmt"
	"sort"
)

// ErrCyclicNegation is returned by Stratify when the predicate dependency
// graph has a cycle crossing a negated edge. Callers can test for it with
// errors.Is; the wrapping error names the specific predicates involved.
var ErrCyclicNegation = errors.New("relation: cyclic negation")

// edge records a dependency discovered from a rule body: head depends on
// the body atom's relation, negatively if the atom is negated.
type edge struct {
	to       string
	negative bool
}

// Stratify computes an evaluation order over the engine's derived
// predicates, grouping predicates that recurse through only positive edges
// into the same stratum and ordering strata so every negated dependency is
// computed in a strictly earlier stratum (§4.5, §9). It runs after all facts
// and rules are loaded; Evaluate calls it if it has not run yet, and calls
// after the first are no-ops.
//
// Stratify fails loudly (returns an error naming the offending predicates)
// if any cycle in the predicate dependency graph crosses a negated edge —
// the source's informal evaluator elides this check; this implementation
// does not.
func (e *Engine) Stratify() error {
	if e.stratified {
		return nil
	}

	graph := make(map[string][]edge)
	nodes := make(map[string]bool)
	for name := range e.relations {
		nodes[name] = true
	}
	for _, r := range e.rules {
		nodes[r.Head.Relation] = true
		for _, atom := range r.Body {
			nodes[atom.Relation] = true
			graph[atom.Relation] = append(graph[atom.Relation], edge{to: r.Head.Relation, negative: atom.Negated})
		}
	}

	sccs, sccOf := tarjanSCCs(nodes, graph)

	// A cycle through negation is a within-SCC negative edge (including a
	// negated self-loop, which Tarjan reports as its own singleton SCC only
	// when it truly has no other edges — singleton SCCs still need a
	// self-edge check).
	for from, edges := range graph {
		for _, ed := range edges {
			if sccOf[from] == sccOf[ed.to] && ed.negative {
				return fmt.Errorf("%w: through predicates %q and %q (stratum cycle)", ErrCyclicNegation, from, ed.to)
			}
		}
	}

	// Condensation DAG: one node per SCC, edges from predicate-level edges
	// that cross SCCs. Strata are assigned by longest-path-from-source over
	// this DAG so every dependency (positive or negative) lands at or
	// before its dependent's stratum, and negative dependents strictly
	// after — guaranteed here since same-SCC negative edges were rejected
	// above, so any negative edge is already cross-SCC.
	sccCount := len(sccs)
	sccEdges := make(map[int]map[int]bool)
	for from, edges := range graph {
		for _, ed := range edges {
			a, b := sccOf[from], sccOf[ed.to]
			if a == b {
				continue
			}
			if sccEdges[a] == nil {
				sccEdges[a] = make(map[int]bool)
			}
			sccEdges[a][b] = true
		}
	}

	stratumOf := make([]int, sccCount)
	order := topoOrder(sccCount, sccEdges)
	for _, s := range order {
		max := -1
		for from, tos := range sccEdges {
			if tos[s] && stratumOf[from] > max {
				max = stratumOf[from]
			}
		}
		stratumOf[s] = max + 1
	}

	maxStratum := 0
	for _, s := range stratumOf {
		if s > maxStratum {
			maxStratum = s
		}
	}
	e.strata = make([][]string, maxStratum+1)
	for i, members := range sccs {
		st := stratumOf[i]
		e.strata[st] = append(e.strata[st], members...)
	}
	for _, members := range e.strata {
		sort.Strings(members)
	}

	e.stratified = true
	return nil
}

// tarjanSCCs computes strongly connected components of the predicate graph
// and returns them plus a predicate->component-index map.
func tarjanSCCs(nodes map[string]bool, graph map[string][]edge) ([][]string, map[string]int) {
	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var sccs [][]string
	sccOf := make(map[string]int)

	names := make([]string, 0, len(nodes))
	for n := range nodes {
		names = append(names, n)
	}
	sort.Strings(names) // deterministic traversal order

	var strongconnect func(v string)
	strongconnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		edges := append([]edge(nil), graph[v]...)
		sort.Slice(edges, func(i, j int) bool { return edges[i].to < edges[j].to })
		for _, ed := range edges {
			w := ed.to
			if _, visited := indices[w]; !visited {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			var comp []string
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			sort.Strings(comp)
			idx := len(sccs)
			for _, w := range comp {
				sccOf[w] = idx
			}
			sccs = append(sccs, comp)
		}
	}

	for _, n := range names {
		if _, visited := indices[n]; !visited {
			strongconnect(n)
		}
	}
	return sccs, sccOf
}

// topoOrder returns a topological order over [0, n) given the adjacency
// sccEdges[a][b] meaning a must precede b.
func topoOrder(n int, edges map[int]map[int]bool) []int {
	indeg := make([]int, n)
	for _, tos := range edges {
		for b := range tos {
			indeg[b]++
		}
	}
	var queue []int
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			queue = append(queue, i)
		}
	}
	sort.Ints(queue)
	var order []int
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		order = append(order, v)
		tos := make([]int, 0, len(edges[v]))
		for b := range edges[v] {
			tos = append(tos, b)
		}
		sort.Ints(tos)
		for _, b := range tos {
			indeg[b]--
			if indeg[b] == 0 {
				queue = append(queue, b)
			}
		}
		sort.Ints(queue)
	}
	return order
}
