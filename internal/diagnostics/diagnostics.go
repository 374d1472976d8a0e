// Package diagnostics implements the C8 queries: cross-tenant leaks,
// designated-system isolation, unconditional reachability/isolation, and
// policy shadow/conflict. All queries are pure, side-effect-free readers
// over either the bitmap engine's Matrix or the relation engine's edge
// relation (§4.7); none of them fail.
package diagnostics

import (
	"sort"

	"github.com/netreach/netreach/internal/bitmap"
	"github.com/netreach/netreach/internal/bitset"
	"github.com/netreach/netreach/internal/labelindex"
	"github.com/netreach/netreach/internal/model"
	"github.com/netreach/netreach/internal/relation"
	"github.com/netreach/netreach/internal/selector"
)

// Pair is an ordered pair of workload or policy indices, as returned by the
// shadow and conflict queries.
type Pair struct {
	A, B int
}

// AllReachable returns { j | every i admits i -> j }, read directly from M.
func AllReachable(m *bitmap.Matrix) []int {
	n := m.N()
	var out []int
	for j := 0; j < n; j++ {
		all := true
		for i := 0; i < n; i++ {
			if !m.Allowed(i, j) {
				all = false
				break
			}
		}
		if all {
			out = append(out, j)
		}
	}
	return out
}

// AllIsolated returns { j | no i admits i -> j }.
func AllIsolated(m *bitmap.Matrix) []int {
	n := m.N()
	var out []int
	for j := 0; j < n; j++ {
		none := true
		for i := 0; i < n; i++ {
			if m.Allowed(i, j) {
				none = false
				break
			}
		}
		if none {
			out = append(out, j)
		}
	}
	return out
}

// sentinelLabel is the value substituted for a workload lacking label L,
// so cross-tenant comparisons never special-case a missing key as an error
// (§4.7 "unknown label key... not an error").
const sentinelLabel = "\x00absent\x00"

func labelValue(w model.Workload, label string) string {
	if v, ok := w.Labels[label]; ok {
		return v
	}
	return sentinelLabel
}

// CrossTenant returns { j | some i admits i -> j and L(i) != L(j) }, using
// the sentinel value above for workloads missing the label.
func CrossTenant(m *bitmap.Matrix, workloads []model.Workload, label string) []int {
	n := m.N()
	seen := make(map[int]bool)
	for j := 0; j < n; j++ {
		lj := labelValue(workloads[j], label)
		for i := 0; i < n; i++ {
			if m.Allowed(i, j) && labelValue(workloads[i], label) != lj {
				seen[j] = true
				break
			}
		}
	}
	return sortedKeys(seen)
}

// SystemIsolation returns { j | M[s][j] = 0 }: the egress view of workload
// s's reach, with no path composition (§4.7).
func SystemIsolation(m *bitmap.Matrix, s int) []int {
	n := m.N()
	var out []int
	for j := 0; j < n; j++ {
		if !m.Allowed(s, j) {
			out = append(out, j)
		}
	}
	return out
}

// AllReachableFromEdges and AllIsolatedFromEdges mirror AllReachable and
// AllIsolated over the relation engine's edge(s,d) tuples, for comparing
// C5 and C6 output (§8 property 2).
func AllReachableFromEdges(eng *relation.Engine, n int) []int {
	reach := reachMatrix(eng, n)
	var out []int
	for j := 0; j < n; j++ {
		all := true
		for i := 0; i < n; i++ {
			if !reach[i][j] {
				all = false
				break
			}
		}
		if all {
			out = append(out, j)
		}
	}
	return out
}

func AllIsolatedFromEdges(eng *relation.Engine, n int) []int {
	reach := reachMatrix(eng, n)
	var out []int
	for j := 0; j < n; j++ {
		none := true
		for i := 0; i < n; i++ {
			if reach[i][j] {
				none = false
				break
			}
		}
		if none {
			out = append(out, j)
		}
	}
	return out
}

func reachMatrix(eng *relation.Engine, n int) [][]bool {
	reach := make([][]bool, n)
	for i := range reach {
		reach[i] = make([]bool, n)
	}
	for _, t := range eng.Tuples("edge") {
		reach[t[0]][t[1]] = true
	}
	return reach
}

func sortedKeys(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// policySets computes, for each policy, the bitset of workloads it selects
// and the bitsets of workloads its ingress/egress rules admit — using the
// same C3/C4 machinery as the bitmap engine (§4.4), so shadow/conflict
// never need a full relation-engine evaluation to answer.
type policySets struct {
	selected []*bitset.Bitset
	ingress  []*bitset.Bitset
	egress   []*bitset.Bitset
}

func buildPolicySets(m *model.Model) policySets {
	n := len(m.Workloads)
	wIdx := labelindex.Build(n, func(i int) map[string]string { return m.Workloads[i].Labels })
	nsIdx := labelindex.Build(len(m.Namespaces), func(i int) map[string]string { return m.Namespaces[i].Labels })

	nsWorkloads := make([]*bitset.Bitset, len(m.Namespaces))
	for i := range nsWorkloads {
		nsWorkloads[i] = bitset.New(n)
	}
	for _, w := range m.Workloads {
		if nsi, ok := m.NamespaceIndex[w.Namespace]; ok {
			nsWorkloads[nsi].Set(w.Index)
		}
	}
	allWorkloads := bitset.New(n)
	allWorkloads.SetAll()

	ps := policySets{
		selected: make([]*bitset.Bitset, len(m.Policies)),
		ingress:  make([]*bitset.Bitset, len(m.Policies)),
		egress:   make([]*bitset.Bitset, len(m.Policies)),
	}
	for i := range m.Policies {
		ps.selected[i] = bitset.New(n)
		ps.ingress[i] = bitset.New(n)
		ps.egress[i] = bitset.New(n)
	}

	for pi := range m.Policies {
		p := &m.Policies[pi]
		homeNS, ok := m.NamespaceIndex[p.HomeNamespace]
		if !ok || p.PodSelector == nil {
			continue
		}
		ps.selected[pi] = selector.Evaluate(p.PodSelector, nsWorkloads[homeNS], wIdx)
		ps.ingress[pi] = unionRulePeers(p.Ingress, homeNS, nsIdx, wIdx, nsWorkloads, allWorkloads)
		ps.egress[pi] = unionRulePeers(p.Egress, homeNS, nsIdx, wIdx, nsWorkloads, allWorkloads)
	}
	return ps
}

func unionRulePeers(rules []model.Rule, homeNS int, nsIdx, wIdx *labelindex.Index, nsWorkloads []*bitset.Bitset, allWorkloads *bitset.Bitset) *bitset.Bitset {
	n := allWorkloads.Len()
	allow := bitset.New(n)
	for _, r := range rules {
		if r.Peers == nil {
			allow.Or(allWorkloads)
			continue
		}
		for _, peer := range r.Peers {
			allow.Or(evaluatePeer(peer, homeNS, nsIdx, wIdx, nsWorkloads))
		}
	}
	return allow
}

func evaluatePeer(peer model.Peer, homeNS int, nsIdx, wIdx *labelindex.Index, nsWorkloads []*bitset.Bitset) *bitset.Bitset {
	n := wIdx.Len()
	switch peer.Kind {
	case model.PeerIPBlock:
		return bitset.New(n)
	case model.PeerNamespaceSelector:
		if peer.NamespaceSelector == nil {
			return bitset.New(n)
		}
		allNS := bitset.New(nsIdx.Len())
		allNS.SetAll()
		matchedNS := selector.Evaluate(peer.NamespaceSelector, allNS, nsIdx)
		scope := bitset.New(n)
		for _, nsi := range matchedNS.Bits() {
			scope.Or(nsWorkloads[nsi])
		}
		if peer.PodSelector == nil {
			return scope
		}
		return selector.Evaluate(peer.PodSelector, scope, wIdx)
	default:
		if peer.PodSelector == nil {
			return bitset.New(n)
		}
		return selector.Evaluate(peer.PodSelector, nsWorkloads[homeNS], wIdx)
	}
}

func subset(a, b *bitset.Bitset) bool {
	return bitset.And2(a, b).Equal(a)
}

func disjoint(a, b *bitset.Bitset) bool {
	return bitset.And2(a, b).AllClear()
}

// PolicyShadow returns { (a,b) | a != b and b covers a on selection and both
// admission sides } (§4.7's full definition, not the narrower per-pod fast
// path the source used — see the design notes on why that path under-counts).
func PolicyShadow(m *model.Model) []Pair {
	ps := buildPolicySets(m)
	var out []Pair
	for a := range m.Policies {
		for b := range m.Policies {
			if a == b {
				continue
			}
			if subset(ps.selected[a], ps.selected[b]) &&
				subset(ps.ingress[a], ps.ingress[b]) &&
				subset(ps.egress[a], ps.egress[b]) {
				out = append(out, Pair{A: a, B: b})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// PolicyConflict returns { (a,b) | a != b and their selection, ingress and
// egress admission sets are pairwise disjoint }.
func PolicyConflict(m *model.Model) []Pair {
	ps := buildPolicySets(m)
	var out []Pair
	for a := range m.Policies {
		for b := range m.Policies {
			if a == b {
				continue
			}
			if disjoint(ps.selected[a], ps.selected[b]) &&
				disjoint(ps.ingress[a], ps.ingress[b]) &&
				disjoint(ps.egress[a], ps.egress[b]) {
				out = append(out, Pair{A: a, B: b})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}
