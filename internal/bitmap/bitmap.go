// Package bitmap implements the bitmap reachability engine (C5): it
// materializes the N×N admission matrix described in §3/§4.4 in a single
// linear pass over policies, using bitset intersection/union over the
// workload index space.
package bitmap

import (
	"github.com/netreach/netreach/internal/bitset"
	"github.com/netreach/netreach/internal/flags"
	"github.com/netreach/netreach/internal/labelindex"
	"github.com/netreach/netreach/internal/model"
	"github.com/netreach/netreach/internal/selector"
)

// Matrix is the built N×N admission matrix. M.Allowed(i, j) reports
// whether workload i is admitted as source of traffic to destination j.
// It is derived once by Build and never mutated afterward.
type Matrix struct {
	n    int
	rows []*bitset.Bitset // rows[i] is the set of destinations i may reach

	transpose []*bitset.Bitset // transpose[j] is the set of sources that may reach j; nil unless flags.BuildTransposeMatrix
}

// N returns the workload count the matrix was built over.
func (m *Matrix) N() int { return m.n }

// Allowed reports whether M[i][j] = 1.
func (m *Matrix) Allowed(i, j int) bool {
	return m.rows[i].Test(j)
}

// Row returns the destinations reachable from source i (a fresh clone;
// callers may mutate it freely).
func (m *Matrix) Row(i int) *bitset.Bitset {
	return m.rows[i].Clone()
}

// Tuples returns every (i, j) with M[i][j] = 1, sorted the same way
// relation.Engine.Tuples sorts its tuples — so a bitmap Matrix and a
// relation engine's edge relation can be compared directly (§8 property 2).
func (m *Matrix) Tuples() [][]int {
	var out [][]int
	for i := 0; i < m.n; i++ {
		for _, j := range m.rows[i].Bits() {
			out = append(out, []int{i, j})
		}
	}
	return out
}

// Col returns the sources that can reach destination j (a fresh clone).
// Uses the precomputed transpose if available, otherwise assembles it on
// demand.
func (m *Matrix) Col(j int) *bitset.Bitset {
	if m.transpose != nil {
		return m.transpose[j].Clone()
	}
	col := bitset.New(m.n)
	for i := 0; i < m.n; i++ {
		if m.rows[i].Test(j) {
			col.Set(i)
		}
	}
	return col
}

// Build runs the §4.4 algorithm: two working matrices (IN/OUT keyed by
// destination/source), a "seen" bitset recording which workloads have been
// touched by a selecting policy, and a single linear pass over policies
// that is additive and order-independent (§8 property 1).
func Build(m *model.Model, f flags.Flags) *Matrix {
	n := len(m.Workloads)

	wIdx := labelindex.Build(n, func(i int) map[string]string { return m.Workloads[i].Labels })
	nsIdx := labelindex.Build(len(m.Namespaces), func(i int) map[string]string { return m.Namespaces[i].Labels })
	nsWorkloads := namespaceWorkloadSets(m)

	in := make([]*bitset.Bitset, n)  // in[j]: sources admitted to reach j
	out := make([]*bitset.Bitset, n) // out[i]: destinations i may emit toward
	seen := bitset.New(n)

	for i := 0; i < n; i++ {
		in[i] = bitset.New(n)
		out[i] = bitset.New(n)
		if f.CheckSelectByNoPolicy {
			in[i].SetAll()
			out[i].SetAll()
		}
	}
	if !f.CheckSelectByNoPolicy {
		seen.SetAll()
	}

	allWorkloads := bitset.New(n)
	allWorkloads.SetAll()

	for pi := range m.Policies {
		p := &m.Policies[pi]
		homeNS := m.NamespaceIndex[p.HomeNamespace]
		homeScope := nsWorkloads[homeNS]

		if p.PodSelector == nil {
			// Absent selector: policy selects nothing, contributes no
			// admissions at all (§3 "Absent selector").
			continue
		}
		selected := selector.Evaluate(p.PodSelector, homeScope, wIdx)
		if selected.Count() == 0 {
			continue
		}

		isIngress := p.HasType(model.PolicyTypeIngress)
		isEgress := p.HasType(model.PolicyTypeEgress)

		// Clearing must happen before any admission is OR'd in for a
		// workload selected for the first time (§4.4 step 1), regardless
		// of which rule direction triggers it.
		if isIngress || isEgress {
			for _, wi := range selected.Bits() {
				if seen.Test(wi) {
					continue
				}
				out[wi].ClearAll()
				in[wi].ClearAll()
				seen.Set(wi)
			}
		}

		if isIngress {
			allow := unionPeers(p.Ingress, homeNS, nsIdx, wIdx, nsWorkloads, allWorkloads)
			for _, wi := range selected.Bits() {
				in[wi].Or(allow)
			}
		}
		if isEgress {
			allow := unionPeers(p.Egress, homeNS, nsIdx, wIdx, nsWorkloads, allWorkloads)
			for _, wi := range selected.Bits() {
				out[wi].Or(allow)
			}
		}
	}

	// M[i][j] = OUT[i][j] ∧ IN[j][i] (§4.4): IN is indexed by destination,
	// so the source-indexed view needed for row i requires IN's transpose.
	inT := make([]*bitset.Bitset, n)
	for i := 0; i < n; i++ {
		inT[i] = bitset.New(n)
	}
	for j := 0; j < n; j++ {
		for _, i := range in[j].Bits() {
			inT[i].Set(j)
		}
	}

	rows := make([]*bitset.Bitset, n)
	for i := 0; i < n; i++ {
		rows[i] = bitset.And2(out[i], inT[i])
		if f.CheckSelfIngressTraffic {
			// OR the identity into M (§4.4): forces M[i][i]=1 regardless
			// of what OUT/IN independently admit.
			rows[i].Set(i)
		}
	}

	mat := &Matrix{n: n, rows: rows}
	if f.BuildTransposeMatrix {
		mat.transpose = make([]*bitset.Bitset, n)
		for j := 0; j < n; j++ {
			col := bitset.New(n)
			for i := 0; i < n; i++ {
				if rows[i].Test(j) {
					col.Set(i)
				}
			}
			mat.transpose[j] = col
		}
	}
	return mat
}

// namespaceWorkloadSets returns, for each namespace index, the bitset of
// workloads residing in it.
func namespaceWorkloadSets(m *model.Model) []*bitset.Bitset {
	sets := make([]*bitset.Bitset, len(m.Namespaces))
	n := len(m.Workloads)
	for i := range sets {
		sets[i] = bitset.New(n)
	}
	for _, w := range m.Workloads {
		nsIdx, ok := m.NamespaceIndex[w.Namespace]
		if !ok {
			continue
		}
		sets[nsIdx].Set(w.Index)
	}
	return sets
}

// unionPeers evaluates a rule list's peers (OR'd together) to the bitset of
// admitted workloads, scoped per §3/§4.4: pod-selector-only peers are
// scoped to the policy's home namespace; namespace-selector peers (with or
// without an accompanying pod selector) widen scope to the matching
// namespaces' workloads.
//
// Peers == nil means "allow any workload" (the rule list itself, not an
// individual peer, carries this meaning — see callers).
func unionPeers(rules []model.Rule, homeNS int, nsIdx, wIdx *labelindex.Index, nsWorkloads []*bitset.Bitset, allWorkloads *bitset.Bitset) *bitset.Bitset {
	n := allWorkloads.Len()
	allow := bitset.New(n)
	for _, r := range rules {
		if r.Peers == nil {
			// peers == null => allow any workload.
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
		// Non-goal: never evaluated, contributes nothing (§1).
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

	default: // model.PeerPodSelector, scoped to the policy's home namespace
		if peer.PodSelector == nil {
			return bitset.New(n)
		}
		return selector.Evaluate(peer.PodSelector, nsWorkloads[homeNS], wIdx)
	}
}
