// Package flags holds the four engine configuration flags from §6 that
// both the bitmap engine (C5) and the relation engine (via the compiler,
// C6/C7) must agree on.
package flags

// Flags are supplied at engine construction and must be held identical
// across the bitmap and relation engines for their outputs to be
// comparable (§8 property 2, engine equivalence).
type Flags struct {
	// CheckSelfIngressTraffic forces M[i][i] = 1 for every workload i.
	CheckSelfIngressTraffic bool
	// CheckSelectByNoPolicy selects the initial state: false is
	// restrictive (no implicit allow), true is permissive (workloads
	// untouched by any policy stay fully reachable).
	CheckSelectByNoPolicy bool
	// BuildTransposeMatrix precomputes column access for the bitmap
	// engine; it changes performance, never results.
	BuildTransposeMatrix bool
	// GroundDefaultPod enables the §4.6 optimization of emitting
	// ingress_ok/egress_ok facts for unselected workloads directly,
	// instead of relying on the permissive rules at query time.
	GroundDefaultPod bool
}

// Default returns the engine's default flag combination: restrictive
// default-deny is not implied; §4.4 says permissive is the default for
// workloads untouched by policy, matched here.
func Default() Flags {
	return Flags{
		CheckSelfIngressTraffic: false,
		CheckSelectByNoPolicy:   true,
		BuildTransposeMatrix:    false,
		GroundDefaultPod:        true,
	}
}
