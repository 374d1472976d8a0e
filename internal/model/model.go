// Package model defines the abstract data model that the network-policy
// verification engines operate over: workloads, namespaces, selectors,
// policies and the rules/peers that compose them. It is deliberately
// independent of any wire format — an external loader is expected to
// produce a Model; how it does so is outside this package's concern.
package model

import "fmt"

// Workload is a named entity ("pod") residing in exactly one namespace and
// carrying a label mapping. Index is assigned at Build time from insertion
// order and is the only identity the engines use internally.
type Workload struct {
	Name      string
	Namespace string
	Labels    map[string]string

	Index int
}

// Namespace is a named, labeled entity. Index is assigned at Build time.
type Namespace struct {
	Name   string
	Labels map[string]string

	Index int
}

// Operator is the kind of a single matchExpressions clause.
type Operator int

const (
	OpIn Operator = iota
	OpNotIn
	OpExists
	OpDoesNotExist
)

func (o Operator) String() string {
	switch o {
	case OpIn:
		return "In"
	case OpNotIn:
		return "NotIn"
	case OpExists:
		return "Exists"
	case OpDoesNotExist:
		return "DoesNotExist"
	default:
		return fmt.Sprintf("Operator(%d)", int(o))
	}
}

// MatchExpression is one clause of a selector's matchExpressions list.
type MatchExpression struct {
	Key      string
	Operator Operator
	Values   []string // used by In / NotIn; ignored by Exists / DoesNotExist
}

// Selector is a conjunction of matchLabels equalities and matchExpressions
// clauses, closed by construction (no open/duck-typed variants).
//
// A nil *Selector is the "absent selector" case: it selects nothing, and a
// rule or peer that carries one is skipped entirely. A non-nil Selector
// with both fields empty is the "present but empty" case: it selects
// everything in scope. Callers must keep these two cases distinct; never
// normalize an absent selector into an empty one or vice versa.
type Selector struct {
	MatchLabels      map[string]string
	MatchExpressions []MatchExpression
}

// IsEmpty reports whether the selector carries no clauses at all (selects
// everything in its scope). Only meaningful on a non-nil Selector.
func (s *Selector) IsEmpty() bool {
	return s == nil || (len(s.MatchLabels) == 0 && len(s.MatchExpressions) == 0)
}

// PolicyType names a direction a NetworkPolicy governs.
type PolicyType string

const (
	PolicyTypeIngress PolicyType = "Ingress"
	PolicyTypeEgress  PolicyType = "Egress"
)

// PeerKind distinguishes the closed set of peer shapes a rule can name.
type PeerKind int

const (
	// PeerPodSelector matches pods by label, scoped to the policy's home
	// namespace unless Peer.NamespaceSelector also widens the scope.
	PeerPodSelector PeerKind = iota
	// PeerNamespaceSelector matches all pods in namespaces selected by
	// NamespaceSelector (PodSelector, if set, further narrows within
	// each matching namespace).
	PeerNamespaceSelector
	// PeerIPBlock is a syntactic element only; the core never evaluates it.
	PeerIPBlock
)

// Peer is one OR-clause of a rule's allowed other side. The pod kind reads
// PodSelector only; the namespace kind reads NamespaceSelector and, if set,
// PodSelector as well. Kind records which interpretation applies so the
// zero value of the unused selector pointer is never mistaken for an
// "absent selector that selects nothing".
type Peer struct {
	Kind PeerKind

	// PodSelector selects pods. Scoped to the rule's home namespace unless
	// NamespaceSelector is also set (Kind == PeerNamespaceSelector with a
	// non-nil PodSelector).
	PodSelector *Selector
	// NamespaceSelector selects namespaces whose pods are all eligible,
	// further narrowed by PodSelector if also present.
	NamespaceSelector *Selector

	// IPBlockCIDR is carried for completeness but never evaluated by the
	// core; Non-goals §1.
	IPBlockCIDR string
}

// NewPodPeer returns a peer scoped to the rule's home namespace, matched by
// sel (which may be nil to mean "selects nothing").
func NewPodPeer(sel *Selector) Peer {
	return Peer{Kind: PeerPodSelector, PodSelector: sel}
}

// NewNamespacePeer returns a peer that widens scope to the workloads of
// every namespace nsSel matches, optionally narrowed further by podSel
// (nil means "every pod in the matched namespaces").
func NewNamespacePeer(nsSel, podSel *Selector) Peer {
	return Peer{Kind: PeerNamespaceSelector, NamespaceSelector: nsSel, PodSelector: podSel}
}

// NewIPBlockPeer returns a peer carrying an ipBlock CIDR. Never evaluated
// by the core (§1 Non-goals); kept only for round-tripping input.
func NewIPBlockPeer(cidr string) Peer {
	return Peer{Kind: PeerIPBlock, IPBlockCIDR: cidr}
}

// Port is carried for completeness; the core never gates admission on it.
type Port struct {
	Protocol string
	Port     int32
	EndPort  *int32
}

// Rule is one ingress or egress rule of a policy: an ordered list of OR'd
// peers, plus ports that are captured but never evaluated.
//
// Peers == nil means "allow from/to any workload" (no restriction).
// Peers == []Peer{} (non-nil, empty) means "allow none".
type Rule struct {
	Peers []Peer
	Ports []Port
}

// Policy is a NetworkPolicy-shaped declarative rule set: a pod selector
// that picks which workloads it isolates/governs, plus ordered ingress and
// egress rule lists.
type Policy struct {
	Name          string
	HomeNamespace string

	// PodSelector governs which workloads this policy selects. Per §3, a
	// nil selector here means the policy selects nothing.
	PodSelector *Selector

	Ingress []Rule
	Egress  []Rule

	// Types, if nil, defaults per Build(): {Ingress} if neither Ingress nor
	// Egress rules are present, otherwise whichever of
	// Ingress/Egress has rules.
	Types []PolicyType

	Index int
}

// HasType reports whether the policy's (possibly defaulted) Types set
// contains t.
func (p *Policy) HasType(t PolicyType) bool {
	for _, pt := range p.Types {
		if pt == t {
			return true
		}
	}
	return false
}

// Warning records a recovered, non-fatal issue found while building a
// Model: a per-policy semantic problem that makes the policy contribute
// nothing, per §7's propagation policy.
type Warning struct {
	Policy  string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("policy %q: %s", w.Policy, w.Message)
}

// Model is the built, indexed snapshot the engines read. It is built once
// and never mutated after Build returns; the dense indices it assigns are
// the only identity the rest of the system uses.
type Model struct {
	Workloads  []Workload
	Namespaces []Namespace
	Policies   []Policy

	// NamespaceIndex maps a namespace name to its dense index.
	NamespaceIndex map[string]int

	// Warnings accumulates recovered per-policy issues (§7): a policy
	// naming a namespace that doesn't exist contributes no admissions but
	// does not abort the build.
	Warnings []Warning
}

// Build assigns dense indices to workloads and namespaces in insertion
// order, validates each policy's home namespace, defaults PolicyTypes, and
// returns the resulting Model. It never mutates its inputs.
//
// A policy whose home namespace does not exist in namespaces is recorded as
// a Warning and excluded from m.Policies (per §3 invariant (ii) and §7: it
// "contributes no admissions"). This is the only construction-time
// condition Build recovers from; a duplicate namespace name is returned as
// an error. Otherwise Build is a pure function of its inputs.
func Build(workloads []Workload, namespaces []Namespace, policies []Policy) (*Model, error) {
	m := &Model{
		NamespaceIndex: make(map[string]int, len(namespaces)),
	}

	m.Namespaces = make([]Namespace, len(namespaces))
	for i, ns := range namespaces {
		ns.Index = i
		if _, dup := m.NamespaceIndex[ns.Name]; dup {
			return nil, fmt.Errorf("model: duplicate namespace name %q", ns.Name)
		}
		m.NamespaceIndex[ns.Name] = i
		m.Namespaces[i] = ns
	}

	m.Workloads = make([]Workload, len(workloads))
	for i, w := range workloads {
		w.Index = i
		m.Workloads[i] = w
	}

	m.Policies = make([]Policy, 0, len(policies))
	for _, p := range policies {
		if _, ok := m.NamespaceIndex[p.HomeNamespace]; !ok {
			m.Warnings = append(m.Warnings, Warning{
				Policy:  p.Name,
				Message: fmt.Sprintf("home namespace %q does not exist; policy contributes no admissions", p.HomeNamespace),
			})
			continue
		}
		p.Types = defaultPolicyTypes(p)
		p.Index = len(m.Policies)
		m.Policies = append(m.Policies, p)
	}

	return m, nil
}

func defaultPolicyTypes(p Policy) []PolicyType {
	if len(p.Types) > 0 {
		return p.Types
	}
	hasIngress := len(p.Ingress) > 0
	hasEgress := len(p.Egress) > 0
	switch {
	case hasIngress && hasEgress:
		return []PolicyType{PolicyTypeIngress, PolicyTypeEgress}
	case hasEgress && !hasIngress:
		return []PolicyType{PolicyTypeEgress}
	default:
		// Neither rule list present, or ingress-only: defaults to Ingress.
		return []PolicyType{PolicyTypeIngress}
	}
}

// WorkloadsByNamespace groups workload indices by namespace name. Built on
// demand; the Model itself stores no such denormalized view.
func (m *Model) WorkloadsByNamespace() map[string][]int {
	out := make(map[string][]int)
	for _, w := range m.Workloads {
		out[w.Namespace] = append(out[w.Namespace], w.Index)
	}
	return out
}
