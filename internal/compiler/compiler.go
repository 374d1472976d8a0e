// Package compiler is the Policy-to-Rule Compiler (C7): it turns a
// model.Model into facts and rules loaded into a relation.Engine, so the
// bottom-up fixed-point engine (C6) derives the same edge relation the
// bitmap engine (C5) computes directly (§4.6, §8 property 2).
package compiler

import (
	"fmt"

	"github.com/netreach/netreach/internal/bitset"
	"github.com/netreach/netreach/internal/flags"
	"github.com/netreach/netreach/internal/labelindex"
	"github.com/netreach/netreach/internal/model"
	"github.com/netreach/netreach/internal/relation"
	"github.com/netreach/netreach/internal/selector"
)

// keySpace distinguishes a workload label key from a namespace label key
// when interning relation names — the two populations are interned
// independently even if a key string (e.g. "team") is shared between them.
type keySpace int

const (
	podKeySpace keySpace = iota
	nsKeySpace
)

// compiler holds the interning tables built while loading facts. Per §9,
// this state lives on the instance, never in a package global, and is
// written only during Compile.
type compiler struct {
	engine *relation.Engine

	// valueIDs interns (keySpace, label key, label value) triples to the
	// small integer domain the relation engine operates over.
	valueIDs map[keySpace]map[string]map[string]int
	nextID   map[keySpace]map[string]int

	// relNames interns (keySpace, label key) to a generated relation name,
	// so arbitrary label keys (which may contain characters unsafe in a Go
	// identifier-ish relation name) never need sanitizing.
	relNames map[keySpace]map[string]string
	relSeq   int

	auxSeq int
}

func newCompiler() *compiler {
	return &compiler{
		engine:   relation.New(),
		valueIDs: map[keySpace]map[string]map[string]int{podKeySpace: {}, nsKeySpace: {}},
		nextID:   map[keySpace]map[string]int{podKeySpace: {}, nsKeySpace: {}},
		relNames: map[keySpace]map[string]string{podKeySpace: {}, nsKeySpace: {}},
	}
}

func (c *compiler) intern(ks keySpace, key, value string) int {
	vals, ok := c.valueIDs[ks][key]
	if !ok {
		vals = make(map[string]int)
		c.valueIDs[ks][key] = vals
	}
	if id, ok := vals[value]; ok {
		return id
	}
	id := c.nextID[ks][key]
	c.nextID[ks][key] = id + 1
	vals[value] = id
	return id
}

func (c *compiler) relName(ks keySpace, key string) string {
	names, ok := c.relNames[ks]
	if !ok {
		names = make(map[string]string)
		c.relNames[ks] = names
	}
	if n, ok := names[key]; ok {
		return n
	}
	c.relSeq++
	n := fmt.Sprintf("label_%d", c.relSeq)
	names[key] = n
	return n
}

func (c *compiler) existsRelName(ks keySpace, key string) string {
	return c.relName(ks, key) + "_exists"
}

func (c *compiler) freshAux() string {
	c.auxSeq++
	return fmt.Sprintf("aux_%d", c.auxSeq)
}

// Compile builds a fresh relation.Engine populated with the domain facts,
// label facts, selection rules, per-peer rules and derived relations of
// §4.6, ready for Evaluate. It never mutates m.
func Compile(m *model.Model, f flags.Flags) (*relation.Engine, error) {
	c := newCompiler()

	for _, w := range m.Workloads {
		c.engine.AddFact("is_pod", w.Index)
		if nsIdx, ok := m.NamespaceIndex[w.Namespace]; ok {
			c.engine.AddFact("namespace", w.Index, nsIdx)
		}
		c.loadLabels(podKeySpace, w.Index, w.Labels)
	}
	for _, ns := range m.Namespaces {
		c.engine.AddFact("is_ns", ns.Index)
		c.loadLabels(nsKeySpace, ns.Index, ns.Labels)
	}
	for _, p := range m.Policies {
		c.engine.AddFact("is_pol", p.Index)
	}

	for pi := range m.Policies {
		p := &m.Policies[pi]
		if p.PodSelector == nil {
			continue // absent selector: policy selects nothing (§3)
		}
		homeNS, ok := m.NamespaceIndex[p.HomeNamespace]
		if !ok {
			continue // recovered at model.Build time; already warned there
		}

		selAtoms, selRules := c.compileSelectorAtoms(p.PodSelector, podKeySpace, "i")
		for _, r := range selRules {
			c.engine.AddRule(r)
		}
		body := append([]relation.Atom{relation.Pos("namespace", relation.Var("i"), relation.Const(homeNS))}, selAtoms...)
		c.engine.AddRule(relation.Rule{
			Head: relation.Pos("selected", relation.Var("i"), relation.Const(p.Index)),
			Body: body,
		})

		if p.HasType(model.PolicyTypeIngress) {
			c.compilePeerRules(p.Ingress, homeNS, p.Index, "ingress_allow")
		}
		if p.HasType(model.PolicyTypeEgress) {
			c.compilePeerRules(p.Egress, homeNS, p.Index, "egress_allow")
		}
	}

	c.engine.AddRule(relation.Rule{
		Head: relation.Pos("selected_by_any", relation.Var("i")),
		Body: []relation.Atom{relation.Pos("is_pol", relation.Var("p")), relation.Pos("selected", relation.Var("i"), relation.Var("p"))},
	})
	c.engine.AddRule(relation.Rule{
		Head: relation.Pos("selected_by_none", relation.Var("i")),
		Body: []relation.Atom{relation.Pos("is_pod", relation.Var("i")), relation.Neg("selected_by_any", relation.Var("i"))},
	})

	c.engine.AddRule(relation.Rule{
		Head: relation.Pos("ingress_ok", relation.Var("s"), relation.Var("d")),
		Body: []relation.Atom{
			relation.Pos("selected", relation.Var("d"), relation.Var("p")),
			relation.Pos("ingress_allow", relation.Var("s"), relation.Var("p")),
		},
	})
	c.engine.AddRule(relation.Rule{
		Head: relation.Pos("egress_ok", relation.Var("s"), relation.Var("d")),
		Body: []relation.Atom{
			relation.Pos("selected", relation.Var("d"), relation.Var("p")),
			relation.Pos("egress_allow", relation.Var("s"), relation.Var("p")),
		},
	})

	if f.CheckSelfIngressTraffic {
		c.engine.AddRule(relation.Rule{
			Head: relation.Pos("ingress_ok", relation.Var("d"), relation.Var("d")),
			Body: []relation.Atom{relation.Pos("is_pod", relation.Var("d"))},
		})
		c.engine.AddRule(relation.Rule{
			Head: relation.Pos("egress_ok", relation.Var("d"), relation.Var("d")),
			Body: []relation.Atom{relation.Pos("is_pod", relation.Var("d"))},
		})
	}

	if f.CheckSelectByNoPolicy {
		if f.GroundDefaultPod {
			if err := c.groundDefaultPods(m); err != nil {
				return nil, err
			}
		} else {
			c.engine.AddRule(relation.Rule{
				Head: relation.Pos("ingress_ok", relation.Var("s"), relation.Var("d")),
				Body: []relation.Atom{relation.Pos("is_pod", relation.Var("s")), relation.Pos("selected_by_none", relation.Var("d"))},
			})
			c.engine.AddRule(relation.Rule{
				Head: relation.Pos("egress_ok", relation.Var("s"), relation.Var("d")),
				Body: []relation.Atom{relation.Pos("is_pod", relation.Var("s")), relation.Pos("selected_by_none", relation.Var("d"))},
			})
		}
	}

	c.engine.AddRule(relation.Rule{
		Head: relation.Pos("edge", relation.Var("s"), relation.Var("d")),
		Body: []relation.Atom{
			relation.Pos("ingress_ok", relation.Var("s"), relation.Var("d")),
			relation.Pos("egress_ok", relation.Var("d"), relation.Var("s")),
		},
	})
	c.engine.AddRule(relation.Rule{
		Head: relation.Pos("path", relation.Var("s"), relation.Var("d")),
		Body: []relation.Atom{relation.Pos("edge", relation.Var("s"), relation.Var("d"))},
	})
	// Two-hop composition, matching the source algorithm's intent (§4.5);
	// not a full transitive closure.
	c.engine.AddRule(relation.Rule{
		Head: relation.Pos("path", relation.Var("s"), relation.Var("d")),
		Body: []relation.Atom{
			relation.Pos("edge", relation.Var("s"), relation.Var("m")),
			relation.Pos("edge", relation.Var("m"), relation.Var("d")),
		},
	})

	return c.engine, nil
}

func (c *compiler) loadLabels(ks keySpace, index int, labels map[string]string) {
	for k, v := range labels {
		id := c.intern(ks, k, v)
		c.engine.AddFact(c.relName(ks, k), index, id)
		c.engine.AddFact(c.existsRelName(ks, k), index)
	}
}

// compileSelectorAtoms translates a present (non-nil) selector into a list
// of positive/negated atoms over varName, plus any auxiliary rules needed
// to express In/NotIn as a union over interned values. An empty selector
// returns no atoms (selects everything in scope, §4.3).
func (c *compiler) compileSelectorAtoms(sel *model.Selector, ks keySpace, varName string) ([]relation.Atom, []relation.Rule) {
	var atoms []relation.Atom
	var rules []relation.Rule

	for k, v := range sel.MatchLabels {
		id := c.intern(ks, k, v)
		atoms = append(atoms, relation.Pos(c.relName(ks, k), relation.Var(varName), relation.Const(id)))
	}

	for _, expr := range sel.MatchExpressions {
		switch expr.Operator {
		case model.OpExists:
			atoms = append(atoms, relation.Pos(c.existsRelName(ks, expr.Key), relation.Var(varName)))
		case model.OpDoesNotExist:
			atoms = append(atoms, relation.Neg(c.existsRelName(ks, expr.Key), relation.Var(varName)))
		case model.OpIn:
			aux := c.freshAux()
			for _, v := range expr.Values {
				id := c.intern(ks, expr.Key, v)
				rules = append(rules, relation.Rule{
					Head: relation.Pos(aux, relation.Var(varName)),
					Body: []relation.Atom{relation.Pos(c.relName(ks, expr.Key), relation.Var(varName), relation.Const(id))},
				})
			}
			atoms = append(atoms, relation.Pos(aux, relation.Var(varName)))
		case model.OpNotIn:
			// has_key[k] \ union(has_kv[k,v]); never a bare negation (§9).
			aux := c.freshAux()
			for _, v := range expr.Values {
				id := c.intern(ks, expr.Key, v)
				rules = append(rules, relation.Rule{
					Head: relation.Pos(aux, relation.Var(varName)),
					Body: []relation.Atom{relation.Pos(c.relName(ks, expr.Key), relation.Var(varName), relation.Const(id))},
				})
			}
			atoms = append(atoms,
				relation.Pos(c.existsRelName(ks, expr.Key), relation.Var(varName)),
				relation.Neg(aux, relation.Var(varName)),
			)
		}
	}

	return atoms, rules
}

// compilePeerRules emits one rule per peer (OR'd by sharing the same head)
// into relName ("ingress_allow" or "egress_allow"), scoped per §3/§4.4.
func (c *compiler) compilePeerRules(rules []model.Rule, homeNS, policyIndex int, relName string) {
	head := relation.Pos(relName, relation.Var("s"), relation.Const(policyIndex))

	for _, r := range rules {
		if r.Peers == nil {
			// peers == null: allow any workload, unscoped (matches the
			// bitmap engine's unionPeers treatment of a nil peer list).
			c.engine.AddRule(relation.Rule{
				Head: head,
				Body: []relation.Atom{relation.Pos("is_pod", relation.Var("s"))},
			})
			continue
		}
		for _, peer := range r.Peers {
			c.compilePeerRule(peer, homeNS, head)
		}
	}
}

func (c *compiler) compilePeerRule(peer model.Peer, homeNS int, head relation.Atom) {
	switch peer.Kind {
	case model.PeerIPBlock:
		return // never evaluated (§1 Non-goals)

	case model.PeerNamespaceSelector:
		if peer.NamespaceSelector == nil {
			return
		}
		nsAtoms, nsRules := c.compileSelectorAtoms(peer.NamespaceSelector, nsKeySpace, "k")
		for _, r := range nsRules {
			c.engine.AddRule(r)
		}
		body := []relation.Atom{
			relation.Pos("is_ns", relation.Var("k")),
			relation.Pos("namespace", relation.Var("s"), relation.Var("k")),
		}
		body = append(body, nsAtoms...)
		if peer.PodSelector != nil {
			podAtoms, podRules := c.compileSelectorAtoms(peer.PodSelector, podKeySpace, "s")
			for _, r := range podRules {
				c.engine.AddRule(r)
			}
			body = append(body, podAtoms...)
		}
		c.engine.AddRule(relation.Rule{Head: head, Body: body})

	default: // model.PeerPodSelector, scoped to the policy's home namespace
		if peer.PodSelector == nil {
			return
		}
		podAtoms, podRules := c.compileSelectorAtoms(peer.PodSelector, podKeySpace, "s")
		for _, r := range podRules {
			c.engine.AddRule(r)
		}
		body := append([]relation.Atom{relation.Pos("namespace", relation.Var("s"), relation.Const(homeNS))}, podAtoms...)
		c.engine.AddRule(relation.Rule{Head: head, Body: body})
	}
}

// groundDefaultPods implements the §4.6 optimization: rather than a
// negation-driven permissive rule evaluated on every query, directly
// compute which workloads no policy selects (via the same selector
// evaluator the bitmap engine uses) and materialize their permissive
// ingress_ok/egress_ok facts up front.
func (c *compiler) groundDefaultPods(m *model.Model) error {
	n := len(m.Workloads)
	wIdx := labelindex.Build(n, func(i int) map[string]string { return m.Workloads[i].Labels })

	namespaceWorkloads := make(map[int]*bitset.Bitset, len(m.Namespaces))
	for _, ns := range m.Namespaces {
		namespaceWorkloads[ns.Index] = bitset.New(n)
	}
	for _, w := range m.Workloads {
		if nsIdx, ok := m.NamespaceIndex[w.Namespace]; ok {
			namespaceWorkloads[nsIdx].Set(w.Index)
		}
	}

	selectedByAny := bitset.New(n)
	for _, p := range m.Policies {
		if p.PodSelector == nil {
			continue
		}
		homeNS, ok := m.NamespaceIndex[p.HomeNamespace]
		if !ok {
			continue
		}
		selectedByAny.Or(selector.Evaluate(p.PodSelector, namespaceWorkloads[homeNS], wIdx))
	}

	allWorkloads := bitset.New(n)
	allWorkloads.SetAll()
	unselected := bitset.And2(allWorkloads, selectedByAny.Not())

	for _, i := range unselected.Bits() {
		for s := 0; s < n; s++ {
			c.engine.AddFact("ingress_ok", s, i)
			c.engine.AddFact("egress_ok", s, i)
		}
	}
	return nil
}
