package relation

import "fmt"

type binding map[string]int

func resolve(t Term, b binding) int {
	if t.isVar {
		return b[t.name]
	}
	return t.value
}

func extend(b binding, terms []Term, tuple []int) (binding, bool) {
	nb := make(binding, len(b)+len(terms))
	for k, v := range b {
		nb[k] = v
	}
	for i, t := range terms {
		if t.isVar {
			if existing, ok := nb[t.name]; ok {
				if existing != tuple[i] {
					return nil, false
				}
				continue
			}
			nb[t.name] = tuple[i]
		} else if t.value != tuple[i] {
			return nil, false
		}
	}
	return nb, true
}

// evalBody joins the rule's positive atoms, filters by negated atoms and
// equality constraints, and returns every surviving binding.
func (e *Engine) evalBody(body []Atom, equalities []Equality) []binding {
	bindings := []binding{{}}

	for _, atom := range body {
		if atom.Negated {
			continue // applied after all positive atoms have bound their variables
		}
		rel, ok := e.relations[atom.Relation]
		if !ok {
			return nil
		}
		var next []binding
		for _, b := range bindings {
			for _, tuple := range rel.sortedTuples() {
				if nb, ok := extend(b, atom.Terms, tuple); ok {
					next = append(next, nb)
				}
			}
		}
		bindings = next
		if len(bindings) == 0 {
			return nil
		}
	}

	for _, atom := range body {
		if !atom.Negated {
			continue
		}
		rel := e.relations[atom.Relation]
		var kept []binding
		for _, b := range bindings {
			tuple := make([]int, len(atom.Terms))
			for i, t := range atom.Terms {
				tuple[i] = resolve(t, b)
			}
			absent := rel == nil || !rel.has(tuple)
			if absent {
				kept = append(kept, b)
			}
		}
		bindings = kept
		if len(bindings) == 0 {
			return nil
		}
	}

	for _, eq := range equalities {
		var kept []binding
		for _, b := range bindings {
			l, r := resolve(eq.Left, b), resolve(eq.Right, b)
			ok := l == r
			if eq.Disequal {
				ok = !ok
			}
			if ok {
				kept = append(kept, b)
			}
		}
		bindings = kept
		if len(bindings) == 0 {
			return nil
		}
	}

	return bindings
}

// Evaluate runs naive bottom-up fixed-point evaluation stratum by stratum,
// calling Stratify first if it has not already run. Within a stratum,
// rules are re-applied until no rule derives a new tuple; negated atoms in
// that stratum's rules only ever reference strictly lower (already frozen)
// strata, so negation is sound by construction.
func (e *Engine) Evaluate() error {
	if !e.stratified {
		if err := e.Stratify(); err != nil {
			return err
		}
	}

	rulesByHead := make(map[string][]Rule)
	for _, r := range e.rules {
		rulesByHead[r.Head.Relation] = append(rulesByHead[r.Head.Relation], r)
	}

	for _, members := range e.strata {
		var rules []Rule
		for _, name := range members {
			rules = append(rules, rulesByHead[name]...)
		}
		if len(rules) == 0 {
			continue
		}
		for {
			changed := false
			for _, r := range rules {
				rel := e.declare(r.Head.Relation, len(r.Head.Terms))
				for _, b := range e.evalBody(r.Body, r.Equalities) {
					tuple := make([]int, len(r.Head.Terms))
					for i, t := range r.Head.Terms {
						tuple[i] = resolve(t, b)
					}
					if rel.add(tuple) {
						changed = true
					}
				}
			}
			if !changed {
				break
			}
		}
	}
	return nil
}

// Query answers an existentially quantified atom: the projection of every
// binding satisfying body onto outVars, in deterministic sorted order.
// Callers typically pass a single positive atom naming a derived relation
// (e.g. Query([]Atom{Pos("edge", Var("s"), Var("d"))}, []string{"s", "d"})),
// but the full join/negation/equality machinery is available for more
// elaborate queries.
func (e *Engine) Query(body []Atom, outVars []string) [][]int {
	bindings := e.evalBody(body, nil)
	seen := make(map[string]bool)
	var out [][]int
	for _, b := range bindings {
		tuple := make([]int, len(outVars))
		for i, v := range outVars {
			val, ok := b[v]
			if !ok {
				panic(fmt.Sprintf("relation: query variable %q not bound by body", v))
			}
			tuple[i] = val
		}
		key := encode(tuple)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tuple)
	}
	return sortTuples(out)
}

func sortTuples(tuples [][]int) [][]int {
	rel := &relationData{tuples: make(map[string][]int, len(tuples))}
	for _, t := range tuples {
		rel.add(t)
	}
	return rel.sortedTuples()
}
