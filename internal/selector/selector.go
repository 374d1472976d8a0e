// Package selector evaluates a model.Selector against a label index,
// restricted to a caller-supplied scope bitset. It is the only place the
// semantics of matchLabels/matchExpressions are implemented; both engines
// (bitmap and relation) are expected to agree with it.
package selector

import (
	"github.com/netreach/netreach/internal/bitset"
	"github.com/netreach/netreach/internal/labelindex"
	"github.com/netreach/netreach/internal/model"
)

// Evaluate returns the bitset of entities in scope that satisfy sel,
// following §4.3:
//
//   - a nil sel selects nothing: callers must check for this themselves
//     (Evaluate panics on a nil selector, since "absent" vs "present but
//     empty" is a distinction the caller, not this function, is
//     responsible for preserving — see model.Selector's doc comment).
//   - an empty sel (no clauses) selects everything in scope.
//   - matchLabels and matchExpressions clauses are ANDed together, each
//     narrowing the running result starting from scope.
func Evaluate(sel *model.Selector, scope *bitset.Bitset, idx *labelindex.Index) *bitset.Bitset {
	if sel == nil {
		panic("selector: Evaluate called with a nil (absent) selector; caller must special-case absent selectors")
	}

	result := scope.Clone()

	// matchLabels: order doesn't matter, each clause only narrows.
	for k, v := range sel.MatchLabels {
		result.And(idx.HasKV(k, v))
	}

	for _, expr := range sel.MatchExpressions {
		switch expr.Operator {
		case model.OpExists:
			result.And(idx.HasKey(expr.Key))
		case model.OpDoesNotExist:
			notHas := idx.HasKey(expr.Key).Not()
			notHas.And(scope)
			result.And(notHas)
		case model.OpIn:
			union := bitset.New(idx.Len())
			for _, v := range expr.Values {
				union.Or(idx.HasKV(expr.Key, v))
			}
			result.And(union)
		case model.OpNotIn:
			// Per §4.3 and §9's redesign note: NotIn requires the key to
			// exist. A workload lacking the key does NOT match NotIn(k,V),
			// so this compiles to has_key[k] \ union(has_kv[k,v] for v in V),
			// never a bare negation of the union.
			union := bitset.New(idx.Len())
			for _, v := range expr.Values {
				union.Or(idx.HasKV(expr.Key, v))
			}
			notIn := idx.HasKey(expr.Key)
			notIn.AndNot(union)
			result.And(notIn)
		}
	}

	return result
}
