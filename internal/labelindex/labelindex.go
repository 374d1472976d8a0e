// Package labelindex precomputes label-lookup bitmaps over a fixed entity
// population (workloads or namespaces), so the selector evaluator can
// answer "which entities have key k" or "which entities have k=v" with a
// single map lookup instead of scanning every entity's label map.
package labelindex

import "github.com/netreach/netreach/internal/bitset"

// Index holds, for a population of n entities, the precomputed
// has-key and has-key-value bitmaps described in §4.2.
type Index struct {
	n int

	hasKey map[string]*bitset.Bitset
	hasKV  map[string]map[string]*bitset.Bitset
}

// Build constructs an Index over n entities, where labelsOf(i) returns the
// label map of entity i for i in [0, n).
func Build(n int, labelsOf func(i int) map[string]string) *Index {
	idx := &Index{
		n:      n,
		hasKey: make(map[string]*bitset.Bitset),
		hasKV:  make(map[string]map[string]*bitset.Bitset),
	}
	for i := 0; i < n; i++ {
		for k, v := range labelsOf(i) {
			keyBits, ok := idx.hasKey[k]
			if !ok {
				keyBits = bitset.New(n)
				idx.hasKey[k] = keyBits
			}
			keyBits.Set(i)

			kv, ok := idx.hasKV[k]
			if !ok {
				kv = make(map[string]*bitset.Bitset)
				idx.hasKV[k] = kv
			}
			valBits, ok := kv[v]
			if !ok {
				valBits = bitset.New(n)
				kv[v] = valBits
			}
			valBits.Set(i)
		}
	}
	return idx
}

// Len returns the fixed entity-population width of the index.
func (idx *Index) Len() int { return idx.n }

// HasKey returns the bitset of entities that declare key k. An unknown key
// returns a fresh empty bitset, never nil and never an error (§4.2).
func (idx *Index) HasKey(k string) *bitset.Bitset {
	if b, ok := idx.hasKey[k]; ok {
		return b.Clone()
	}
	return bitset.New(idx.n)
}

// HasKV returns the bitset of entities with labels[k] == v. An unknown
// (key, value) pair returns a fresh empty bitset.
func (idx *Index) HasKV(k, v string) *bitset.Bitset {
	if kv, ok := idx.hasKV[k]; ok {
		if b, ok := kv[v]; ok {
			return b.Clone()
		}
	}
	return bitset.New(idx.n)
}

// Values returns the known values for key k, for callers needing to expand
// an In(k, V) clause against exactly the values the population carries.
func (idx *Index) Values(k string) []string {
	kv, ok := idx.hasKV[k]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(kv))
	for v := range kv {
		out = append(out, v)
	}
	return out
}
