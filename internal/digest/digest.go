// Package digest computes stable content hashes over reachability results,
// so two runs (or the bitmap and relation engines, §8 property 2) can be
// compared for byte-identical output without holding both results in
// memory at once.
package digest

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"github.com/netreach/netreach/internal/bitmap"
)

// Sum is a 256-bit digest.
type Sum [32]byte

// Matrix hashes a bitmap.Matrix row by row, so two matrices of different
// sizes or contents never collide and so the hash does not depend on any
// internal representation detail beyond the admitted (i, j) pairs.
func Matrix(m *bitmap.Matrix) Sum {
	h, err := blake2b.New256(nil)
	if err != nil {
		// New256 only fails for an invalid key length, and we pass none.
		panic("digest: blake2b.New256: " + err.Error())
	}

	n := m.N()
	writeUint64(h, uint64(n))
	for i := 0; i < n; i++ {
		row := m.Row(i)
		for j := 0; j < n; j++ {
			if row.Test(j) {
				writeUint64(h, uint64(i))
				writeUint64(h, uint64(j))
			}
		}
	}

	var out Sum
	copy(out[:], h.Sum(nil))
	return out
}

// Tuples hashes a sorted set of equal-width integer tuples (as returned by
// relation.Engine.Tuples or relation.Engine.Query), order-sensitive so
// callers must sort first — relation.Engine already guarantees this.
func Tuples(tuples [][]int) Sum {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic("digest: blake2b.New256: " + err.Error())
	}

	writeUint64(h, uint64(len(tuples)))
	for _, t := range tuples {
		writeUint64(h, uint64(len(t)))
		for _, v := range t {
			writeUint64(h, uint64(v))
		}
	}

	var out Sum
	copy(out[:], h.Sum(nil))
	return out
}

type writer interface {
	Write([]byte) (int, error)
}

func writeUint64(w writer, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	w.Write(buf[:])
}
