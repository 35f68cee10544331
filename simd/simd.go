// Package simd computes int32 pre-hashes a vector register at a time and
// hands them, lane by lane, to scalar table code.
//
// The arithmetic part of the pre-hash, A*key + B after widening to 64 bits,
// has no branches and runs in lock-step over a block of lanes. The modulo
// by P and everything a hash table does with the result (bucket placement,
// chain walking, growth) branches per key, so blocks are flattened back
// into a scalar loop that skips lanes whose validity bit is unset.
//
// Everything here is plain Go and compiles to scalar instructions; the gc
// compiler does not auto-vectorize these loops. Blocks only mirror the
// width of the running CPU's vector registers, so the loop shape is the
// one a vectorized kernel would take.
package simd

import (
	"math/bits"

	"golang.org/x/sys/cpu"

	"github.com/gophc/grouphash/prehash"
)

// MaxWidth is the widest block of 64-bit lanes processed at once.
const MaxWidth = 8

var width = detectWidth()

// Width returns the number of 64-bit lanes in the widest vector register
// of the running CPU.
func Width() int {
	return width
}

func detectWidth() int {
	switch {
	case cpu.X86.HasAVX512F:
		return 8
	case cpu.X86.HasAVX2:
		return 4
	}
	// SSE2 and NEON
	return 2
}

// block holds the widened partial pre-hashes of one register of keys.
type block [MaxWidth]int64

// mulAdd computes A*key + B on every lane of |keys|, which holds at most
// MaxWidth keys. The loop has no branches and no cross-lane dependencies.
func (b *block) mulAdd(keys []int32) {
	for i, k := range keys {
		b[i] = int64(k)*prehash.A + prehash.B
	}
}

// laneMask has bit i set when lane i of a block holds a valid key.
type laneMask uint64

// nextLane returns the lowest valid lane of |m| and clears it.
func nextLane(m *laneMask) int {
	s := bits.TrailingZeros64(uint64(*m))
	*m &= *m - 1 // clear lowest set bit
	return s
}

// PreHashInt32 writes the pre-hash of every key into |dst|, or XORs it into
// |dst| when |extend| is set, which combines the pre-hashes of a further
// key ordinal. |dst| must be at least as long as |keys|.
func PreHashInt32(dst []uint64, keys []int32, extend bool) {
	w := Width()
	dst = dst[:len(keys)]
	bound := len(keys) - len(keys)%w
	var b block
	i := 0
	for ; i < bound; i += w {
		b.mulAdd(keys[i : i+w])
		if !extend {
			for j := 0; j < w; j++ {
				dst[i+j] = uint64(b[j])
			}
			continue
		}
		for j := 0; j < w; j++ {
			dst[i+j] ^= prehash.FinishInt32(b[j])
		}
	}
	if !extend {
		// deferred reduction of the vectorised prefix
		for j := 0; j < bound; j++ {
			dst[j] = prehash.FinishInt32(int64(dst[j]))
		}
	}
	prehash.Int32s(dst[bound:], keys[bound:], extend)
}
