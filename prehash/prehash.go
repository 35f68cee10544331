// Package prehash computes pre-hash values for group and join keys.
//
// A pre-hash is a wide, non-negative hash of a key which does not depend on
// the size of the table it is placed in. Tables derive their bucket from it
// by masking, and recompute it from stored keys when they rehash, so every
// member of the family must be deterministic for the lifetime of a process.
package prehash

import (
	"math"

	"github.com/dolthub/maphash"
)

// Fixed universal hash family instance (CLRS 11.3.3) used for int32 keys:
// (A*key + B) mod P. P is a prime larger than math.MaxInt32.
const (
	P int64 = 4_294_967_459
	A int64 = 3_044_339_450
	B int64 = 4_157_137_050
)

const signMask uint64 = math.MaxInt64

var float64Hasher = maphash.NewHasher[float64]()

// Int32 returns (A*|key| + B) mod P.
func Int32(key int32) uint64 {
	return FinishInt32(Int32Partial(key))
}

// Int32Partial returns A*|key| + B without the final reduction. It cannot
// overflow for any int32 key.
func Int32Partial(key int32) int64 {
	return A*int64(key) + B
}

// FinishInt32 reduces a partial pre-hash produced by Int32Partial modulo P.
func FinishInt32(partial int64) uint64 {
	r := partial % P
	if r < 0 { // only reachable for negative keys
		r += P
	}
	return uint64(r)
}

// Float64 returns the platform hash of |key| truncated to 63 bits.
// Positive and negative zero hash identically.
func Float64(key float64) uint64 {
	return float64Hasher.Hash(key) & signMask
}

// Bytes returns the polynomial pre-hash of |key|.
func Bytes(key []byte) uint64 {
	var h int64
	for _, c := range key {
		h = h*31 ^ int64(int8(c))
	}
	return fold(h)
}

// String is Bytes for string keys, without a conversion.
func String(key string) uint64 {
	var h int64
	for i := 0; i < len(key); i++ {
		h = h*31 ^ int64(int8(key[i]))
	}
	return fold(h)
}

// fold maps a negative accumulator to its absolute value.
// math.MinInt64 has no absolute value and comes back unchanged, so the
// result has its top bit set in that single case. Bucket selection only
// reads low bits and is unaffected.
func fold(h int64) uint64 {
	if h < 0 {
		h = -h
	}
	return uint64(h)
}

// Combine XORs per-ordinal pre-hashes into the pre-hash of a key tuple.
func Combine(hashes ...uint64) (h uint64) {
	for _, x := range hashes {
		h ^= x
	}
	return
}

// Int32s writes the pre-hash of every key into |dst|, or XORs it into the
// existing contents when |extend| is set. |dst| must be at least as long
// as |keys|.
func Int32s(dst []uint64, keys []int32, extend bool) {
	dst = dst[:len(keys)]
	if !extend {
		for i, k := range keys {
			dst[i] = Int32(k)
		}
		return
	}
	for i, k := range keys {
		dst[i] ^= Int32(k)
	}
}

// Float64s is Int32s for float64 keys.
func Float64s(dst []uint64, keys []float64, extend bool) {
	dst = dst[:len(keys)]
	if !extend {
		for i, k := range keys {
			dst[i] = Float64(k)
		}
		return
	}
	for i, k := range keys {
		dst[i] ^= Float64(k)
	}
}

// Strings is Int32s for byte sequence keys held as strings.
func Strings(dst []uint64, keys []string, extend bool) {
	dst = dst[:len(keys)]
	if !extend {
		for i, k := range keys {
			dst[i] = String(k)
		}
		return
	}
	for i, k := range keys {
		dst[i] ^= String(k)
	}
}

// Int32sSelected is Int32s restricted to the positions listed in |sel|:
// dst[i] is written for every i in |sel| and every other cell is left
// untouched. |dst| must be at least as long as |keys|.
func Int32sSelected(dst []uint64, keys []int32, sel []int32, extend bool) {
	if !extend {
		for _, i := range sel {
			dst[i] = Int32(keys[i])
		}
		return
	}
	for _, i := range sel {
		dst[i] ^= Int32(keys[i])
	}
}
