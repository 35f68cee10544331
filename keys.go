package grouphash

import (
	"math"
	"strings"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/gophc/grouphash/prehash"
)

// KeySpec describes how a map stores and hashes keys of type K.
//
// Byte-sequence ordinals are represented as Go strings so that key tuples
// stay comparable and == compares content. Own must return a copy that
// shares no memory with the caller, since probe keys are commonly views
// into a reused column buffer (see BytesView).
type KeySpec[K comparable] struct {
	// Hash recomputes the pre-hash of a stored key during rehash. It must
	// agree with the pre-hash callers supply on insert and lookup.
	Hash func(K) uint64
	// Own returns the representation of |key| that is safe to retain.
	Own func(K) K
	// Check validates the first key ordinal before any mutation. It
	// rejects the unused sentinel as well as everything Valid rejects.
	Check func(K) error
	// Valid rejects values no key ordinal can hold, such as NaN, which
	// never equals itself and would be stored again on every insert.
	Valid func(K) error
	// Unused fills key cells that hold no record.
	Unused K
}

// Int32Keys are non-negative int32 keys; -1 marks unused slots.
var Int32Keys = KeySpec[int32]{
	Hash:   prehash.Int32,
	Own:    identity[int32],
	Check:  checkInt32,
	Valid:  accept[int32],
	Unused: -1,
}

// DateKeys are dates stored as days since the epoch. They share the
// int32 layout and hash.
var DateKeys = Int32Keys

// Float64Keys are non-negative float64 keys; -1 marks unused slots.
var Float64Keys = KeySpec[float64]{
	Hash:   prehash.Float64,
	Own:    identity[float64],
	Check:  checkFloat64,
	Valid:  checkNaN,
	Unused: -1,
}

// BytesKeys are non-empty byte sequences held as strings; the empty
// string marks unused slots.
var BytesKeys = KeySpec[string]{
	Hash:   prehash.String,
	Own:    strings.Clone,
	Check:  checkBytes,
	Valid:  accept[string],
	Unused: "",
}

// Pair is a two-ordinal key tuple.
type Pair[A, B comparable] struct {
	First  A
	Second B
}

// PairKeys combines two key specs into the spec of their tuple. Pre-hashes
// are XOR-combined. The first ordinal is checked against its unused
// sentinel; the second only has to be Valid.
func PairKeys[A, B comparable](a KeySpec[A], b KeySpec[B]) KeySpec[Pair[A, B]] {
	return KeySpec[Pair[A, B]]{
		Hash: func(k Pair[A, B]) uint64 {
			return prehash.Combine(a.Hash(k.First), b.Hash(k.Second))
		},
		Own: func(k Pair[A, B]) Pair[A, B] {
			return Pair[A, B]{First: a.Own(k.First), Second: b.Own(k.Second)}
		},
		Check: func(k Pair[A, B]) error {
			if err := a.Check(k.First); err != nil {
				return err
			}
			return b.Valid(k.Second)
		},
		Valid: func(k Pair[A, B]) error {
			if err := a.Valid(k.First); err != nil {
				return err
			}
			return b.Valid(k.Second)
		},
		Unused: Pair[A, B]{First: a.Unused, Second: b.Unused},
	}
}

// BytesView returns a string sharing memory with |b|. It is meant for
// probing without a copy; maps copy the bytes before retaining them.
// |b| must not be modified while the view is in use.
func BytesView(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}

func identity[K any](k K) K { return k }

func accept[K any](K) error { return nil }

func checkInt32(k int32) error {
	if k < 0 {
		return errors.Wrapf(ErrInvalidKey, "negative key %d", k)
	}
	return nil
}

func checkFloat64(k float64) error {
	if k < 0 {
		return errors.Wrapf(ErrInvalidKey, "key %v", k)
	}
	return checkNaN(k)
}

func checkNaN(k float64) error {
	if math.IsNaN(k) {
		return errors.Wrap(ErrInvalidKey, "NaN key")
	}
	return nil
}

func checkBytes(k string) error {
	if len(k) == 0 {
		return errors.Wrap(ErrInvalidKey, "empty byte sequence key")
	}
	return nil
}
