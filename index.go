package grouphash

import (
	"github.com/rs/zerolog/log"
)

// Index is the open-addressing core shared by every map shape. It assigns
// each distinct key a dense slot in [0, Len()) and resolves bucket
// collisions by chaining slots through the |next| array.
//
// An Index never hashes probe keys itself: callers supply a pre-hash
// computed by the prehash function matching the key type, usually for a
// whole column at once. Stored keys are only rehashed with KeySpec.Hash
// when the bucket table is rebuilt.
type Index[K comparable] struct {
	spec KeySpec[K]
	// growth is the factor backing arrays are multiplied by when full
	growth int
	count  int32
	keys   []K
	// hashTable maps a bucket to the first slot of its chain, or -1
	hashTable []int32
	// next maps a slot to the following slot of its chain, or -1
	next []int32
}

// newIndex constructs an Index with |capacity| slots and buckets.
func newIndex[K comparable](spec KeySpec[K], capacity, growth int) (*Index[K], error) {
	if err := checkCapacity(capacity); err != nil {
		return nil, err
	}
	ix := &Index[K]{
		spec:      spec,
		growth:    growth,
		keys:      make([]K, capacity),
		hashTable: make([]int32, capacity),
		next:      make([]int32, capacity),
	}
	fill(ix.keys, spec.Unused)
	fill(ix.hashTable, unused)
	fill(ix.next, unused)
	return ix, nil
}

// Len returns the number of distinct keys in |ix|.
func (ix *Index[K]) Len() int {
	return int(ix.count)
}

// Cap returns the number of slots allocated before the next growth.
func (ix *Index[K]) Cap() int {
	return len(ix.keys)
}

// Buckets returns the length of the bucket table, always a power of two.
func (ix *Index[K]) Buckets() int {
	return len(ix.hashTable)
}

// Key returns the key stored at |slot|.
func (ix *Index[K]) Key(slot int) K {
	return ix.keys[slot]
}

// Keys returns the stored keys ordered by slot. The slice aliases internal
// storage and is invalidated by the next insert or Reset.
func (ix *Index[K]) Keys() []K {
	return ix.keys[:ix.count]
}

func (ix *Index[K]) bucket(preHash uint64) int {
	return int(preHash & uint64(len(ix.hashTable)-1))
}

// find returns the slot of |key|, or -1 if |key| is absent.
func (ix *Index[K]) find(key K, preHash uint64) int32 {
	s := ix.hashTable[ix.bucket(preHash)]
	for s != unused {
		if ix.keys[s] == key {
			return s
		}
		s = ix.next[s]
	}
	return unused
}

// insertOrGet returns the slot of |key|, allocating one if |key| is absent.
// |grew| reports that backing arrays were reallocated, in which case the
// owner must grow its value storage to Cap().
func (ix *Index[K]) insertOrGet(key K, preHash uint64) (slot int32, inserted, grew bool, err error) {
	if err = ix.spec.Check(key); err != nil {
		return unused, false, false, err
	}
	if slot = ix.find(key, preHash); slot != unused {
		return slot, false, false, nil
	}
	if int(ix.count) == len(ix.keys) {
		if err = ix.grow(); err != nil {
			return unused, false, false, err
		}
		grew = true
	}
	slot = ix.count
	ix.count++
	ix.keys[slot] = ix.spec.Own(key)
	// rehash lazily: only on the first collision past 3/4 load
	rehashOnCollision := int(ix.count) > (3*len(ix.hashTable))/4
	ix.putHashEntry(preHash, slot, rehashOnCollision)
	return slot, true, grew, nil
}

// putHashEntry links |slot| into the chain of its bucket. A collision with
// |rehashOnCollision| set rebuilds the whole table instead, which places
// |slot| as well since it is already stored.
func (ix *Index[K]) putHashEntry(preHash uint64, slot int32, rehashOnCollision bool) {
	b := ix.bucket(preHash)
	s := ix.hashTable[b]
	if s == unused {
		ix.hashTable[b] = slot
		return
	} else if rehashOnCollision && ix.rehash() {
		return
	}
	for ix.next[s] != unused {
		s = ix.next[s]
	}
	ix.next[s] = slot
}

// grow reallocates keys and next by the growth factor.
func (ix *Index[K]) grow() error {
	n, err := grownSize(len(ix.keys), ix.growth)
	if err != nil {
		return err
	}
	keys := make([]K, n)
	copy(keys, ix.keys)
	fill(keys[len(ix.keys):], ix.spec.Unused)
	next := make([]int32, n)
	copy(next, ix.next)
	fill(next[len(ix.next):], unused)
	ix.keys, ix.next = keys, next
	log.Debug().Int("slots", n).Int32("records", ix.count).Msg("grouphash: grew index")
	return nil
}

// rehash rebuilds the bucket table with at least twice as many buckets as
// records. It never recurses: reinsertion chains on collision. Once the
// table holds maxBuckets it stays as is, chains grow instead and rehash
// returns false.
func (ix *Index[K]) rehash() bool {
	size, err := rehashSize(len(ix.hashTable), int(ix.count))
	if err != nil {
		log.Debug().Err(err).Int32("records", ix.count).Msg("grouphash: bucket table at its limit")
		return false
	}
	ix.hashTable = make([]int32, size)
	fill(ix.hashTable, unused)
	fill(ix.next, unused)
	for s := int32(0); s < ix.count; s++ {
		ix.putHashEntry(ix.spec.Hash(ix.keys[s]), s, false)
	}
	log.Debug().Int("buckets", size).Int32("records", ix.count).Msg("grouphash: rehashed index")
	return true
}

// reset empties |ix| in place.
func (ix *Index[K]) reset() {
	fill(ix.keys[:ix.count], ix.spec.Unused)
	fill(ix.hashTable, unused)
	fill(ix.next[:ix.count], unused)
	ix.count = 0
}
