package grouphash

import (
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
)

// Accumulator is the single-value accumulate contract shared by the
// array-chained and pool-chained maps.
type Accumulator[K comparable, V Number] interface {
	// Add adds |value| to |key|, inserting it with |value| if absent.
	Add(key K, preHash uint64, value V) error
	// Put stores |value| for |key|, replacing any previous value.
	Put(key K, preHash uint64, value V) error
	// Get returns the value of |key| if present.
	Get(key K, preHash uint64) (V, bool)
	Len() int
	Reset()
}

var (
	_ Accumulator[int32, int64] = (*SingleValueMap[int32, int64])(nil)
	_ Accumulator[int32, int64] = (*PooledMap[int32, int64])(nil)
)

// SingleValueMap adapts a width-one KeyValueMap to Accumulator.
type SingleValueMap[K comparable, V Number] struct {
	*KeyValueMap[K, V]
}

// NewSingleValueMap constructs a SingleValueMap.
func NewSingleValueMap[K comparable, V Number](spec KeySpec[K], capacity int) (*SingleValueMap[K, V], error) {
	m, err := NewKeyValueMap[K, V](spec, 1, capacity)
	if err != nil {
		return nil, err
	}
	return &SingleValueMap[K, V]{KeyValueMap: m}, nil
}

// Add adds |value| to |key|.
func (m *SingleValueMap[K, V]) Add(key K, preHash uint64, value V) error {
	return m.IncrementForKey(key, preHash, value)
}

// Put stores |value| for |key|.
func (m *SingleValueMap[K, V]) Put(key K, preHash uint64, value V) error {
	return m.KeyValueMap.Put(key, preHash, value)
}

// Get returns the value of |key| if present.
func (m *SingleValueMap[K, V]) Get(key K, preHash uint64) (V, bool) {
	return m.KeyValueMap.Get(key, preHash, 0)
}

// node is a pooled chain entry.
type node[K comparable, V Number] struct {
	key   K
	value V
	// preHash is kept so relinking never rehashes keys
	preHash uint64
	next    int32
}

// PooledMap is an accumulate map whose collision chains are linked nodes
// drawn from a pool. Nodes released by Reset go on a free list and are
// handed out again before the pool grows, and a rehash relinks the
// existing nodes rather than copying them.
type PooledMap[K comparable, V Number] struct {
	spec    KeySpec[K]
	buckets []int32
	nodes   []node[K, V]
	// free is the head of the free list, threaded through node.next
	free  int32
	count int32
}

// NewPooledMap constructs a PooledMap with |capacity| buckets.
func NewPooledMap[K comparable, V Number](spec KeySpec[K], capacity int) (*PooledMap[K, V], error) {
	if err := checkCapacity(capacity); err != nil {
		return nil, err
	}
	m := &PooledMap[K, V]{
		spec:    spec,
		buckets: make([]int32, capacity),
		nodes:   make([]node[K, V], 0, capacity),
		free:    unused,
	}
	fill(m.buckets, unused)
	return m, nil
}

// Len returns the number of keys in |m|.
func (m *PooledMap[K, V]) Len() int {
	return int(m.count)
}

// Buckets returns the length of the bucket table.
func (m *PooledMap[K, V]) Buckets() int {
	return len(m.buckets)
}

// Add adds |value| to |key|, inserting it if absent.
func (m *PooledMap[K, V]) Add(key K, preHash uint64, value V) error {
	if err := m.spec.Check(key); err != nil {
		return err
	}
	if n := m.find(key, preHash); n != unused {
		m.nodes[n].value += value
		return nil
	}
	return m.insert(key, preHash, value)
}

// Put stores |value| for |key|. An existing key is updated in place and
// never gains a second node.
func (m *PooledMap[K, V]) Put(key K, preHash uint64, value V) error {
	if err := m.spec.Check(key); err != nil {
		return err
	}
	if n := m.find(key, preHash); n != unused {
		m.nodes[n].value = value
		return nil
	}
	return m.insert(key, preHash, value)
}

// Get returns the value of |key| if present.
func (m *PooledMap[K, V]) Get(key K, preHash uint64) (value V, ok bool) {
	if n := m.find(key, preHash); n != unused {
		return m.nodes[n].value, true
	}
	return
}

// Reset empties |m| and returns every node to the free list.
func (m *PooledMap[K, V]) Reset() {
	for _, head := range m.buckets {
		for n := head; n != unused; {
			next := m.nodes[n].next
			m.release(n)
			n = next
		}
	}
	fill(m.buckets, unused)
	m.count = 0
}

// Pooled returns the number of nodes waiting on the free list.
func (m *PooledMap[K, V]) Pooled() (n int) {
	for f := m.free; f != unused; f = m.nodes[f].next {
		n++
	}
	return
}

func (m *PooledMap[K, V]) bucket(preHash uint64) int {
	return int(preHash & uint64(len(m.buckets)-1))
}

func (m *PooledMap[K, V]) find(key K, preHash uint64) int32 {
	for n := m.buckets[m.bucket(preHash)]; n != unused; n = m.nodes[n].next {
		if m.nodes[n].key == key {
			return n
		}
	}
	return unused
}

func (m *PooledMap[K, V]) insert(key K, preHash uint64, value V) error {
	n, err := m.acquire()
	if err != nil {
		return err
	}
	m.nodes[n] = node[K, V]{key: m.spec.Own(key), value: value, preHash: preHash}
	m.count++
	collided := m.buckets[m.bucket(preHash)] != unused
	m.link(n)
	// same lazy policy as Index: rebuild on a collision past 3/4 load
	if collided && int(m.count) > (3*len(m.buckets))/4 {
		m.rehash()
	}
	return nil
}

// link pushes node |n| onto the front of its bucket's chain.
func (m *PooledMap[K, V]) link(n int32) {
	b := m.bucket(m.nodes[n].preHash)
	m.nodes[n].next = m.buckets[b]
	m.buckets[b] = n
}

// rehash grows the bucket table and relinks every live node. A table at
// maxBuckets is left alone.
func (m *PooledMap[K, V]) rehash() {
	size, err := rehashSize(len(m.buckets), int(m.count))
	if err != nil {
		log.Debug().Err(err).Int32("records", m.count).Msg("grouphash: pooled bucket table at its limit")
		return
	}
	live := make([]int32, 0, m.count)
	for _, head := range m.buckets {
		for n := head; n != unused; n = m.nodes[n].next {
			live = append(live, n)
		}
	}
	m.buckets = make([]int32, size)
	fill(m.buckets, unused)
	for _, n := range live {
		m.link(n)
	}
	log.Debug().Int("buckets", len(m.buckets)).Int32("records", m.count).Msg("grouphash: rehashed pooled map")
}

// acquire takes a node from the free list, or appends one to the pool.
func (m *PooledMap[K, V]) acquire() (int32, error) {
	if n := m.free; n != unused {
		m.free = m.nodes[n].next
		return n, nil
	}
	if len(m.nodes) >= maxCapacity {
		return unused, errors.Wrapf(ErrCapacityExhausted, "pool holds %d nodes", len(m.nodes))
	}
	m.nodes = append(m.nodes, node[K, V]{})
	return int32(len(m.nodes) - 1), nil
}

func (m *PooledMap[K, V]) release(n int32) {
	m.nodes[n] = node[K, V]{key: m.spec.Unused, next: m.free}
	m.free = n
}
