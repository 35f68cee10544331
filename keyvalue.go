package grouphash

import (
	"github.com/cockroachdb/errors"
)

// Number is the set of value types maps can accumulate or retain.
type Number interface {
	~int32 | ~int64 | ~float32 | ~float64
}

const keyValueGrowth = 2

// KeyValueMap maps each key to one record of |width| values which are
// updated additively. It backs grouped aggregation: one slot per group,
// one value array per aggregate.
type KeyValueMap[K comparable, V Number] struct {
	*Index[K]
	// values[ord][slot], index aligned with the keys
	values [][]V
}

// NewKeyValueMap constructs a KeyValueMap holding |width| values per key.
func NewKeyValueMap[K comparable, V Number](spec KeySpec[K], width, capacity int) (*KeyValueMap[K, V], error) {
	if width < 1 {
		return nil, errors.Wrapf(ErrInvalidArgument, "value width %d", width)
	}
	ix, err := newIndex(spec, capacity, keyValueGrowth)
	if err != nil {
		return nil, err
	}
	m := &KeyValueMap[K, V]{
		Index:  ix,
		values: make([][]V, width),
	}
	for i := range m.values {
		m.values[i] = make([]V, capacity)
	}
	return m, nil
}

// NewDefaultKeyValueMap constructs a KeyValueMap with DefaultCapacity.
func NewDefaultKeyValueMap[K comparable, V Number](spec KeySpec[K], width int) (*KeyValueMap[K, V], error) {
	return NewKeyValueMap[K, V](spec, width, DefaultCapacity)
}

// Width returns the number of values per key.
func (m *KeyValueMap[K, V]) Width() int {
	return len(m.values)
}

// IncrementForKey adds |values| to the record of |key|, inserting a zeroed
// record first if |key| is absent.
func (m *KeyValueMap[K, V]) IncrementForKey(key K, preHash uint64, values ...V) error {
	slot, err := m.slotFor(key, preHash, len(values))
	if err != nil {
		return err
	}
	for ord, v := range values {
		m.values[ord][slot] += v
	}
	return nil
}

// Put overwrites the record of |key| with |values|.
func (m *KeyValueMap[K, V]) Put(key K, preHash uint64, values ...V) error {
	slot, err := m.slotFor(key, preHash, len(values))
	if err != nil {
		return err
	}
	for ord, v := range values {
		m.values[ord][slot] = v
	}
	return nil
}

// Slot returns the slot of |key|, inserting a zeroed record if |key| is
// absent. Columnar callers use it to compute a slot per row and then
// accumulate each value column in a separate loop with Values.
func (m *KeyValueMap[K, V]) Slot(key K, preHash uint64) (int, error) {
	slot, err := m.slotFor(key, preHash, len(m.values))
	return int(slot), err
}

func (m *KeyValueMap[K, V]) slotFor(key K, preHash uint64, width int) (int32, error) {
	if width != len(m.values) {
		return unused, errors.Wrapf(ErrInvalidArgument, "expected %d values, got %d", len(m.values), width)
	}
	slot, _, grew, err := m.insertOrGet(key, preHash)
	if err != nil {
		return unused, err
	}
	if grew {
		m.growValues()
	}
	return slot, nil
}

// GetIndex returns the slot of |key|, or -1 if |key| is absent.
func (m *KeyValueMap[K, V]) GetIndex(key K, preHash uint64) int {
	return int(m.find(key, preHash))
}

// Contains returns true if |key| is present in |m|.
func (m *KeyValueMap[K, V]) Contains(key K, preHash uint64) bool {
	return m.find(key, preHash) != unused
}

// Get returns value |ord| of |key| if |key| is present.
func (m *KeyValueMap[K, V]) Get(key K, preHash uint64, ord int) (value V, ok bool) {
	slot := m.find(key, preHash)
	if slot == unused {
		return
	}
	return m.values[ord][slot], true
}

// Value returns value |ord| stored at |slot|.
func (m *KeyValueMap[K, V]) Value(slot, ord int) V {
	return m.values[ord][slot]
}

// Values returns value ordinal |ord| for every slot in [0, Len()). The
// slice aliases internal storage and may be written through until the
// next insert, which can reallocate it.
func (m *KeyValueMap[K, V]) Values(ord int) []V {
	return m.values[ord][:m.count]
}

// Iter passes every key and its record to |cb| in slot order until |cb|
// returns true. |record| is only valid during the callback. |m| must not
// be mutated during iteration.
func (m *KeyValueMap[K, V]) Iter(cb func(key K, record []V) (stop bool)) {
	record := make([]V, len(m.values))
	for s := 0; s < int(m.count); s++ {
		for ord := range m.values {
			record[ord] = m.values[ord][s]
		}
		if cb(m.keys[s], record) {
			return
		}
	}
}

// Reset empties |m| without releasing its storage.
func (m *KeyValueMap[K, V]) Reset() {
	for _, vals := range m.values {
		clear(vals[:m.count])
	}
	m.reset()
}

func (m *KeyValueMap[K, V]) growValues() {
	n := m.Cap()
	for ord, old := range m.values {
		vals := make([]V, n)
		copy(vals, old)
		m.values[ord] = vals
	}
}
