package grouphash

import (
	"github.com/cockroachdb/errors"
)

const (
	// multi-record maps hold few keys with large fan-out
	multiRecordGrowth = 8

	initialRecordCapacity = 1
	recordGrowth          = 8
)

// KeyMultiRecordMap maps each key to an append-only list of records of
// |width| values. It backs the build side of joins, where every row of a
// key has to be retained.
type KeyMultiRecordMap[K comparable, V Number] struct {
	*Index[K]
	// keysRecordCount[slot] is the number of records of the key at slot,
	// independent of the capacity of its lists
	keysRecordCount []int32
	// records[ord][slot] lists value |ord| of every record of the key
	records [][][]V
}

// NewKeyMultiRecordMap constructs a KeyMultiRecordMap with records of
// |width| values.
func NewKeyMultiRecordMap[K comparable, V Number](spec KeySpec[K], width, capacity int) (*KeyMultiRecordMap[K, V], error) {
	if width < 1 {
		return nil, errors.Wrapf(ErrInvalidArgument, "record width %d", width)
	}
	ix, err := newIndex(spec, capacity, multiRecordGrowth)
	if err != nil {
		return nil, err
	}
	m := &KeyMultiRecordMap[K, V]{
		Index:           ix,
		keysRecordCount: make([]int32, capacity),
		records:         make([][][]V, width),
	}
	for ord := range m.records {
		m.records[ord] = make([][]V, capacity)
	}
	return m, nil
}

// NewDefaultKeyMultiRecordMap constructs a KeyMultiRecordMap with
// DefaultCapacity.
func NewDefaultKeyMultiRecordMap[K comparable, V Number](spec KeySpec[K], width int) (*KeyMultiRecordMap[K, V], error) {
	return NewKeyMultiRecordMap[K, V](spec, width, DefaultCapacity)
}

// Width returns the number of values per record.
func (m *KeyMultiRecordMap[K, V]) Width() int {
	return len(m.records)
}

// Associate appends |record| to the records of |key|.
func (m *KeyMultiRecordMap[K, V]) Associate(key K, preHash uint64, record ...V) error {
	if len(record) != len(m.records) {
		return errors.Wrapf(ErrInvalidArgument, "expected %d values, got %d", len(m.records), len(record))
	}
	slot, _, grew, err := m.insertOrGet(key, preHash)
	if err != nil {
		return err
	}
	if grew {
		m.growSlots()
	}
	// a new key starts from an empty list, which cannot fail to grow, so
	// only an existing key reaches an error here, before any mutation
	i := m.keysRecordCount[slot]
	if int(i) == len(m.records[0][slot]) {
		if err = m.growRecords(slot); err != nil {
			return err
		}
	}
	for ord, v := range record {
		m.records[ord][slot][i] = v
	}
	m.keysRecordCount[slot]++
	return nil
}

// GetIndex returns the slot of |key|, or -1 if |key| is absent.
func (m *KeyMultiRecordMap[K, V]) GetIndex(key K, preHash uint64) int {
	return int(m.find(key, preHash))
}

// RecordCount returns the number of records associated with the key at
// |slot|.
func (m *KeyMultiRecordMap[K, V]) RecordCount(slot int) int {
	return int(m.keysRecordCount[slot])
}

// Record returns value |ord| of the |i|th record of the key at |slot|.
func (m *KeyMultiRecordMap[K, V]) Record(slot, i, ord int) V {
	return m.records[ord][slot][i]
}

// Records returns value |ord| of every record of the key at |slot|, in
// insertion order. The slice aliases internal storage.
func (m *KeyMultiRecordMap[K, V]) Records(slot, ord int) []V {
	return m.records[ord][slot][:m.keysRecordCount[slot]]
}

// Iter passes every key and its record count to |cb| in slot order until
// |cb| returns true.
func (m *KeyMultiRecordMap[K, V]) Iter(cb func(key K, slot, count int) (stop bool)) {
	for s := 0; s < int(m.count); s++ {
		if cb(m.keys[s], s, int(m.keysRecordCount[s])) {
			return
		}
	}
}

// Reset empties |m|. Record lists keep their capacity and are reused by
// the keys inserted next.
func (m *KeyMultiRecordMap[K, V]) Reset() {
	clear(m.keysRecordCount[:m.count])
	m.reset()
}

func (m *KeyMultiRecordMap[K, V]) growSlots() {
	n := m.Cap()
	counts := make([]int32, n)
	copy(counts, m.keysRecordCount)
	m.keysRecordCount = counts
	for ord, old := range m.records {
		lists := make([][]V, n)
		copy(lists, old)
		m.records[ord] = lists
	}
}

func (m *KeyMultiRecordMap[K, V]) growRecords(slot int32) error {
	size := len(m.records[0][slot])
	n := initialRecordCapacity
	if size > 0 {
		var err error
		if n, err = grownSize(size, recordGrowth); err != nil {
			return err
		}
	}
	for ord := range m.records {
		list := make([]V, n)
		copy(list, m.records[ord][slot])
		m.records[ord][slot] = list
	}
	return nil
}
