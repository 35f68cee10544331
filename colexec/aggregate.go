package colexec

import (
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"

	"github.com/gophc/grouphash"
	"github.com/gophc/grouphash/config"
)

// CountColumn names the row count column of an aggregation result.
const CountColumn = "count"

// SumPrefix prefixes the name of each sum column of an aggregation result.
const SumPrefix = "sum_"

// grouper maps the rows of a batch to group slots.
type grouper interface {
	// assign writes the slot of every row of |rec| to |slots|, inserting
	// new groups. Keys are validated before any group is inserted.
	assign(rec arrow.Record, slots []int) error
	len() int
	// sums returns integer sum column |ord|; ordinal 0 counts rows.
	sums(ord int) []int64
	appendKeys(bs []array.Builder)
	reset()
}

type groups[K comparable] struct {
	keys *keys[K]
	m    *grouphash.KeyValueMap[K, int64]
}

func (k *keys[K]) newGroups(width, capacity int) (grouper, error) {
	m, err := grouphash.NewKeyValueMap[K, int64](k.spec, width, capacity)
	if err != nil {
		return nil, err
	}
	return &groups[K]{keys: k, m: m}, nil
}

func (g *groups[K]) assign(rec arrow.Record, slots []int) error {
	if row := g.keys.firstNull(rec); row >= 0 {
		return errors.Wrapf(grouphash.ErrInvalidKey, "null key at row %d", row)
	}
	keys, hashes := g.keys.load(rec)
	for i, key := range keys {
		if err := g.keys.spec.Check(key); err != nil {
			return errors.Wrapf(err, "row %d", i)
		}
	}
	for i, key := range keys {
		s, err := g.m.Slot(key, hashes[i])
		if err != nil {
			return errors.Wrapf(err, "row %d", i)
		}
		slots[i] = s
	}
	return nil
}

func (g *groups[K]) len() int {
	return g.m.Len()
}

func (g *groups[K]) sums(ord int) []int64 {
	return g.m.Values(ord)
}

func (g *groups[K]) appendKeys(bs []array.Builder) {
	for s := 0; s < g.m.Len(); s++ {
		g.keys.appendKey(bs, g.m.Key(s))
	}
}

func (g *groups[K]) reset() {
	g.m.Reset()
}

// aggregate is one SUM of a value column.
type aggregate struct {
	ref
	class grouphash.Class
	// sum is the ordinal of the sum in the integer sums of the grouper, or
	// in floats
	sum int
}

// HashAggregator computes SUM of value columns and COUNT(*) grouped by one
// or two key columns. Integer-like values are summed as int64, floating
// point values as float64. Null values are skipped by SUM and counted by
// COUNT. A null key fails the batch.
type HashAggregator struct {
	schema *arrow.Schema
	layout grouphash.Layout
	keys   keySet
	groups grouper
	aggs   []aggregate
	floats [][]float64
	slots  []int
}

// NewHashAggregator constructs a HashAggregator for batches of |schema|.
func NewHashAggregator(schema *arrow.Schema, keyNames, valueNames []string, cfg config.Config) (*HashAggregator, error) {
	keyRefs, err := resolve(schema, keyNames)
	if err != nil {
		return nil, err
	}
	valueRefs, err := resolve(schema, valueNames)
	if err != nil {
		return nil, err
	}
	sig := grouphash.Signature{Keys: types(keyRefs), Values: types(valueRefs)}
	layout, err := grouphash.Specialize(sig, grouphash.Accumulate)
	if err != nil {
		return nil, err
	}
	ks, err := newKeySet(keyRefs, cfg.SIMD)
	if err != nil {
		return nil, err
	}

	a := &HashAggregator{schema: schema, layout: layout, keys: ks}
	ints := 1
	for i, r := range valueRefs {
		agg := aggregate{ref: r, class: layout.Values[i].Class}
		if agg.class == grouphash.SumFloat64 {
			agg.sum = len(a.floats)
			a.floats = append(a.floats, nil)
		} else {
			agg.sum = ints
			ints++
		}
		a.aggs = append(a.aggs, agg)
	}
	if a.groups, err = ks.newGroups(ints, cfg.AggregateCapacity); err != nil {
		return nil, err
	}
	return a, nil
}

// Layout returns the storage layout selected for the aggregation.
func (a *HashAggregator) Layout() grouphash.Layout {
	return a.layout
}

// Len returns the number of groups.
func (a *HashAggregator) Len() int {
	return a.groups.len()
}

// Add accumulates the rows of |rec|. A batch with an invalid key leaves
// the aggregation unchanged.
func (a *HashAggregator) Add(rec arrow.Record) error {
	if !rec.Schema().Equal(a.schema) {
		return errors.Wrapf(grouphash.ErrInvalidArgument, "batch schema %s", rec.Schema())
	}
	n := int(rec.NumRows())
	if n == 0 {
		return nil
	}
	a.slots = resize(a.slots, n)
	if err := a.groups.assign(rec, a.slots); err != nil {
		return err
	}
	counts := a.groups.sums(0)
	for _, s := range a.slots {
		counts[s]++
	}
	for _, agg := range a.aggs {
		arr := rec.Column(agg.ord)
		if agg.class == grouphash.SumFloat64 {
			a.floats[agg.sum] = extend(a.floats[agg.sum], a.groups.len())
			sumFloats(a.floats[agg.sum], a.slots, arr)
			continue
		}
		sumInts(a.groups.sums(agg.sum), a.slots, arr)
	}
	return nil
}

// Finish returns the groups as a record of the key columns, one sum
// column per value column and the count column, in slot order. The
// aggregation stays usable; the caller releases the record.
func (a *HashAggregator) Finish(mem memory.Allocator) arrow.Record {
	fields := a.keys.keyFields()
	nkeys := len(fields)
	for _, agg := range a.aggs {
		dt := arrow.PrimitiveTypes.Int64
		if agg.class == grouphash.SumFloat64 {
			dt = arrow.PrimitiveTypes.Float64
		}
		fields = append(fields, arrow.Field{Name: SumPrefix + agg.field.Name, Type: dt})
	}
	fields = append(fields, arrow.Field{Name: CountColumn, Type: arrow.PrimitiveTypes.Int64})

	b := array.NewRecordBuilder(mem, arrow.NewSchema(fields, nil))
	defer b.Release()
	n := a.groups.len()
	a.groups.appendKeys(b.Fields()[:nkeys])
	for i, agg := range a.aggs {
		fb := b.Field(nkeys + i)
		if agg.class == grouphash.SumFloat64 {
			a.floats[agg.sum] = extend(a.floats[agg.sum], n)
			fb.(*array.Float64Builder).AppendValues(a.floats[agg.sum][:n], nil)
			continue
		}
		fb.(*array.Int64Builder).AppendValues(a.groups.sums(agg.sum), nil)
	}
	b.Field(len(fields)-1).(*array.Int64Builder).AppendValues(a.groups.sums(0), nil)

	log.Info().Int("groups", n).Int("keys", nkeys).Int("sums", len(a.aggs)).Msg("colexec: aggregation finished")
	return b.NewRecord()
}

// Reset drops every group and keeps the storage for the next aggregation.
func (a *HashAggregator) Reset() {
	a.groups.reset()
	for i := range a.floats {
		a.floats[i] = a.floats[i][:0]
	}
}

// extend zero-extends |s| to length |n|.
func extend(s []float64, n int) []float64 {
	if len(s) >= n {
		return s
	}
	return append(s, make([]float64, n-len(s))...)
}

func sumInts(dst []int64, slots []int, arr arrow.Array) {
	switch a := arr.(type) {
	case *array.Int32:
		accumulate(dst, slots, a.Int32Values(), arr)
	case *array.Date32:
		accumulate(dst, slots, a.Date32Values(), arr)
	case *array.Int64:
		accumulate(dst, slots, a.Int64Values(), arr)
	}
}

func sumFloats(dst []float64, slots []int, arr arrow.Array) {
	switch a := arr.(type) {
	case *array.Float32:
		accumulate(dst, slots, a.Float32Values(), arr)
	case *array.Float64:
		accumulate(dst, slots, a.Float64Values(), arr)
	}
}

// accumulate adds vals[i] to dst[slots[i]] for every valid row of |arr|.
func accumulate[S, T grouphash.Number](dst []S, slots []int, vals []T, arr arrow.Array) {
	if arr.NullN() == 0 {
		for i, s := range slots {
			dst[s] += S(vals[i])
		}
		return
	}
	for i, s := range slots {
		if arr.IsValid(i) {
			dst[s] += S(vals[i])
		}
	}
}
