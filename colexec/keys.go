// Package colexec runs grouping and join operators over arrow record
// batches on top of the grouphash tables.
//
// Operators resolve their key columns once, select a table specialization
// for the key types and then process a batch in column order: pre-hash
// every key, map every row to a slot, and accumulate or emit per column.
package colexec

import (
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/cockroachdb/errors"

	"github.com/gophc/grouphash"
	"github.com/gophc/grouphash/prehash"
	"github.com/gophc/grouphash/simd"
)

// ref is a resolved column of a schema.
type ref struct {
	ord   int
	field arrow.Field
	typ   grouphash.Type
}

func typeOf(dt arrow.DataType) (grouphash.Type, error) {
	switch dt.ID() {
	case arrow.INT32:
		return grouphash.Int32, nil
	case arrow.DATE32:
		return grouphash.Date, nil
	case arrow.INT64:
		return grouphash.Int64, nil
	case arrow.FLOAT32:
		return grouphash.Float32, nil
	case arrow.FLOAT64:
		return grouphash.Float64, nil
	case arrow.BINARY, arrow.FIXED_SIZE_BINARY:
		return grouphash.Binary, nil
	case arrow.STRING:
		return grouphash.Varchar, nil
	}
	return 0, errors.Wrapf(grouphash.ErrUnsupportedType, "arrow type %s", dt)
}

// resolve looks up |names| in |schema|.
func resolve(schema *arrow.Schema, names []string) (refs []ref, err error) {
	refs = make([]ref, len(names))
	for i, name := range names {
		idx := schema.FieldIndices(name)
		if len(idx) != 1 {
			return nil, errors.Wrapf(grouphash.ErrInvalidArgument, "column %q matches %d fields", name, len(idx))
		}
		f := schema.Field(idx[0])
		t, err := typeOf(f.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "column %q", name)
		}
		refs[i] = ref{ord: idx[0], field: f, typ: t}
	}
	return refs, nil
}

func types(refs []ref) []grouphash.Type {
	ts := make([]grouphash.Type, len(refs))
	for i, r := range refs {
		ts[i] = r.typ
	}
	return ts
}

// column reads one key ordinal of type K.
type column[K comparable] struct {
	ref
	spec grouphash.KeySpec[K]
	// decode copies the values of |arr| into |dst|. Null rows hold
	// unspecified keys.
	decode func(arr arrow.Array, dst []K)
	hash   func(dst []uint64, keys []K, extend bool)
	append func(b array.Builder, key K)
}

func int32Column(r ref, vectorized bool) column[int32] {
	c := column[int32]{ref: r, spec: grouphash.Int32Keys, hash: prehash.Int32s}
	if vectorized {
		c.hash = simd.PreHashInt32
	}
	if r.typ == grouphash.Date {
		c.spec = grouphash.DateKeys
		c.decode = func(arr arrow.Array, dst []int32) {
			for i, d := range arr.(*array.Date32).Date32Values() {
				dst[i] = int32(d)
			}
		}
		c.append = func(b array.Builder, key int32) {
			b.(*array.Date32Builder).Append(arrow.Date32(key))
		}
		return c
	}
	c.decode = func(arr arrow.Array, dst []int32) {
		copy(dst, arr.(*array.Int32).Int32Values())
	}
	c.append = func(b array.Builder, key int32) {
		b.(*array.Int32Builder).Append(key)
	}
	return c
}

func float64Column(r ref) column[float64] {
	return column[float64]{
		ref:  r,
		spec: grouphash.Float64Keys,
		decode: func(arr arrow.Array, dst []float64) {
			copy(dst, arr.(*array.Float64).Float64Values())
		},
		hash: prehash.Float64s,
		append: func(b array.Builder, key float64) {
			b.(*array.Float64Builder).Append(key)
		},
	}
}

// bytesColumn decodes binary, fixed-size binary and varchar columns into
// views of the batch buffers. Tables copy a key before retaining it.
func bytesColumn(r ref) column[string] {
	c := column[string]{ref: r, spec: grouphash.BytesKeys, hash: prehash.Strings}
	if r.field.Type.ID() == arrow.FIXED_SIZE_BINARY {
		c.decode = func(arr arrow.Array, dst []string) {
			a := arr.(*array.FixedSizeBinary)
			for i := range dst {
				dst[i] = grouphash.BytesView(a.Value(i))
			}
		}
		c.append = func(b array.Builder, key string) {
			b.(*array.FixedSizeBinaryBuilder).Append([]byte(key))
		}
		return c
	}
	if r.typ == grouphash.Binary {
		c.decode = func(arr arrow.Array, dst []string) {
			a := arr.(*array.Binary)
			for i := range dst {
				dst[i] = grouphash.BytesView(a.Value(i))
			}
		}
		c.append = func(b array.Builder, key string) {
			b.(*array.BinaryBuilder).AppendString(key)
		}
		return c
	}
	c.decode = func(arr arrow.Array, dst []string) {
		a := arr.(*array.String)
		for i := range dst {
			dst[i] = a.Value(i)
		}
	}
	c.append = func(b array.Builder, key string) {
		b.(*array.StringBuilder).Append(key)
	}
	return c
}

// rowFunc receives a row whose key ordinals are all valid.
type rowFunc[K comparable] func(row int, key K, preHash uint64) error

// keys reads the key tuple K of a batch.
type keys[K comparable] struct {
	spec   grouphash.KeySpec[K]
	fields []arrow.Field
	ords   []int
	// read decodes every row of |rec| into |dst| and its pre-hash into
	// |hashes|
	read func(rec arrow.Record, dst []K, hashes []uint64)
	// each and selected, if set, replace the generic walks in forEach and
	// forEachSelected
	each      func(rec arrow.Record, fn rowFunc[K]) error
	selected  func(rec arrow.Record, sel []int32, fn rowFunc[K]) error
	appendKey func(bs []array.Builder, key K)

	buf    []K
	hashes []uint64
}

func single[K comparable](c column[K]) *keys[K] {
	return &keys[K]{
		spec:   c.spec,
		fields: []arrow.Field{c.field},
		ords:   []int{c.ord},
		read: func(rec arrow.Record, dst []K, hashes []uint64) {
			c.decode(rec.Column(c.ord), dst)
			c.hash(hashes, dst, false)
		},
		appendKey: func(bs []array.Builder, key K) {
			c.append(bs[0], key)
		},
	}
}

// singleInt32 hashes only the rows a walk visits. With |vectorized| set
// walks use the lane-blocked pre-hash.
func singleInt32(c column[int32], vectorized bool) *keys[int32] {
	k := single(c)
	var scratch []int32
	var hashes []uint64
	values := func(arr arrow.Array) []int32 {
		if a, ok := arr.(*array.Int32); ok {
			return a.Int32Values()
		}
		scratch = resize(scratch, arr.Len())
		c.decode(arr, scratch)
		return scratch
	}
	if vectorized {
		k.each = func(rec arrow.Record, fn rowFunc[int32]) error {
			arr := rec.Column(c.ord)
			var validity []byte
			if arr.NullN() > 0 {
				validity = arr.NullBitmapBytes()
			}
			return simd.ForEachValid(values(arr), validity, arr.Data().Offset(), simd.LaneFunc(fn))
		}
	}
	k.selected = func(rec arrow.Record, sel []int32, fn rowFunc[int32]) error {
		arr := rec.Column(c.ord)
		vals := values(arr)
		nulls := arr.NullN() > 0
		visit := func(row int, key int32, preHash uint64) error {
			if nulls && arr.IsNull(row) {
				return nil
			}
			return fn(row, key, preHash)
		}
		if vectorized {
			return simd.ForEachSelected(vals, sel, visit)
		}
		hashes = resize(hashes, len(vals))
		prehash.Int32sSelected(hashes, vals, sel, false)
		for _, r := range sel {
			if err := visit(int(r), vals[r], hashes[r]); err != nil {
				return err
			}
		}
		return nil
	}
	return k
}

func pair[A, B comparable](a column[A], b column[B]) *keys[grouphash.Pair[A, B]] {
	var firsts []A
	var seconds []B
	return &keys[grouphash.Pair[A, B]]{
		spec:   grouphash.PairKeys(a.spec, b.spec),
		fields: []arrow.Field{a.field, b.field},
		ords:   []int{a.ord, b.ord},
		read: func(rec arrow.Record, dst []grouphash.Pair[A, B], hashes []uint64) {
			firsts, seconds = resize(firsts, len(dst)), resize(seconds, len(dst))
			a.decode(rec.Column(a.ord), firsts)
			a.hash(hashes, firsts, false)
			b.decode(rec.Column(b.ord), seconds)
			b.hash(hashes, seconds, true)
			for i := range dst {
				dst[i] = grouphash.Pair[A, B]{First: firsts[i], Second: seconds[i]}
			}
		},
		appendKey: func(bs []array.Builder, key grouphash.Pair[A, B]) {
			a.append(bs[0], key.First)
			b.append(bs[1], key.Second)
		},
	}
}

// load decodes the keys and pre-hashes of |rec| into scratch buffers that
// stay valid until the next call.
func (k *keys[K]) load(rec arrow.Record) ([]K, []uint64) {
	n := int(rec.NumRows())
	k.buf, k.hashes = resize(k.buf, n), resize(k.hashes, n)
	k.read(rec, k.buf, k.hashes)
	return k.buf, k.hashes
}

// firstNull returns the first row of |rec| with a null key ordinal, or -1.
func (k *keys[K]) firstNull(rec arrow.Record) int {
	first := -1
	for _, ord := range k.ords {
		arr := rec.Column(ord)
		if arr.NullN() == 0 {
			continue
		}
		for i := 0; i < arr.Len() && (first < 0 || i < first); i++ {
			if arr.IsNull(i) {
				first = i
				break
			}
		}
	}
	return first
}

func (k *keys[K]) nullable(rec arrow.Record) bool {
	for _, ord := range k.ords {
		if rec.Column(ord).NullN() > 0 {
			return true
		}
	}
	return false
}

func (k *keys[K]) isNull(rec arrow.Record, row int) bool {
	for _, ord := range k.ords {
		if rec.Column(ord).IsNull(row) {
			return true
		}
	}
	return false
}

// forEach calls |fn| in row order for every row of |rec| without a null
// key ordinal. The first error stops the walk.
func (k *keys[K]) forEach(rec arrow.Record, fn rowFunc[K]) error {
	if k.each != nil {
		return k.each(rec, fn)
	}
	keys, hashes := k.load(rec)
	nulls := k.nullable(rec)
	for i, key := range keys {
		if nulls && k.isNull(rec, i) {
			continue
		}
		if err := fn(i, key, hashes[i]); err != nil {
			return err
		}
	}
	return nil
}

// forEachSelected is forEach over the rows listed in |sel|, in selection
// order.
func (k *keys[K]) forEachSelected(rec arrow.Record, sel []int32, fn rowFunc[K]) error {
	if k.selected != nil {
		return k.selected(rec, sel, fn)
	}
	keys, hashes := k.load(rec)
	nulls := k.nullable(rec)
	for _, r := range sel {
		i := int(r)
		if nulls && k.isNull(rec, i) {
			continue
		}
		if err := fn(i, keys[i], hashes[i]); err != nil {
			return err
		}
	}
	return nil
}

func (k *keys[K]) keyFields() []arrow.Field {
	fs := make([]arrow.Field, len(k.fields))
	for i, f := range k.fields {
		fs[i] = arrow.Field{Name: f.Name, Type: f.Type}
	}
	return fs
}

// keySet is a keys[K] with its type parameter erased. Operators build
// their tables through it so the key type is fixed once per operator.
type keySet interface {
	keyFields() []arrow.Field
	newGroups(width, capacity int) (grouper, error)
	newJoinTable(probe keySet, capacity int) (joinTable, error)
}

// newKeySet selects the key tuple type for |refs|.
func newKeySet(refs []ref, vectorized bool) (keySet, error) {
	cols := make([]any, len(refs))
	for i, r := range refs {
		switch r.typ {
		case grouphash.Int32, grouphash.Date:
			cols[i] = int32Column(r, vectorized)
		case grouphash.Float64:
			cols[i] = float64Column(r)
		case grouphash.Binary, grouphash.Varchar:
			cols[i] = bytesColumn(r)
		default:
			return nil, errors.Wrapf(grouphash.ErrUnsupportedType, "key column %q has type %s", r.field.Name, r.typ)
		}
	}
	switch len(cols) {
	case 1:
		switch c := cols[0].(type) {
		case column[int32]:
			return singleInt32(c, vectorized), nil
		case column[float64]:
			return single(c), nil
		case column[string]:
			return single(c), nil
		}
	case 2:
		switch a := cols[0].(type) {
		case column[int32]:
			return pairWith(a, cols[1]), nil
		case column[float64]:
			return pairWith(a, cols[1]), nil
		case column[string]:
			return pairWith(a, cols[1]), nil
		}
	}
	return nil, errors.Wrapf(grouphash.ErrUnsupportedType, "%d key columns", len(cols))
}

func pairWith[A comparable](a column[A], second any) keySet {
	switch b := second.(type) {
	case column[int32]:
		return pair(a, b)
	case column[float64]:
		return pair(a, b)
	default:
		return pair(a, b.(column[string]))
	}
}

func resize[T any](s []T, n int) []T {
	if cap(s) < n {
		return make([]T, n)
	}
	return s[:n]
}
