package colexec

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gophc/grouphash"
	"github.com/gophc/grouphash/config"
)

var salesSchema = arrow.NewSchema([]arrow.Field{
	{Name: "store", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
	{Name: "sku", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "units", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
	{Name: "price", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "day", Type: arrow.FixedWidthTypes.Date32},
}, nil)

type sale struct {
	store int32
	sku   string
	units int32
	price float64
	day   arrow.Date32
	// null flags
	noStore, noUnits bool
}

func genSales(seed int64, count, stores int) []sale {
	src := rand.New(rand.NewSource(seed))
	sales := make([]sale, count)
	for i := range sales {
		sales[i] = sale{
			store:   src.Int31n(int32(stores)),
			sku:     fmt.Sprintf("sku-%d", src.Intn(7)),
			units:   src.Int31n(100),
			price:   float64(src.Intn(1000)) / 8,
			day:     arrow.Date32(19000 + src.Intn(30)),
			noUnits: src.Intn(10) == 0,
		}
	}
	return sales
}

func salesRecord(mem memory.Allocator, sales []sale) arrow.Record {
	b := array.NewRecordBuilder(mem, salesSchema)
	defer b.Release()
	for _, s := range sales {
		if s.noStore {
			b.Field(0).AppendNull()
		} else {
			b.Field(0).(*array.Int32Builder).Append(s.store)
		}
		b.Field(1).(*array.StringBuilder).Append(s.sku)
		if s.noUnits {
			b.Field(2).AppendNull()
		} else {
			b.Field(2).(*array.Int32Builder).Append(s.units)
		}
		b.Field(3).(*array.Float64Builder).Append(s.price)
		b.Field(4).(*array.Date32Builder).Append(s.day)
	}
	return b.NewRecord()
}

type totals struct {
	units int64
	price float64
	count int64
}

func forEachSIMD(t *testing.T, fn func(t *testing.T, cfg config.Config)) {
	for _, on := range []bool{false, true} {
		cfg := config.Default()
		cfg.SIMD = on
		t.Run(fmt.Sprintf("simd=%t", on), func(t *testing.T) {
			fn(t, cfg)
		})
	}
}

func TestAggregateByStore(t *testing.T) {
	forEachSIMD(t, func(t *testing.T, cfg config.Config) {
		mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
		defer mem.AssertSize(t, 0)

		agg, err := NewHashAggregator(salesSchema, []string{"store"}, []string{"units", "price"}, cfg)
		require.NoError(t, err)
		assert.Equal(t, grouphash.Accumulate, agg.Layout().Shape)

		exp := make(map[int32]totals)
		for batch := 0; batch < 4; batch++ {
			sales := genSales(int64(batch), 257, 40)
			for _, s := range sales {
				tot := exp[s.store]
				if !s.noUnits {
					tot.units += int64(s.units)
				}
				tot.price += s.price
				tot.count++
				exp[s.store] = tot
			}
			rec := salesRecord(mem, sales)
			require.NoError(t, agg.Add(rec))
			rec.Release()
		}
		assert.Equal(t, len(exp), agg.Len())

		res := agg.Finish(mem)
		defer res.Release()
		names := make([]string, res.NumCols())
		for i, f := range res.Schema().Fields() {
			names[i] = f.Name
		}
		assert.Equal(t, []string{"store", "sum_units", "sum_price", CountColumn}, names)

		act := make(map[int32]totals)
		stores := res.Column(0).(*array.Int32)
		for i := 0; i < int(res.NumRows()); i++ {
			act[stores.Value(i)] = totals{
				units: res.Column(1).(*array.Int64).Value(i),
				price: res.Column(2).(*array.Float64).Value(i),
				count: res.Column(3).(*array.Int64).Value(i),
			}
		}
		require.Equal(t, len(exp), len(act))
		for k, e := range exp {
			a := act[k]
			assert.Equal(t, e.units, a.units, "store %d", k)
			assert.InDelta(t, e.price, a.price, 1e-6, "store %d", k)
			assert.Equal(t, e.count, a.count, "store %d", k)
		}
	})
}

func TestAggregateByPair(t *testing.T) {
	forEachSIMD(t, func(t *testing.T, cfg config.Config) {
		mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
		defer mem.AssertSize(t, 0)

		agg, err := NewHashAggregator(salesSchema, []string{"store", "sku"}, []string{"day"}, cfg)
		require.NoError(t, err)
		assert.Equal(t, grouphash.SumInt64, agg.Layout().Values[0].Class)

		type key struct {
			store int32
			sku   string
		}
		exp := make(map[key][2]int64)
		sales := genSales(42, 1000, 5)
		for _, s := range sales {
			k := key{s.store, s.sku}
			e := exp[k]
			e[0] += int64(s.day)
			e[1]++
			exp[k] = e
		}
		rec := salesRecord(mem, sales)
		defer rec.Release()
		require.NoError(t, agg.Add(rec))

		res := agg.Finish(mem)
		defer res.Release()
		require.Equal(t, int64(len(exp)), res.NumRows())
		for i := 0; i < int(res.NumRows()); i++ {
			k := key{res.Column(0).(*array.Int32).Value(i), res.Column(1).(*array.String).Value(i)}
			e, ok := exp[k]
			require.True(t, ok, "unexpected group %v", k)
			assert.Equal(t, e[0], res.Column(2).(*array.Int64).Value(i))
			assert.Equal(t, e[1], res.Column(3).(*array.Int64).Value(i))
		}
	})
}

func TestAggregateBySku(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	agg, err := NewHashAggregator(salesSchema, []string{"sku"}, nil, config.Default())
	require.NoError(t, err)
	sales := genSales(7, 300, 3)
	exp := make(map[string]int64)
	for _, s := range sales {
		exp[s.sku]++
	}
	rec := salesRecord(mem, sales)
	defer rec.Release()
	require.NoError(t, agg.Add(rec))

	res := agg.Finish(mem)
	defer res.Release()
	act := make(map[string]int64)
	for i := 0; i < int(res.NumRows()); i++ {
		act[res.Column(0).(*array.String).Value(i)] = res.Column(1).(*array.Int64).Value(i)
	}
	assert.Equal(t, exp, act)
}

func TestAggregateInvalidKeys(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	agg, err := NewHashAggregator(salesSchema, []string{"store"}, []string{"units"}, config.Default())
	require.NoError(t, err)
	good := salesRecord(mem, genSales(1, 50, 10))
	defer good.Release()
	require.NoError(t, agg.Add(good))
	groups := agg.Len()

	t.Run("null", func(t *testing.T) {
		sales := genSales(2, 20, 100)
		sales[13].noStore = true
		rec := salesRecord(mem, sales)
		defer rec.Release()
		err := agg.Add(rec)
		assert.ErrorIs(t, err, grouphash.ErrInvalidKey)
		assert.ErrorContains(t, err, "row 13")
		assert.Equal(t, groups, agg.Len())
	})
	t.Run("negative", func(t *testing.T) {
		sales := genSales(3, 20, 100)
		sales[19].store = -4
		rec := salesRecord(mem, sales)
		defer rec.Release()
		assert.ErrorIs(t, agg.Add(rec), grouphash.ErrInvalidKey)
		assert.Equal(t, groups, agg.Len())
	})
	t.Run("schema", func(t *testing.T) {
		other := arrow.NewSchema([]arrow.Field{{Name: "store", Type: arrow.PrimitiveTypes.Int32}}, nil)
		b := array.NewRecordBuilder(mem, other)
		defer b.Release()
		b.Field(0).(*array.Int32Builder).Append(1)
		rec := b.NewRecord()
		defer rec.Release()
		assert.ErrorIs(t, agg.Add(rec), grouphash.ErrInvalidArgument)
	})
}

func TestAggregateReset(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	agg, err := NewHashAggregator(salesSchema, []string{"store"}, []string{"price"}, config.Default())
	require.NoError(t, err)
	rec := salesRecord(mem, genSales(5, 100, 20))
	defer rec.Release()
	require.NoError(t, agg.Add(rec))
	first := agg.Finish(mem)
	defer first.Release()

	agg.Reset()
	assert.Equal(t, 0, agg.Len())
	empty := agg.Finish(mem)
	assert.Equal(t, int64(0), empty.NumRows())
	empty.Release()

	require.NoError(t, agg.Add(rec))
	second := agg.Finish(mem)
	defer second.Release()
	assert.True(t, array.RecordEqual(first, second))
}

func TestAggregateByFixedSizeBinary(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	codeType := &arrow.FixedSizeBinaryType{ByteWidth: 3}
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "code", Type: codeType},
		{Name: "qty", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	agg, err := NewHashAggregator(schema, []string{"code"}, []string{"qty"}, config.Default())
	require.NoError(t, err)
	assert.Equal(t, grouphash.Owned, agg.Layout().Keys[0].Class)

	codes := []string{"AAA", "BBB", "AAA", "CCC", "BBB", "AAA"}
	exp := map[string][2]int64{}
	b := array.NewRecordBuilder(mem, schema)
	for i, c := range codes {
		b.Field(0).(*array.FixedSizeBinaryBuilder).Append([]byte(c))
		b.Field(1).(*array.Int64Builder).Append(int64(i))
		e := exp[c]
		e[0] += int64(i)
		e[1]++
		exp[c] = e
	}
	rec := b.NewRecord()
	b.Release()
	defer rec.Release()
	require.NoError(t, agg.Add(rec))

	res := agg.Finish(mem)
	defer res.Release()
	assert.True(t, arrow.TypeEqual(codeType, res.Schema().Field(0).Type))
	act := map[string][2]int64{}
	for i := 0; i < int(res.NumRows()); i++ {
		k := string(res.Column(0).(*array.FixedSizeBinary).Value(i))
		act[k] = [2]int64{res.Column(1).(*array.Int64).Value(i), res.Column(2).(*array.Int64).Value(i)}
	}
	assert.Equal(t, exp, act)
}

func TestAggregateRejectsNaNKeys(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "store", Type: arrow.PrimitiveTypes.Int32},
		{Name: "price", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
	agg, err := NewHashAggregator(schema, []string{"store", "price"}, nil, config.Default())
	require.NoError(t, err)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	b.Field(0).(*array.Int32Builder).AppendValues([]int32{1, 1}, nil)
	b.Field(1).(*array.Float64Builder).AppendValues([]float64{-1, -1}, nil)
	good := b.NewRecord()
	defer good.Release()
	require.NoError(t, agg.Add(good))
	assert.Equal(t, 1, agg.Len())

	b.Field(0).(*array.Int32Builder).AppendValues([]int32{1, 1, 1}, nil)
	b.Field(1).(*array.Float64Builder).AppendValues([]float64{math.NaN(), math.NaN(), -1}, nil)
	nan := b.NewRecord()
	defer nan.Release()
	err = agg.Add(nan)
	assert.ErrorIs(t, err, grouphash.ErrInvalidKey)
	assert.ErrorContains(t, err, "row 0")
	assert.Equal(t, 1, agg.Len())
}

func TestNewHashAggregatorErrors(t *testing.T) {
	cfg := config.Default()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "a", Type: arrow.PrimitiveTypes.Int32},
		{Name: "b", Type: arrow.PrimitiveTypes.Int32},
		{Name: "c", Type: arrow.PrimitiveTypes.Int32},
		{Name: "name", Type: arrow.BinaryTypes.String},
		{Name: "flag", Type: arrow.FixedWidthTypes.Boolean},
	}, nil)
	tests := []struct {
		keys, values []string
		err          error
	}{
		{[]string{"id"}, nil, grouphash.ErrUnsupportedType},
		{[]string{"a"}, []string{"name"}, grouphash.ErrUnsupportedType},
		{[]string{"a", "b", "c"}, nil, grouphash.ErrUnsupportedType},
		{nil, []string{"a"}, grouphash.ErrUnsupportedType},
		{[]string{"flag"}, nil, grouphash.ErrUnsupportedType},
		{[]string{"missing"}, nil, grouphash.ErrInvalidArgument},
	}
	for _, tt := range tests {
		_, err := NewHashAggregator(schema, tt.keys, tt.values, cfg)
		assert.ErrorIs(t, err, tt.err, "keys %v values %v", tt.keys, tt.values)
	}

	cfg.AggregateCapacity = 3
	_, err := NewHashAggregator(schema, []string{"a"}, nil, cfg)
	assert.ErrorIs(t, err, grouphash.ErrInvalidCapacity)
}
