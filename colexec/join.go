package colexec

import (
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"

	"github.com/gophc/grouphash"
	"github.com/gophc/grouphash/config"
)

// MatchFunc receives a probe row and one build row with an equal key. It
// returns true to stop probing.
type MatchFunc func(probeRow int, build arrow.Record, buildRow int) (stop bool)

// joinTable retains build rows by key and finds them for probe rows.
type joinTable interface {
	// insert associates every row of |rec| with a non-null key, as
	// (batch, row) records
	insert(rec arrow.Record, batch int32) error
	// lookup calls |fn| for every build record matching a probe row of
	// |rec| until |fn| returns true. A nil |sel| probes every row, else
	// only the rows it lists.
	lookup(rec arrow.Record, sel []int32, fn func(probeRow int, batch, buildRow int32) bool) error
	len() int
	reset()
}

type recordTable[K comparable] struct {
	build, probe *keys[K]
	m            *grouphash.KeyMultiRecordMap[K, int32]
}

func (k *keys[K]) newJoinTable(probe keySet, capacity int) (joinTable, error) {
	p, ok := probe.(*keys[K])
	if !ok {
		return nil, errors.Wrap(grouphash.ErrUnsupportedType, "build and probe keys differ in type")
	}
	m, err := grouphash.NewKeyMultiRecordMap[K, int32](k.spec, 2, capacity)
	if err != nil {
		return nil, err
	}
	return &recordTable[K]{build: k, probe: p, m: m}, nil
}

func (t *recordTable[K]) insert(rec arrow.Record, batch int32) error {
	err := t.build.forEach(rec, func(row int, key K, _ uint64) error {
		if err := t.build.spec.Check(key); err != nil {
			return errors.Wrapf(err, "build row %d", row)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return t.build.forEach(rec, func(row int, key K, preHash uint64) error {
		if err := t.m.Associate(key, preHash, batch, int32(row)); err != nil {
			return errors.Wrapf(err, "build row %d", row)
		}
		return nil
	})
}

var errStop = errors.New("probe stopped")

func (t *recordTable[K]) lookup(rec arrow.Record, sel []int32, fn func(probeRow int, batch, buildRow int32) bool) error {
	match := func(row int, key K, preHash uint64) error {
		slot := t.m.GetIndex(key, preHash)
		if slot < 0 {
			return nil
		}
		batches, rows := t.m.Records(slot, 0), t.m.Records(slot, 1)
		for i := range batches {
			if fn(row, batches[i], rows[i]) {
				return errStop
			}
		}
		return nil
	}
	var err error
	if sel == nil {
		err = t.probe.forEach(rec, match)
	} else {
		err = t.probe.forEachSelected(rec, sel, match)
	}
	if errors.Is(err, errStop) {
		return nil
	}
	return err
}

func (t *recordTable[K]) len() int {
	return t.m.Len()
}

func (t *recordTable[K]) reset() {
	t.m.Reset()
}

// HashJoiner is an equi-join of two record streams on one or two key
// columns. Build batches are retained and indexed by key; probe batches
// are streamed against them. Null keys never match.
type HashJoiner struct {
	buildSchema, probeSchema *arrow.Schema
	table                    joinTable
	batches                  []arrow.Record
}

// NewHashJoiner constructs a HashJoiner matching |buildKeys| of batches
// of |build| against |probeKeys| of batches of |probe|. Paired key
// columns must have the same type.
func NewHashJoiner(build *arrow.Schema, buildKeys []string, probe *arrow.Schema, probeKeys []string, cfg config.Config) (*HashJoiner, error) {
	if len(buildKeys) != len(probeKeys) {
		return nil, errors.Wrapf(grouphash.ErrInvalidArgument, "%d build keys and %d probe keys", len(buildKeys), len(probeKeys))
	}
	buildRefs, err := resolve(build, buildKeys)
	if err != nil {
		return nil, err
	}
	probeRefs, err := resolve(probe, probeKeys)
	if err != nil {
		return nil, err
	}
	for i := range buildRefs {
		if buildRefs[i].typ != probeRefs[i].typ {
			return nil, errors.Wrapf(grouphash.ErrUnsupportedType, "key %d is %s on build and %s on probe",
				i, buildRefs[i].typ, probeRefs[i].typ)
		}
	}
	// records are (batch, row) references
	sig := grouphash.Signature{Keys: types(buildRefs), Values: []grouphash.Type{grouphash.Int32, grouphash.Int32}}
	if _, err = grouphash.Specialize(sig, grouphash.Append); err != nil {
		return nil, err
	}
	bk, err := newKeySet(buildRefs, cfg.SIMD)
	if err != nil {
		return nil, err
	}
	pk, err := newKeySet(probeRefs, cfg.SIMD)
	if err != nil {
		return nil, err
	}
	table, err := bk.newJoinTable(pk, cfg.JoinCapacity)
	if err != nil {
		return nil, err
	}
	return &HashJoiner{buildSchema: build, probeSchema: probe, table: table}, nil
}

// Build retains |rec| and indexes its rows. A batch with an invalid key is
// rejected whole.
func (j *HashJoiner) Build(rec arrow.Record) error {
	if !rec.Schema().Equal(j.buildSchema) {
		return errors.Wrapf(grouphash.ErrInvalidArgument, "build schema %s", rec.Schema())
	}
	if len(j.batches) == maxBatches {
		return errors.Wrapf(grouphash.ErrCapacityExhausted, "%d build batches", len(j.batches))
	}
	batch := int32(len(j.batches))
	if err := j.table.insert(rec, batch); err != nil {
		return err
	}
	rec.Retain()
	j.batches = append(j.batches, rec)
	log.Debug().Int32("batch", batch).Int64("rows", rec.NumRows()).Int("keys", j.table.len()).Msg("colexec: built join batch")
	return nil
}

const maxBatches = 1<<31 - 1

// Probe calls |fn| for every build row matching a row of |rec|, in probe
// row order and build insertion order, until |fn| returns true.
func (j *HashJoiner) Probe(rec arrow.Record, fn MatchFunc) error {
	if !rec.Schema().Equal(j.probeSchema) {
		return errors.Wrapf(grouphash.ErrInvalidArgument, "probe schema %s", rec.Schema())
	}
	return j.table.lookup(rec, nil, func(probeRow int, batch, buildRow int32) bool {
		return fn(probeRow, j.batches[batch], int(buildRow))
	})
}

// ProbeSelected is Probe restricted to the rows of |rec| listed in |sel|,
// such as the output of a filter, in selection order.
func (j *HashJoiner) ProbeSelected(rec arrow.Record, sel []int32, fn MatchFunc) error {
	if !rec.Schema().Equal(j.probeSchema) {
		return errors.Wrapf(grouphash.ErrInvalidArgument, "probe schema %s", rec.Schema())
	}
	for _, r := range sel {
		if r < 0 || int64(r) >= rec.NumRows() {
			return errors.Wrapf(grouphash.ErrInvalidArgument, "selected row %d of %d", r, rec.NumRows())
		}
	}
	if len(sel) == 0 {
		return nil
	}
	return j.table.lookup(rec, sel, func(probeRow int, batch, buildRow int32) bool {
		return fn(probeRow, j.batches[batch], int(buildRow))
	})
}

// Len returns the number of distinct build keys.
func (j *HashJoiner) Len() int {
	return j.table.len()
}

// Release drops every build batch. The joiner can be built again.
func (j *HashJoiner) Release() {
	for _, rec := range j.batches {
		rec.Release()
	}
	clear(j.batches)
	j.batches = j.batches[:0]
	j.table.reset()
}
