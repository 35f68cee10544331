package simd

import (
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/bitutil"

	"github.com/gophc/grouphash/prehash"
)

// LaneFunc receives the position of one valid key, the key, and its
// finished pre-hash.
type LaneFunc func(row int, key int32, preHash uint64) error

// ForEachValid computes the pre-hash of every key in blocks of Width()
// lanes and calls |fn| for each key whose validity bit is set, in order.
// |validity| is an LSB-ordered bitmap as used by arrow, addressed from bit
// |offset|; a nil bitmap marks every key valid. The first error returned
// by |fn| stops the walk and is returned.
func ForEachValid(keys []int32, validity []byte, offset int, fn LaneFunc) error {
	w := Width()
	var b block
	for i := 0; i < len(keys); i += w {
		lanes := keys[i:min(i+w, len(keys))]
		b.mulAdd(lanes)
		mask := validLanes(validity, offset+i, len(lanes))
		for mask != 0 {
			j := nextLane(&mask)
			if err := fn(i+j, lanes[j], prehash.FinishInt32(b[j])); err != nil {
				return err
			}
		}
	}
	return nil
}

// ForEachInt32 is ForEachValid over an arrow int32 column.
func ForEachInt32(arr *array.Int32, fn LaneFunc) error {
	var validity []byte
	if arr.NullN() > 0 {
		validity = arr.NullBitmapBytes()
	}
	return ForEachValid(arr.Int32Values(), validity, arr.Data().Offset(), fn)
}

// validLanes gathers |n| validity bits starting at bit |from|.
func validLanes(validity []byte, from, n int) (m laneMask) {
	if validity == nil {
		return laneMask(1)<<n - 1
	}
	for j := 0; j < n; j++ {
		if bitutil.BitIsSet(validity, from+j) {
			m |= 1 << j
		}
	}
	return
}

// ForEachSelected is ForEachValid over the rows listed in |sel|, typically
// the output of a filter. Selected keys are gathered into blocks of
// Width() lanes and |fn| is called in selection order.
func ForEachSelected(keys []int32, sel []int32, fn LaneFunc) error {
	w := Width()
	var b block
	var lanes [MaxWidth]int32
	for i := 0; i < len(sel); i += w {
		rows := sel[i:min(i+w, len(sel))]
		for j, r := range rows {
			lanes[j] = keys[r]
		}
		b.mulAdd(lanes[:len(rows)])
		for j, r := range rows {
			if err := fn(int(r), lanes[j], prehash.FinishInt32(b[j])); err != nil {
				return err
			}
		}
	}
	return nil
}
