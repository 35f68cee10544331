package grouphash

import (
	"math"
	"math/bits"

	"github.com/cockroachdb/errors"
)

const (
	// DefaultCapacity is the capacity used by the zero-argument constructors.
	// Group counts are query dependent, so tables start small.
	DefaultCapacity = 4

	// hashTable and next cells which do not reference a slot
	unused int32 = -1
)

// maxCapacity bounds slot and node counts so they stay addressable by an
// int32 index. Tests lower it to reach exhaustion without huge tables.
var maxCapacity = math.MaxInt32 - 1

func checkCapacity(capacity int) error {
	if capacity > 1 && capacity&(capacity-1) == 0 && capacity <= maxCapacity {
		return nil
	}
	return errors.Wrapf(ErrInvalidCapacity, "got %d", capacity)
}

// grownSize returns |size| * |factor|, or an error once the result would
// no longer be addressable by an int32 slot index.
func grownSize(size, factor int) (int, error) {
	n := size * factor
	if n > maxCapacity || n <= size {
		return 0, errors.Wrapf(ErrCapacityExhausted, "cannot grow %d slots by %dx", size, factor)
	}
	return n, nil
}

// maxBuckets is the largest power of two within maxCapacity.
func maxBuckets() int {
	return 1 << (bits.Len(uint(maxCapacity)) - 1)
}

// rehashSize returns the bucket table length for |count| records: the
// smallest power of two above |count|, starting from |buckets|, doubled.
// The result is clamped to maxBuckets, and ErrCapacityExhausted reports
// that the table cannot grow past |buckets|.
func rehashSize(buckets, count int) (int, error) {
	limit := maxBuckets()
	size := buckets
	for size <= count && size < limit {
		size <<= 1
	}
	size = min(size<<1, limit)
	if size <= buckets {
		return buckets, errors.Wrapf(ErrCapacityExhausted, "cannot grow %d buckets", buckets)
	}
	return size, nil
}

func fill[T any](s []T, v T) {
	for i := range s {
		s[i] = v
	}
}
