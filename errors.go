package grouphash

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidCapacity is returned when a capacity is not a power of two
	// greater than one.
	ErrInvalidCapacity = errors.New("capacity must be a power of two greater than one")

	// ErrInvalidKey is returned when the first key ordinal holds a value
	// reserved as an unused-slot marker.
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidArgument is returned when a call supplies the wrong number
	// of value ordinals.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupportedType is returned when a type signature cannot be
	// specialized for the requested map shape.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrCapacityExhausted is returned when backing arrays would need to
	// grow past the int32 index range.
	ErrCapacityExhausted = errors.New("map has grown too large")
)
