package grouphash

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Type is a column type a map can be specialized for.
type Type uint8

const (
	Int32 Type = iota + 1
	// Date is a day count held as an int32.
	Date
	Int64
	Float32
	Float64
	Binary
	Varchar
)

func (t Type) String() string {
	switch t {
	case Int32:
		return "int32"
	case Date:
		return "date"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Binary:
		return "binary"
	case Varchar:
		return "varchar"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// FixedWidth is true for types stored inline in primitive arrays.
func (t Type) FixedWidth() bool {
	switch t {
	case Int32, Date, Int64, Float32, Float64:
		return true
	}
	return false
}

// Hashable is true for types with a pre-hash function.
func (t Type) Hashable() bool {
	switch t {
	case Int32, Date, Float64, Binary, Varchar:
		return true
	}
	return false
}

// Shape selects how a map stores values. It is chosen by the operator
// using the map, never inferred from types.
type Shape uint8

const (
	// Accumulate keeps one record per key, updated additively.
	Accumulate Shape = iota + 1
	// Append keeps every record associated with a key.
	Append
)

func (s Shape) String() string {
	switch s {
	case Accumulate:
		return "accumulate"
	case Append:
		return "append"
	}
	return fmt.Sprintf("Shape(%d)", uint8(s))
}

// Class is the storage class of a key or value ordinal.
type Class uint8

const (
	// Inline ordinals are stored directly in a primitive array.
	Inline Class = iota + 1
	// Owned ordinals are byte sequences copied on store and compared by
	// content.
	Owned
	// SumInt64 accumulates integer-like values into int64.
	SumInt64
	// SumFloat64 accumulates floating point values into float64.
	SumFloat64
)

// Signature is an ordered list of key types and value types.
type Signature struct {
	Keys   []Type
	Values []Type
}

// Ordinal is the layout of one key or value ordinal.
type Ordinal struct {
	Type  Type
	Class Class
}

// Layout is the storage layout selected for a Signature and Shape.
type Layout struct {
	Shape  Shape
	Keys   []Ordinal
	Values []Ordinal
}

// Specialize validates |sig| for |shape| and returns its storage layout.
func Specialize(sig Signature, shape Shape) (l Layout, err error) {
	if shape != Accumulate && shape != Append {
		return l, errors.Wrapf(ErrUnsupportedType, "shape %s", shape)
	}
	if len(sig.Keys) == 0 {
		return l, errors.Wrap(ErrUnsupportedType, "no key ordinals")
	}
	l.Shape = shape
	l.Keys = make([]Ordinal, len(sig.Keys))
	for i, t := range sig.Keys {
		if !t.Hashable() {
			return Layout{}, errors.Wrapf(ErrUnsupportedType, "key ordinal %d has type %s", i, t)
		}
		l.Keys[i] = Ordinal{Type: t, Class: Inline}
		if !t.FixedWidth() {
			l.Keys[i].Class = Owned
		}
	}
	l.Values = make([]Ordinal, len(sig.Values))
	for i, t := range sig.Values {
		if !t.FixedWidth() {
			return Layout{}, errors.Wrapf(ErrUnsupportedType, "value ordinal %d has type %s", i, t)
		}
		l.Values[i] = Ordinal{Type: t, Class: valueClass(t, shape)}
	}
	return l, nil
}

func valueClass(t Type, shape Shape) Class {
	if shape == Append {
		return Inline
	}
	if t == Float32 || t == Float64 {
		return SumFloat64
	}
	return SumInt64
}
