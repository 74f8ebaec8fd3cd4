package resolve

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Symbol names a single configuration constant, unique within a namespace.
type Symbol string

// ValueKind describes the primitive type stored inside a constant value.
type ValueKind string

const (
	// ValueKindInteger represents signed integer values.
	ValueKindInteger ValueKind = "integer"
	// ValueKindDecimal represents arbitrary precision decimal numbers.
	ValueKindDecimal ValueKind = "decimal"
	// ValueKindEnum represents small symbolic enumeration values.
	ValueKindEnum ValueKind = "enum"
)

// Value is a single constant value. The zero value is an integer zero.
type Value struct {
	kind ValueKind
	num  int64
	dec  decimal.Decimal
	enum string
}

// IntegerValue builds an integer constant.
func IntegerValue(v int64) Value {
	return Value{kind: ValueKindInteger, num: v}
}

// DecimalValue builds a decimal constant.
func DecimalValue(d decimal.Decimal) Value {
	return Value{kind: ValueKindDecimal, dec: d}
}

// EnumValue builds a symbolic enumeration constant.
func EnumValue(name string) Value {
	return Value{kind: ValueKindEnum, enum: name}
}

// Kind reports the primitive type of the value.
func (v Value) Kind() ValueKind {
	if v.kind == "" {
		return ValueKindInteger
	}
	return v.kind
}

// Int returns the integer payload. Valid for integer values only.
func (v Value) Int() int64 { return v.num }

// Decimal returns the decimal payload. Valid for decimal values only.
func (v Value) Decimal() decimal.Decimal { return v.dec }

// Enum returns the enumeration payload. Valid for enum values only.
func (v Value) Enum() string { return v.enum }

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(other Value) bool {
	if v.Kind() != other.Kind() {
		return false
	}
	switch v.Kind() {
	case ValueKindDecimal:
		return v.dec.Equal(other.dec)
	case ValueKindEnum:
		return v.enum == other.enum
	default:
		return v.num == other.num
	}
}

// String renders the value for reports and log output.
func (v Value) String() string {
	switch v.Kind() {
	case ValueKindDecimal:
		return v.dec.String()
	case ValueKindEnum:
		return v.enum
	default:
		return fmt.Sprintf("%d", v.num)
	}
}

// ExprValue returns the representation handed to expression evaluation:
// int64 for integers, float64 for decimals, string for enums.
func (v Value) ExprValue() interface{} {
	switch v.Kind() {
	case ValueKindDecimal:
		return v.dec.InexactFloat64()
	case ValueKindEnum:
		return v.enum
	default:
		return v.num
	}
}

// LayerKind distinguishes override layers from the vendor default table.
type LayerKind string

const (
	// LayerKindOverride marks a layer whose values take precedence over defaults.
	LayerKindOverride LayerKind = "override"
	// LayerKindDefault marks the fallback table applied only for unbound symbols.
	LayerKindDefault LayerKind = "default"
)

// Origin records which layer supplied a resolved value.
type Origin struct {
	Kind  LayerKind
	Layer string
	// Rank is the layer position in composition order. The default table
	// sits logically after every override layer.
	Rank int
}

func (o Origin) String() string {
	if o.Kind == LayerKindDefault {
		return fmt.Sprintf("default:%s", o.Layer)
	}
	return fmt.Sprintf("override:%s@%d", o.Layer, o.Rank)
}
