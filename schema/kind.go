package schema

import (
	"math/big"
	"reflect"
	"strconv"
	"time"
)

// Kind classifies the shape of a value. The numeric values are written on the wire
// for Any-typed fields, so new kinds may only be appended.
type Kind uint8

const (
	KindUnknown Kind = iota

	// Primitive values: non-nullable, default is the zero value.
	KindBool
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindInt
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindUint
	KindFloat32
	KindFloat64

	// Base values: nullable wrappers and the built-in value types.
	KindBoxed
	KindString
	KindBytes
	KindBigInt
	KindDecimal
	KindDateTime
	KindDate
	KindClock
	KindDuration

	// Collections. The element shape lives in the nested descriptor.
	KindArray
	KindList
	KindSet
	KindMap

	KindEnum
	KindEntity
	// KindAny is an interface field holding a scalar, base, enum or entity value
	// tagged with its kind. Decoding yields the canonical form of the value: an
	// entity comes back as a pointer and a boxed scalar as the plain scalar, so
	// Point{} and &Point{} both read back as &Point{}, and a *int as an int.
	KindAny

	kindCount
)

var kindNames = [kindCount]string{
	KindUnknown:  "unknown",
	KindBool:     "bool",
	KindInt8:     "int8",
	KindInt16:    "int16",
	KindInt32:    "int32",
	KindInt64:    "int64",
	KindInt:      "int",
	KindUint8:    "uint8",
	KindUint16:   "uint16",
	KindUint32:   "uint32",
	KindUint64:   "uint64",
	KindUint:     "uint",
	KindFloat32:  "float32",
	KindFloat64:  "float64",
	KindBoxed:    "boxed",
	KindString:   "string",
	KindBytes:    "bytes",
	KindBigInt:   "bigint",
	KindDecimal:  "decimal",
	KindDateTime: "datetime",
	KindDate:     "date",
	KindClock:    "clock",
	KindDuration: "duration",
	KindArray:    "array",
	KindList:     "list",
	KindSet:      "set",
	KindMap:      "map",
	KindEnum:     "enum",
	KindEntity:   "entity",
	KindAny:      "any",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// KindByName is the inverse of Kind.String.
func KindByName(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), true
		}
	}
	return KindUnknown, false
}

// Valid reports whether k is a defined kind.
func (k Kind) Valid() bool {
	return k > KindUnknown && k < kindCount
}

func (k Kind) IsPrimitive() bool {
	return k >= KindBool && k <= KindFloat64
}

func (k Kind) IsBase() bool {
	return k >= KindBoxed && k <= KindDuration
}

func (k Kind) IsCollection() bool {
	return k >= KindArray && k <= KindMap
}

// IsKeyable reports whether values of kind k may be used as map or set keys.
func (k Kind) IsKeyable() bool {
	switch {
	case k.IsPrimitive():
		return true
	case k == KindString, k == KindDateTime, k == KindDate, k == KindClock, k == KindDuration:
		return true
	case k == KindEnum, k == KindEntity:
		return true
	}
	return false
}

// Tag is the full classification of a type: its kind plus, for enums and entities,
// the dense index assigned by the registry that produced it.
type Tag struct {
	Kind  Kind
	Index int
}

func (t Tag) String() string {
	switch t.Kind {
	case KindEnum, KindEntity:
		return t.Kind.String() + "#" + strconv.Itoa(t.Index)
	}
	return t.Kind.String()
}

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
	dateType     = reflect.TypeOf(Date{})
	clockType    = reflect.TypeOf(Clock{})
	bigIntType   = reflect.TypeOf((*big.Int)(nil))
	bigFloatType = reflect.TypeOf((*big.Float)(nil))
)

// builtinKind classifies the value types with a fixed identity. It returns
// KindUnknown for everything else.
func builtinKind(t reflect.Type) Kind {
	switch t {
	case timeType:
		return KindDateTime
	case durationType:
		return KindDuration
	case dateType:
		return KindDate
	case clockType:
		return KindClock
	case bigIntType:
		return KindBigInt
	case bigFloatType:
		return KindDecimal
	}
	return KindUnknown
}

// primitiveKind maps a reflect.Kind onto the primitive band.
func primitiveKind(k reflect.Kind) Kind {
	switch k {
	case reflect.Bool:
		return KindBool
	case reflect.Int8:
		return KindInt8
	case reflect.Int16:
		return KindInt16
	case reflect.Int32:
		return KindInt32
	case reflect.Int64:
		return KindInt64
	case reflect.Int:
		return KindInt
	case reflect.Uint8:
		return KindUint8
	case reflect.Uint16:
		return KindUint16
	case reflect.Uint32:
		return KindUint32
	case reflect.Uint64:
		return KindUint64
	case reflect.Uint:
		return KindUint
	case reflect.Float32:
		return KindFloat32
	case reflect.Float64:
		return KindFloat64
	}
	return KindUnknown
}

// isSetType reports whether t is map[K]struct{}.
func isSetType(t reflect.Type) bool {
	return t.Kind() == reflect.Map && t.Elem().Kind() == reflect.Struct && t.Elem().NumField() == 0
}
