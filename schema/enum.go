package schema

import (
	"fmt"
	"reflect"
)

// Coder is implemented by enum types that carry a custom numeric code. The code,
// not the constant's position, is what goes on the wire.
type Coder interface {
	Code() int
}

// Texter is implemented by enum types that carry a display text.
type Texter interface {
	Text() string
}

var (
	coderType    = reflect.TypeOf((*Coder)(nil)).Elem()
	texterType   = reflect.TypeOf((*Texter)(nil)).Elem()
	stringerType = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
)

// EnumSpec declares an enum type and its constants in ordinal order. Go constants
// cannot be discovered by reflection, so every enum is declared explicitly:
//
//	schema.EnumOf(Red, Green, Blue)
type EnumSpec struct {
	typ       reflect.Type
	constants []reflect.Value
}

// EnumOf declares the constants of enum type T. The position of each constant is
// its ordinal.
func EnumOf[T comparable](constants ...T) EnumSpec {
	spec := EnumSpec{typ: reflect.TypeOf((*T)(nil)).Elem()}
	for _, c := range constants {
		spec.constants = append(spec.constants, reflect.ValueOf(c))
	}
	return spec
}

// Type returns the declared enum type.
func (s EnumSpec) Type() reflect.Type {
	return s.typ
}

// EnumAdapter maps between an enum's constants and their external form. It is built
// once per enum type and never modified afterwards.
type EnumAdapter struct {
	index     int
	name      string
	typ       reflect.Type
	constants []reflect.Value
	names     []string
	texts     []string // nil unless the type implements Texter
	codes     []int    // nil unless the type implements Coder
	ordinals  map[any]int
	byName    map[string]int
}

func newEnumAdapter(spec EnumSpec) (*EnumAdapter, error) {
	t := spec.typ
	if t == nil || t.Name() == "" || t.PkgPath() == "" {
		return nil, schemaErrorf(typeName(t), "", "enum type must be a named, package-level type")
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.String:
	default:
		return nil, schemaErrorf(t.String(), "", "enum type must have an integer or string underlying type, got %s", t.Kind())
	}
	if len(spec.constants) == 0 {
		return nil, schemaErrorf(t.String(), "", "enum declares no constants")
	}
	a := &EnumAdapter{
		name:      t.String(),
		typ:       t,
		constants: spec.constants,
		names:     make([]string, len(spec.constants)),
		ordinals:  make(map[any]int, len(spec.constants)),
		byName:    make(map[string]int, len(spec.constants)),
	}
	coded := t.Implements(coderType)
	if coded {
		a.codes = make([]int, len(spec.constants))
	}
	if t.Implements(texterType) {
		a.texts = make([]string, len(spec.constants))
	}
	codes := make(map[int]int)
	for i, c := range spec.constants {
		key := c.Interface()
		if prev, dup := a.ordinals[key]; dup {
			return nil, schemaErrorf(a.name, "", "constant %v declared at ordinals %d and %d", key, prev, i)
		}
		a.ordinals[key] = i

		if t.Implements(stringerType) {
			a.names[i] = key.(fmt.Stringer).String()
		} else {
			a.names[i] = fmt.Sprint(key)
		}
		if _, dup := a.byName[a.names[i]]; dup {
			return nil, schemaErrorf(a.name, "", "constant name %q is not unique", a.names[i])
		}
		a.byName[a.names[i]] = i

		if coded {
			code := key.(Coder).Code()
			if prev, dup := codes[code]; dup {
				return nil, schemaErrorf(a.name, "", "code %d shared by %s and %s", code, a.names[prev], a.names[i])
			}
			codes[code] = i
			a.codes[i] = code
		}
		if a.texts != nil {
			a.texts[i] = key.(Texter).Text()
		}
	}
	return a, nil
}

// Index is the enum's position in the registry that built it.
func (a *EnumAdapter) Index() int { return a.index }

// Name is the canonical type name, e.g. "demo.Color".
func (a *EnumAdapter) Name() string { return a.name }

func (a *EnumAdapter) Type() reflect.Type { return a.typ }

// Len returns the number of declared constants.
func (a *EnumAdapter) Len() int { return len(a.constants) }

// Coded reports whether external values are custom codes rather than ordinals.
func (a *EnumAdapter) Coded() bool { return a.codes != nil }

// HasText reports whether constants carry a display text.
func (a *EnumAdapter) HasText() bool { return a.texts != nil }

// Ordinal returns the declared position of constant v.
func (a *EnumAdapter) Ordinal(v reflect.Value) (int, error) {
	if v.Type() != a.typ {
		v = v.Convert(a.typ)
	}
	i, ok := a.ordinals[v.Interface()]
	if !ok {
		return 0, schemaErrorf(a.name, "", "%v is not a declared constant", v.Interface())
	}
	return i, nil
}

// Value returns the external value of constant v: its code, or its ordinal.
func (a *EnumAdapter) Value(v reflect.Value) (int, error) {
	i, err := a.Ordinal(v)
	if err != nil {
		return 0, err
	}
	if a.codes != nil {
		return a.codes[i], nil
	}
	return i, nil
}

// ValueAt returns the external value of the constant at ordinal i.
func (a *EnumAdapter) ValueAt(i int) int {
	if a.codes != nil {
		return a.codes[i]
	}
	return i
}

// Constant maps an external value back to its constant. Coded enums are scanned
// linearly; codes are caller-defined and need not be dense.
func (a *EnumAdapter) Constant(value int) (reflect.Value, bool) {
	if a.codes == nil {
		if value < 0 || value >= len(a.constants) {
			return reflect.Value{}, false
		}
		return a.constants[value], true
	}
	for i, code := range a.codes {
		if code == value {
			return a.constants[i], true
		}
	}
	return reflect.Value{}, false
}

// ConstantAt returns the constant at ordinal i.
func (a *EnumAdapter) ConstantAt(i int) reflect.Value {
	return a.constants[i]
}

// NameAt returns the name of the constant at ordinal i.
func (a *EnumAdapter) NameAt(i int) string {
	return a.names[i]
}

// TextAt returns the display text of the constant at ordinal i, or "" when the enum
// has no texts.
func (a *EnumAdapter) TextAt(i int) string {
	if a.texts == nil {
		return ""
	}
	return a.texts[i]
}

// ByName returns the constant with the given name.
func (a *EnumAdapter) ByName(name string) (reflect.Value, bool) {
	i, ok := a.byName[name]
	if !ok {
		return reflect.Value{}, false
	}
	return a.constants[i], true
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
