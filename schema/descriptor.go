package schema

import (
	"reflect"
	"strconv"
)

// TypeDescriptor describes the full declared shape of a field.
//
//   - scalar, enum, entity, any: Value is the tag, Nested is nil
//   - boxed (*T): Value is KindBoxed, Nested describes T
//   - []T, [N]T, map[T]struct{}: Value is the collection kind, Nested describes T
//   - map[K]V: Key classifies K, Value is KindMap, Nested describes V
//
// Descriptors are immutable once the registry that built them is returned.
type TypeDescriptor struct {
	Key    Tag
	Value  Tag
	Nested *TypeDescriptor
	Type   reflect.Type
	Len    int // array length, zero otherwise

	key  *TypeDescriptor
	text string
}

// String renders the descriptor with entity and enum references by name, so the
// text is stable across registries built from the same types.
func (d *TypeDescriptor) String() string {
	return d.text
}

// KeyType describes the key type of a map, or nil for any other kind.
func (d *TypeDescriptor) KeyType() *TypeDescriptor {
	return d.key
}

// Kind is shorthand for d.Value.Kind.
func (d *TypeDescriptor) Kind() Kind {
	return d.Value.Kind
}

// describe builds the descriptor tree for t. It must run after every entity and enum
// index has been assigned.
func (r *Registry) describe(t reflect.Type) (*TypeDescriptor, error) {
	tag, err := r.TagOf(t)
	if err != nil {
		return nil, err
	}
	d := &TypeDescriptor{Value: tag, Type: t}
	switch tag.Kind {
	case KindBoxed:
		if d.Nested, err = r.describe(t.Elem()); err != nil {
			return nil, err
		}
		d.text = "*" + d.Nested.text
	case KindArray:
		if d.Nested, err = r.describe(t.Elem()); err != nil {
			return nil, err
		}
		d.Len = t.Len()
		d.text = "array[" + strconv.Itoa(d.Len) + "]<" + d.Nested.text + ">"
	case KindList:
		if d.Nested, err = r.describe(t.Elem()); err != nil {
			return nil, err
		}
		d.text = "list<" + d.Nested.text + ">"
	case KindSet:
		if d.Nested, err = r.describe(t.Key()); err != nil {
			return nil, err
		}
		if !d.Nested.Value.Kind.IsKeyable() {
			return nil, schemaErrorf(t.String(), "", "%s cannot be a set element", d.Nested.Value.Kind)
		}
		d.text = "set<" + d.Nested.text + ">"
	case KindMap:
		key, err := r.describe(t.Key())
		if err != nil {
			return nil, err
		}
		if !key.Value.Kind.IsKeyable() {
			return nil, schemaErrorf(t.String(), "", "%s cannot be a map key", key.Value.Kind)
		}
		d.Key, d.key = key.Value, key
		if d.Nested, err = r.describe(t.Elem()); err != nil {
			return nil, err
		}
		d.text = "map<" + key.text + "," + d.Nested.text + ">"
	case KindEnum:
		d.text = "enum:" + r.enums[tag.Index].name
	case KindEntity:
		d.text = "entity:" + r.entities[tag.Index].name
	default:
		d.text = tag.Kind.String()
	}
	return d, nil
}

// TagOf classifies t. Every supported type maps to exactly one tag; unsupported
// types and unregistered structs or enums are schema errors.
func (r *Registry) TagOf(t reflect.Type) (Tag, error) {
	if t == nil {
		return Tag{}, schemaErrorf("", "", "nil type")
	}
	if a, ok := r.enumByType[t]; ok {
		return Tag{Kind: KindEnum, Index: a.index}, nil
	}
	if k := builtinKind(t); k != KindUnknown {
		return Tag{Kind: k}, nil
	}
	if e, ok := r.entityByType[t]; ok {
		return Tag{Kind: KindEntity, Index: e.index}, nil
	}
	if k := primitiveKind(t.Kind()); k != KindUnknown {
		return Tag{Kind: k}, nil
	}
	switch t.Kind() {
	case reflect.String:
		return Tag{Kind: KindString}, nil
	case reflect.Interface:
		return Tag{Kind: KindAny}, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			if _, isEnum := r.enumByType[t.Elem()]; !isEnum {
				return Tag{Kind: KindBytes}, nil
			}
		}
		return Tag{Kind: KindList}, nil
	case reflect.Array:
		return Tag{Kind: KindArray}, nil
	case reflect.Map:
		if isSetType(t) {
			return Tag{Kind: KindSet}, nil
		}
		return Tag{Kind: KindMap}, nil
	case reflect.Pointer:
		elem := t.Elem()
		if e, ok := r.entityByType[elem]; ok {
			return Tag{Kind: KindEntity, Index: e.index}, nil
		}
		if isBoxable(r, elem) {
			return Tag{Kind: KindBoxed}, nil
		}
		if elem.Kind() == reflect.Struct {
			return Tag{}, schemaErrorf(elem.String(), "", "struct type is not a registered entity")
		}
		return Tag{}, schemaErrorf(t.String(), "", "pointer to %s is not supported", elem.Kind())
	case reflect.Struct:
		return Tag{}, schemaErrorf(t.String(), "", "struct type is not a registered entity")
	}
	return Tag{}, schemaErrorf(t.String(), "", "unsupported type kind %s", t.Kind())
}

// isBoxable reports whether *t is a nullable wrapper of a single value.
func isBoxable(r *Registry, t reflect.Type) bool {
	if _, ok := r.enumByType[t]; ok {
		return true
	}
	switch builtinKind(t) {
	case KindDateTime, KindDate, KindClock, KindDuration:
		return true
	}
	return primitiveKind(t.Kind()) != KindUnknown || t.Kind() == reflect.String
}
