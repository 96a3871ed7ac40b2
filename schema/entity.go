package schema

import (
	"go/token"
	"reflect"
	"sort"
	"strings"

	"github.com/spaolacci/murmur3"
)

// FieldAccessor is one serializable property of an entity: an exported struct field
// or a Get/Set accessor method pair.
type FieldAccessor struct {
	name     string
	keys     [keyFormatCount]string
	ordinal  int
	pinned   int // explicit ordinal from the id tag option, -1 when unset
	typ      reflect.Type
	desc     *TypeDescriptor
	index    []int // struct field path; nil for accessor methods
	getter   int   // method index on the pointer type, -1 when absent
	setter   int
	readable bool
	writable bool
	depth    int
}

// Name is the declared name: the wire tag name or the Go identifier.
func (f *FieldAccessor) Name() string { return f.name }

// Key returns the name spelled in the given key format.
func (f *FieldAccessor) Key(format KeyFormat) string {
	if format >= keyFormatCount {
		return f.name
	}
	return f.keys[format]
}

// Ordinal is the field's stable position within its entity.
func (f *FieldAccessor) Ordinal() int { return f.ordinal }

// Type returns the resolved type descriptor.
func (f *FieldAccessor) Type() *TypeDescriptor { return f.desc }

// Readable reports whether the field is emitted on serialization.
func (f *FieldAccessor) Readable() bool { return f.readable }

// Writable reports whether the field is assigned on deserialization.
func (f *FieldAccessor) Writable() bool { return f.writable }

// Get returns the field value of entity, which must be an addressable struct of the
// owning entity type.
func (f *FieldAccessor) Get(entity reflect.Value) reflect.Value {
	if f.index != nil {
		return entity.FieldByIndex(f.index)
	}
	return entity.Addr().Method(f.getter).Call(nil)[0]
}

// Set assigns v to the field of entity. Read-only fields are left untouched.
func (f *FieldAccessor) Set(entity, v reflect.Value) {
	if !f.writable {
		return
	}
	if f.index != nil {
		entity.FieldByIndex(f.index).Set(v)
		return
	}
	entity.Addr().Method(f.setter).Call([]reflect.Value{v})
}

// Addr returns the addressable storage of a writable struct field, allowing a decoder
// to fill it in place. Accessor-method fields have no storage and report false.
func (f *FieldAccessor) Addr(entity reflect.Value) (reflect.Value, bool) {
	if f.index == nil || !f.writable {
		return reflect.Value{}, false
	}
	return entity.FieldByIndex(f.index), true
}

// IsDefault reports whether v equals the field's default, the zero value of its
// type. A nil collection is a default; an empty one is not.
func (f *FieldAccessor) IsDefault(v reflect.Value) bool {
	return v.IsZero()
}

// Reset restores the field's default.
func (f *FieldAccessor) Reset(entity reflect.Value) {
	f.Set(entity, reflect.Zero(f.typ))
}

// EntityDescriptor is the schema record for one registered struct type.
type EntityDescriptor struct {
	index  int
	name   string
	typ    reflect.Type
	fields []*FieldAccessor
	keys   [keyFormatCount]map[string]*FieldAccessor
	clash  [keyFormatCount]error // first key collision per format
	hash   uint32

	override     reflect.Type
	overridePath []int
}

func (e *EntityDescriptor) Index() int { return e.index }

// Name is the canonical type name, e.g. "demo.User".
func (e *EntityDescriptor) Name() string { return e.name }

// Type returns the registered struct type.
func (e *EntityDescriptor) Type() reflect.Type { return e.typ }

// Fields returns the fields in ordinal order. The slice must not be modified.
func (e *EntityDescriptor) Fields() []*FieldAccessor { return e.fields }

// NumFields is the field count, which doubles as the binary terminator ordinal.
func (e *EntityDescriptor) NumFields() int { return len(e.fields) }

// Field returns the field with the given ordinal.
func (e *EntityDescriptor) Field(ordinal int) *FieldAccessor { return e.fields[ordinal] }

// FieldByKey finds a field by its key in the given format. When two names spell the
// same key in that format, the lower ordinal wins; CheckKeys reports such formats.
func (e *EntityDescriptor) FieldByKey(key string, format KeyFormat) *FieldAccessor {
	if format >= keyFormatCount {
		format = KeyAsDeclared
	}
	return e.keys[format][key]
}

// CheckKeys returns a SchemaError when two fields spell the same key in format,
// e.g. UserName and Username under KeyLower.
func (e *EntityDescriptor) CheckKeys(format KeyFormat) error {
	if format >= keyFormatCount {
		format = KeyAsDeclared
	}
	return e.clash[format]
}

// Hash is a 32-bit murmur3 hash of the entity's field layout.
func (e *EntityDescriptor) Hash() uint32 { return e.hash }

// Override returns the type instantiated in place of this entity, or nil.
func (e *EntityDescriptor) Override() reflect.Type { return e.override }

// New allocates a fresh instance. holder is the pointer handed to callers (the
// override type when one is set); target is the addressable entity struct inside it
// that the fields are read into.
func (e *EntityDescriptor) New() (holder, target reflect.Value) {
	if e.override == nil {
		p := reflect.New(e.typ)
		return p, p.Elem()
	}
	p := reflect.New(e.override)
	return p, p.Elem().FieldByIndex(e.overridePath)
}

// serializable reports whether t may be registered as an entity: a named, exported,
// package-level struct that is not one of the built-in value types.
func serializable(t reflect.Type) bool {
	return t.Kind() == reflect.Struct &&
		t.Name() != "" &&
		t.PkgPath() != "" &&
		token.IsExported(t.Name()) &&
		builtinKind(t) == KindUnknown
}

// discoverFields reflects over t and returns its fields with ordinals assigned.
// Type descriptors are resolved separately, once every index exists.
func discoverFields(t reflect.Type) ([]*FieldAccessor, error) {
	var candidates []*FieldAccessor
	if err := collectStructFields(t, nil, 0, &candidates); err != nil {
		return nil, err
	}

	// Shallower fields shadow embedded ones; two at the same depth are ambiguous.
	byName := make(map[string]*FieldAccessor)
	for _, f := range candidates {
		prev, ok := byName[f.name]
		switch {
		case !ok || f.depth < prev.depth:
			byName[f.name] = f
		case f.depth == prev.depth:
			return nil, schemaErrorf(t.String(), f.name, "duplicate field name")
		}
	}
	if err := collectMethodFields(t, byName); err != nil {
		return nil, err
	}

	fields := make([]*FieldAccessor, 0, len(byName))
	for _, f := range byName {
		fields = append(fields, f)
	}
	if err := assignOrdinals(t, fields); err != nil {
		return nil, err
	}
	for _, f := range fields {
		for i := KeyFormat(0); i < keyFormatCount; i++ {
			f.keys[i] = i.Apply(f.name)
		}
	}
	return fields, nil
}

func collectStructFields(t reflect.Type, prefix []int, depth int, out *[]*FieldAccessor) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag, err := parseFieldTag(t.String(), sf)
		if err != nil {
			return err
		}
		if tag.Ignore {
			continue
		}
		index := append(append([]int(nil), prefix...), i)
		if sf.Anonymous && tag.Name == "" && sf.Type.Kind() == reflect.Struct && builtinKind(sf.Type) == KindUnknown {
			if err := collectStructFields(sf.Type, index, depth+1, out); err != nil {
				return err
			}
			continue
		}
		if !sf.IsExported() || sf.Anonymous && sf.Type.Kind() == reflect.Pointer {
			continue
		}
		name := tag.Name
		if name == "" {
			name = sf.Name
		}
		*out = append(*out, &FieldAccessor{
			name:     name,
			pinned:   tag.ID,
			typ:      sf.Type,
			index:    index,
			getter:   -1,
			setter:   -1,
			readable: true,
			writable: !tag.ReadOnly,
			depth:    depth,
		})
	}
	return nil
}

// collectMethodFields pairs GetX/IsX getters with SetX setters on *t. A method pair
// whose name matches a struct field is ignored; the struct field wins.
func collectMethodFields(t reflect.Type, byName map[string]*FieldAccessor) error {
	pt := reflect.PointerTo(t)
	methods := make(map[string]*FieldAccessor)
	get := func(name string) *FieldAccessor {
		f, ok := methods[name]
		if !ok {
			f = &FieldAccessor{name: name, pinned: -1, getter: -1, setter: -1}
			methods[name] = f
		}
		return f
	}
	for i := 0; i < pt.NumMethod(); i++ {
		m := pt.Method(i)
		mt := m.Type
		switch {
		case accessorName(m.Name, "Get") != "" && mt.NumIn() == 1 && mt.NumOut() == 1:
			f := get(accessorName(m.Name, "Get"))
			f.getter, f.readable, f.typ = i, true, mt.Out(0)
		case accessorName(m.Name, "Is") != "" && mt.NumIn() == 1 && mt.NumOut() == 1 && mt.Out(0).Kind() == reflect.Bool:
			f := get(accessorName(m.Name, "Is"))
			if f.getter < 0 {
				f.getter, f.readable, f.typ = i, true, mt.Out(0)
			}
		case accessorName(m.Name, "Set") != "" && mt.NumIn() == 2 && mt.NumOut() == 0:
			f := get(accessorName(m.Name, "Set"))
			f.setter, f.writable = i, true
		}
	}
	for name, f := range methods {
		if _, shadowed := byName[name]; shadowed {
			continue
		}
		if f.setter >= 0 {
			in := pt.Method(f.setter).Type.In(1)
			if f.getter >= 0 && in != f.typ {
				return schemaErrorf(t.String(), name, "getter returns %s but setter takes %s", f.typ, in)
			}
			f.typ = in
		}
		byName[name] = f
	}
	return nil
}

func accessorName(method, prefix string) string {
	name, ok := strings.CutPrefix(method, prefix)
	if !ok || name == "" || !token.IsExported(name) {
		return ""
	}
	return name
}

// assignOrdinals numbers fields by sorted name, or by their pinned ids when every
// field pins one. Pinned ids must be exactly 0..n-1.
func assignOrdinals(t reflect.Type, fields []*FieldAccessor) error {
	pinned := 0
	for _, f := range fields {
		if f.pinned >= 0 {
			pinned++
		}
	}
	switch pinned {
	case 0:
		sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })
	case len(fields):
		sort.Slice(fields, func(i, j int) bool { return fields[i].pinned < fields[j].pinned })
		for i, f := range fields {
			if f.pinned != i {
				return schemaErrorf(t.String(), f.name, "pinned ids must be 0..%d without gaps, found id=%d at position %d", len(fields)-1, f.pinned, i)
			}
		}
	default:
		return schemaErrorf(t.String(), "", "%d of %d fields pin an id; pin all fields or none", pinned, len(fields))
	}
	for i, f := range fields {
		f.ordinal = i
	}
	return nil
}

// layout renders the field list for hashing: "name:descriptor;" per field.
func (e *EntityDescriptor) layout() string {
	var b strings.Builder
	for _, f := range e.fields {
		b.WriteString(f.name)
		b.WriteByte(':')
		b.WriteString(f.desc.String())
		b.WriteByte(';')
	}
	return b.String()
}

// finish builds the key lookup tables and the layout hash.
func (e *EntityDescriptor) finish() {
	for i := KeyFormat(0); i < keyFormatCount; i++ {
		e.keys[i] = make(map[string]*FieldAccessor, len(e.fields))
		for _, f := range e.fields {
			prev, taken := e.keys[i][f.keys[i]]
			if !taken {
				e.keys[i][f.keys[i]] = f
			} else if e.clash[i] == nil {
				e.clash[i] = schemaErrorf(e.name, f.name, "key %q under %s is also the key of %s", f.keys[i], i, prev.name)
			}
		}
	}
	e.hash = murmur3.Sum32WithSeed([]byte(e.layout()), 47)
}
