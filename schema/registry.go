package schema

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strconv"

	"github.com/zeebo/blake3"
)

// FingerprintSize is the length of a registry fingerprint in bytes.
const FingerprintSize = 20

const fingerprintContext = "graph-rpc 2024 schema fingerprint"

// Options configures Build.
type Options struct {
	// Entities are registered explicitly. Items may be struct values, pointers to
	// structs, or reflect.Type values. A non-serializable item is an error.
	Entities []any
	Enums    []EnumSpec

	// Catalog is scanned under each namespace. Non-serializable candidates are
	// skipped silently.
	Catalog    Catalog
	Namespaces []string

	Logger *slog.Logger
}

// Registry is the immutable set of entities and enums known to a codec. Two
// processes that build registries from the same types get identical indices and the
// same fingerprint, whatever order the types were listed in.
//
// A Registry is safe for concurrent use once Build returns. Override is the one
// mutation; it must finish before the registry is shared.
type Registry struct {
	entities     []*EntityDescriptor
	enums        []*EnumAdapter
	entityByName map[string]*EntityDescriptor
	entityByType map[reflect.Type]*EntityDescriptor
	enumByName   map[string]*EnumAdapter
	enumByType   map[reflect.Type]*EnumAdapter
	overrides    map[reflect.Type]*EntityDescriptor
	fingerprint  [FingerprintSize]byte
	logger       *slog.Logger
}

// Build collects the candidate types, assigns dense indices in name order and
// resolves every field's type descriptor.
func Build(opts Options) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		entityByName: make(map[string]*EntityDescriptor),
		entityByType: make(map[reflect.Type]*EntityDescriptor),
		enumByName:   make(map[string]*EnumAdapter),
		enumByType:   make(map[reflect.Type]*EnumAdapter),
		overrides:    make(map[reflect.Type]*EntityDescriptor),
		logger:       logger,
	}

	// Phase 1: candidates, names and indices.
	for _, spec := range opts.Enums {
		if spec.typ != nil {
			if _, dup := r.enumByType[spec.typ]; dup {
				continue
			}
		}
		a, err := newEnumAdapter(spec)
		if err != nil {
			return nil, err
		}
		if _, taken := r.enumByName[a.name]; taken {
			return nil, schemaErrorf(a.name, "", "enum name collides with another enum")
		}
		r.enums = append(r.enums, a)
		r.enumByName[a.name] = a
		r.enumByType[a.typ] = a
	}

	var candidates []reflect.Type
	for _, item := range opts.Entities {
		t := typeOfItem(item)
		if t == nil || !serializable(t) {
			return nil, schemaErrorf(typeName(t), "", "not a serializable type: entities must be named, exported struct types")
		}
		candidates = append(candidates, t)
	}
	if opts.Catalog != nil {
		for _, ns := range opts.Namespaces {
			types, err := opts.Catalog.Scan(ns)
			if err != nil {
				return nil, fmt.Errorf("scan namespace %q: %w", ns, err)
			}
			for _, t := range types {
				if t != nil && serializable(t) {
					candidates = append(candidates, t)
				}
			}
		}
	}
	for _, t := range candidates {
		if _, dup := r.entityByType[t]; dup {
			continue
		}
		if _, isEnum := r.enumByType[t]; isEnum {
			return nil, schemaErrorf(t.String(), "", "type is registered as both enum and entity")
		}
		e := &EntityDescriptor{name: t.String(), typ: t}
		if _, taken := r.entityByName[e.name]; taken {
			return nil, schemaErrorf(e.name, "", "entity name collides with another entity (%s)", t.PkgPath())
		}
		if _, taken := r.enumByName[e.name]; taken {
			return nil, schemaErrorf(e.name, "", "entity name collides with an enum")
		}
		r.entities = append(r.entities, e)
		r.entityByName[e.name] = e
		r.entityByType[t] = e
	}

	sort.Slice(r.enums, func(i, j int) bool { return r.enums[i].name < r.enums[j].name })
	for i, a := range r.enums {
		a.index = i
	}
	sort.Slice(r.entities, func(i, j int) bool { return r.entities[i].name < r.entities[j].name })
	for i, e := range r.entities {
		e.index = i
	}

	// Phase 2: fields and descriptors. Descriptors may reference any index above.
	for _, e := range r.entities {
		fields, err := discoverFields(e.typ)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			if f.desc, err = r.describe(f.typ); err != nil {
				return nil, fieldError(e.name, f.name, err)
			}
		}
		e.fields = fields
		e.finish()
	}

	r.fingerprint = r.computeFingerprint()
	logger.Debug("schema registry built",
		"entities", len(r.entities),
		"enums", len(r.enums),
		"fingerprint", r.FingerprintHex())
	return r, nil
}

// MustBuild is like Build but panics on error. It is meant for package-level
// registries built from fixed type lists.
func MustBuild(opts Options) *Registry {
	r, err := Build(opts)
	if err != nil {
		panic(err)
	}
	return r
}

// fieldError attaches the owning entity and field to a descriptor error.
func fieldError(entity, field string, err error) error {
	if se, ok := err.(*SchemaError); ok {
		reason := se.Reason
		if se.Type != "" && se.Type != entity {
			reason = se.Type + ": " + reason
		}
		return &SchemaError{Type: entity, Field: field, Reason: reason}
	}
	return fmt.Errorf("%s.%s: %w", entity, field, err)
}

func (r *Registry) computeFingerprint() [FingerprintSize]byte {
	h := blake3.NewDeriveKey(fingerprintContext)
	write := func(parts ...string) {
		for _, p := range parts {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
	}
	for _, a := range r.enums {
		write("enum", a.name)
		for i := range a.constants {
			write(a.names[i], strconv.Itoa(a.ValueAt(i)))
		}
	}
	for _, e := range r.entities {
		write("entity", e.name)
		for _, f := range e.fields {
			write(f.name, f.desc.String())
		}
	}
	var fp [FingerprintSize]byte
	copy(fp[:], h.Sum(nil))
	return fp
}

// Entity returns the entity at index.
func (r *Registry) Entity(index int) (*EntityDescriptor, error) {
	if index < 0 || index >= len(r.entities) {
		return nil, schemaErrorf("", "", "no entity at index %d", index)
	}
	return r.entities[index], nil
}

// EntityByName looks an entity up by canonical name, e.g. "demo.User".
func (r *Registry) EntityByName(name string) (*EntityDescriptor, bool) {
	e, ok := r.entityByName[name]
	return e, ok
}

// EntityOf returns the entity registered for t or *t.
func (r *Registry) EntityOf(t reflect.Type) (*EntityDescriptor, bool) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	e, ok := r.entityByType[t]
	return e, ok
}

// Resolve finds the entity behind v, dereferencing pointers. A value of an
// override type resolves to its base entity, and target is the embedded base
// struct. Resolve reports false for nil pointers and unregistered types.
func (r *Registry) Resolve(v reflect.Value) (e *EntityDescriptor, target reflect.Value, ok bool) {
	for v.IsValid() && v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, reflect.Value{}, false
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil, reflect.Value{}, false
	}
	if e, ok = r.entityByType[v.Type()]; ok {
		return e, v, true
	}
	if e, ok = r.overrides[v.Type()]; ok {
		return e, v.FieldByIndex(e.overridePath), true
	}
	return nil, reflect.Value{}, false
}

func (r *Registry) Enum(index int) (*EnumAdapter, error) {
	if index < 0 || index >= len(r.enums) {
		return nil, schemaErrorf("", "", "no enum at index %d", index)
	}
	return r.enums[index], nil
}

func (r *Registry) EnumByName(name string) (*EnumAdapter, bool) {
	a, ok := r.enumByName[name]
	return a, ok
}

func (r *Registry) EnumOf(t reflect.Type) (*EnumAdapter, bool) {
	a, ok := r.enumByType[t]
	return a, ok
}

// CheckKeys returns the first entity whose fields collide as keys in format.
func (r *Registry) CheckKeys(format KeyFormat) error {
	for _, e := range r.entities {
		if err := e.CheckKeys(format); err != nil {
			return err
		}
	}
	return nil
}

// Entities returns every entity in index order. The slice must not be modified.
func (r *Registry) Entities() []*EntityDescriptor { return r.entities }

// Enums returns every enum in index order. The slice must not be modified.
func (r *Registry) Enums() []*EnumAdapter { return r.enums }

// Describe resolves the descriptor of an arbitrary type against this registry.
func (r *Registry) Describe(t reflect.Type) (*TypeDescriptor, error) {
	return r.describe(t)
}

func (r *Registry) Fingerprint() [FingerprintSize]byte { return r.fingerprint }

// FingerprintHex is the fingerprint as lowercase hex, the form published in service
// registries.
func (r *Registry) FingerprintHex() string {
	return hex.EncodeToString(r.fingerprint[:])
}

// Override makes decoding of base's index into an untyped target instantiate sub
// instead. sub must embed base by value, directly or through other embedded
// structs, and must not be registered itself.
//
// Override is not safe for concurrent use with codecs; call it before the registry
// is shared.
func (r *Registry) Override(base, sub any) error {
	bt, st := typeOfItem(base), typeOfItem(sub)
	e, ok := r.entityByType[bt]
	if !ok {
		return schemaErrorf(typeName(bt), "", "override base is not a registered entity")
	}
	if st == nil || !serializable(st) {
		return schemaErrorf(typeName(st), "", "override target is not a serializable type")
	}
	if _, registered := r.entityByType[st]; registered {
		return schemaErrorf(st.String(), "", "override target must not be a registered entity")
	}
	path, ok := embedPath(st, bt)
	if !ok {
		return schemaErrorf(st.String(), "", "does not embed %s", bt)
	}
	if e.override != nil {
		delete(r.overrides, e.override)
	}
	e.override, e.overridePath = st, path
	r.overrides[st] = e
	r.logger.Debug("schema override", "base", e.name, "sub", st.String())
	return nil
}

// embedPath finds the shallowest by-value embedding of base inside t.
func embedPath(t, base reflect.Type) ([]int, bool) {
	type node struct {
		t    reflect.Type
		path []int
	}
	queue := []node{{t: t}}
	seen := map[reflect.Type]bool{t: true}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for i := 0; i < n.t.NumField(); i++ {
			sf := n.t.Field(i)
			if !sf.Anonymous || sf.Type.Kind() != reflect.Struct {
				continue
			}
			path := append(append([]int(nil), n.path...), i)
			if sf.Type == base {
				return path, true
			}
			if !seen[sf.Type] {
				seen[sf.Type] = true
				queue = append(queue, node{t: sf.Type, path: path})
			}
		}
	}
	return nil, false
}
