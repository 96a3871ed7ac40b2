package codec

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"time"

	"graph-rpc/schema"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	}
	return fmt.Sprintf("codec(%d)", byte(t))
}

// ParseCodecType accepts "json" and "binary".
func ParseCodecType(s string) (CodecType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return CodecTypeJSON, nil
	case "binary", "":
		return CodecTypeBinary, nil
	}
	return 0, fmt.Errorf("unknown codec %q", s)
}

func (t CodecType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *CodecType) UnmarshalText(text []byte) error {
	v, err := ParseCodecType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Codec encodes registered entities. Encode accepts an entity value or a pointer
// to one. Decode takes a pointer to an entity, or a *any to instantiate whatever
// entity the data names. Values in interface fields come back in canonical form
// (entities as pointers, boxed scalars unboxed); see schema.KindAny.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary
}

type options struct {
	json JSONConfig
}

type Option func(*options)

// WithJSONConfig sets the JSON codec configuration. The binary codec ignores it.
func WithJSONConfig(cfg JSONConfig) Option {
	return func(o *options) {
		o.json = cfg
	}
}

// GetCodec returns a codec of the given type bound to reg.
func GetCodec(codecType CodecType, reg *schema.Registry, opts ...Option) Codec {
	o := options{json: DefaultJSONConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if codecType == CodecTypeJSON {
		return NewJSONCodec(reg, o.json)
	}

	return NewBinaryCodec(reg)
}

// anyTypes is the Go type instantiated when a scalar is decoded into an
// interface-typed target.
var anyTypes = map[schema.Kind]reflect.Type{
	schema.KindBool:     reflect.TypeOf(false),
	schema.KindInt8:     reflect.TypeOf(int8(0)),
	schema.KindInt16:    reflect.TypeOf(int16(0)),
	schema.KindInt32:    reflect.TypeOf(int32(0)),
	schema.KindInt64:    reflect.TypeOf(int64(0)),
	schema.KindInt:      reflect.TypeOf(0),
	schema.KindUint8:    reflect.TypeOf(uint8(0)),
	schema.KindUint16:   reflect.TypeOf(uint16(0)),
	schema.KindUint32:   reflect.TypeOf(uint32(0)),
	schema.KindUint64:   reflect.TypeOf(uint64(0)),
	schema.KindUint:     reflect.TypeOf(uint(0)),
	schema.KindFloat32:  reflect.TypeOf(float32(0)),
	schema.KindFloat64:  reflect.TypeOf(float64(0)),
	schema.KindString:   reflect.TypeOf(""),
	schema.KindBytes:    reflect.TypeOf([]byte(nil)),
	schema.KindBigInt:   reflect.TypeOf((*big.Int)(nil)),
	schema.KindDecimal:  reflect.TypeOf((*big.Float)(nil)),
	schema.KindDateTime: reflect.TypeOf(time.Time{}),
	schema.KindDate:     reflect.TypeOf(schema.Date{}),
	schema.KindClock:    reflect.TypeOf(schema.Clock{}),
	schema.KindDuration: reflect.TypeOf(time.Duration(0)),
}

// dynamicTag classifies the concrete value held by an interface. Boxed values are
// unwrapped; only scalars, enums and entities may travel inside an any.
func dynamicTag(reg *schema.Registry, v reflect.Value) (schema.Tag, reflect.Value, error) {
	if e, target, ok := reg.Resolve(v); ok {
		return schema.Tag{Kind: schema.KindEntity, Index: e.Index()}, target, nil
	}
	tag, err := reg.TagOf(v.Type())
	if err != nil {
		return tag, v, err
	}
	if tag.Kind == schema.KindBoxed {
		if v.IsNil() {
			return tag, v, ErrNilValue
		}
		v = v.Elem()
		if tag, err = reg.TagOf(v.Type()); err != nil {
			return tag, v, err
		}
	}
	switch {
	case tag.Kind == schema.KindEntity:
		// Resolve already rejected it, so this is a nil entity pointer.
		return tag, v, ErrNilValue
	case tag.Kind == schema.KindEnum:
	case anyTypes[tag.Kind] != nil:
	default:
		return tag, v, &schema.SchemaError{Type: v.Type().String(), Reason: fmt.Sprintf("%s values cannot be carried by an any field", tag.Kind)}
	}
	if v.Kind() == reflect.Pointer && v.IsNil() {
		return tag, v, ErrNilValue
	}
	return tag, v, nil
}

// rootEntity resolves the entity behind a root Encode argument and returns it with
// an addressable target.
func rootEntity(reg *schema.Registry, v any) (*schema.EntityDescriptor, reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, rv, fmt.Errorf("codec: encode: %w", ErrNilValue)
	}
	e, target, ok := reg.Resolve(rv)
	if !ok {
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return nil, rv, fmt.Errorf("codec: encode: %w", ErrNilValue)
		}
		return nil, rv, &schema.SchemaError{Type: rv.Type().String(), Reason: "not a registered entity"}
	}
	return e, addressable(target), nil
}

// addressable returns v itself when it can be addressed, or an addressable copy.
// Accessor-method fields are called on the pointer receiver and need one.
func addressable(v reflect.Value) reflect.Value {
	if v.CanAddr() {
		return v
	}
	p := reflect.New(v.Type())
	p.Elem().Set(v)
	return p.Elem()
}

// decodeTarget inspects a root Decode argument. It returns the entity and target
// for a typed pointer, or untyped=true for *any and other interface pointers.
func decodeTarget(reg *schema.Registry, v any) (e *schema.EntityDescriptor, target reflect.Value, untyped bool, err error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, rv, false, fmt.Errorf("codec: decode target must be a non-nil pointer, got %T", v)
	}
	elem := rv.Elem()
	if elem.Kind() == reflect.Interface {
		return nil, elem, true, nil
	}
	if elem.Kind() == reflect.Pointer {
		if elem.IsNil() {
			elem.Set(reflect.New(elem.Type().Elem()))
		}
		elem = elem.Elem()
	}
	e, target, ok := reg.Resolve(elem.Addr())
	if !ok {
		return nil, rv, false, &schema.SchemaError{Type: elem.Type().String(), Reason: "not a registered entity"}
	}
	return e, target, false, nil
}

// setDynamic stores a decoded dynamic value into an interface target.
func setDynamic(dst, v reflect.Value, offset int) error {
	if !v.Type().AssignableTo(dst.Type()) {
		return protocolErrorf(offset, "%s is not assignable to %s", v.Type(), dst.Type())
	}
	dst.Set(v)
	return nil
}
