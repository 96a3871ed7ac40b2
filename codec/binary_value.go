package codec

import (
	"bytes"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"time"

	"graph-rpc/schema"
	"graph-rpc/wire"
)

type binaryEncoder struct {
	reg *schema.Registry
	w   *wire.Writer
}

func (enc *binaryEncoder) entity(e *schema.EntityDescriptor, v reflect.Value) error {
	enc.w.WriteUvarint(uint64(e.Index()))
	for _, f := range e.Fields() {
		if !f.Readable() {
			continue
		}
		fv := f.Get(v)
		if f.IsDefault(fv) {
			continue
		}
		enc.w.WriteUvarint(uint64(f.Ordinal()))
		if err := enc.value(f.Type(), fv); err != nil {
			return fmt.Errorf("%s.%s: %w", e.Name(), f.Name(), err)
		}
	}
	enc.w.WriteUvarint(uint64(e.NumFields()))
	return nil
}

func (enc *binaryEncoder) value(d *schema.TypeDescriptor, v reflect.Value) error {
	switch d.Kind() {
	case schema.KindBoxed:
		if v.IsNil() {
			return ErrNilValue
		}
		return enc.value(d.Nested, v.Elem())

	case schema.KindArray, schema.KindList:
		n := v.Len()
		enc.w.WriteUvarint(uint64(n))
		for i := 0; i < n; i++ {
			if err := enc.value(d.Nested, v.Index(i)); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		return nil

	case schema.KindSet:
		return enc.sorted(v, func(sub *binaryEncoder, it *reflect.MapIter) error {
			return sub.value(d.Nested, it.Key())
		})

	case schema.KindMap:
		return enc.sorted(v, func(sub *binaryEncoder, it *reflect.MapIter) error {
			if err := sub.value(d.KeyType(), it.Key()); err != nil {
				return err
			}
			return sub.value(d.Nested, it.Value())
		})

	case schema.KindEnum:
		a, err := enc.reg.Enum(d.Value.Index)
		if err != nil {
			return err
		}
		ev, err := a.Value(v)
		if err != nil {
			return err
		}
		enc.w.WriteUvarint(uint64(int64(ev)))
		return nil

	case schema.KindEntity:
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return ErrNilValue
			}
			v = v.Elem()
		}
		e, err := enc.reg.Entity(d.Value.Index)
		if err != nil {
			return err
		}
		return enc.entity(e, addressable(v))

	case schema.KindAny:
		if v.IsNil() {
			return ErrNilValue
		}
		return enc.dynamic(v.Elem())
	}
	return enc.scalar(d.Kind(), v)
}

// sorted writes a map or set with its entries ordered by their encoded bytes, so
// equal maps always encode identically.
func (enc *binaryEncoder) sorted(v reflect.Value, write func(*binaryEncoder, *reflect.MapIter) error) error {
	entries := make([][]byte, 0, v.Len())
	it := v.MapRange()
	for it.Next() {
		sub := &binaryEncoder{reg: enc.reg, w: wire.NewWriter(16)}
		if err := write(sub, it); err != nil {
			return err
		}
		entries = append(entries, sub.w.Bytes())
	}
	sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i], entries[j]) < 0 })
	enc.w.WriteUvarint(uint64(len(entries)))
	for _, entry := range entries {
		enc.w.Write(entry)
	}
	return nil
}

// dynamic writes the value held by an any field: kind byte, then the enum index or
// the entity encoding, then the payload.
func (enc *binaryEncoder) dynamic(v reflect.Value) error {
	tag, v, err := dynamicTag(enc.reg, v)
	if err != nil {
		return err
	}
	enc.w.WriteByte(byte(tag.Kind))
	switch tag.Kind {
	case schema.KindEntity:
		e, err := enc.reg.Entity(tag.Index)
		if err != nil {
			return err
		}
		return enc.entity(e, addressable(v))
	case schema.KindEnum:
		enc.w.WriteUvarint(uint64(tag.Index))
		return enc.value(&schema.TypeDescriptor{Value: tag, Type: v.Type()}, v)
	}
	return enc.scalar(tag.Kind, v)
}

func (enc *binaryEncoder) scalar(k schema.Kind, v reflect.Value) error {
	w := enc.w
	switch k {
	case schema.KindBool:
		w.WriteBool(v.Bool())
	case schema.KindInt8:
		w.WriteByte(byte(v.Int()))
	case schema.KindUint8:
		w.WriteByte(byte(v.Uint()))
	case schema.KindInt16:
		w.WriteUvarint(uint64(uint16(v.Int())))
	case schema.KindInt32:
		w.WriteUvarint(uint64(uint32(v.Int())))
	case schema.KindInt64, schema.KindInt, schema.KindDuration:
		w.WriteUvarint(uint64(v.Int()))
	case schema.KindUint16, schema.KindUint32, schema.KindUint64, schema.KindUint:
		w.WriteUvarint(v.Uint())
	case schema.KindFloat32:
		w.WriteFloat32(float32(v.Float()))
	case schema.KindFloat64:
		w.WriteFloat64(v.Float())
	case schema.KindString:
		w.WriteText(v.String())
	case schema.KindBytes:
		w.WriteBlob(v.Bytes())
	case schema.KindBigInt:
		x, _ := v.Interface().(*big.Int)
		if x == nil {
			return ErrNilValue
		}
		w.WriteByte(byte(int8(x.Sign())))
		w.WriteBlob(x.Bytes())
	case schema.KindDecimal:
		x, _ := v.Interface().(*big.Float)
		if x == nil {
			return ErrNilValue
		}
		b, err := x.GobEncode()
		if err != nil {
			return err
		}
		w.WriteBlob(b)
	case schema.KindDateTime:
		b, err := v.Interface().(time.Time).MarshalBinary()
		if err != nil {
			return err
		}
		w.WriteBlob(b)
	case schema.KindDate:
		d := v.Interface().(schema.Date)
		y := int64(d.Year)
		w.WriteUvarint(uint64(y<<1) ^ uint64(y>>63))
		w.WriteByte(byte(d.Month))
		w.WriteByte(byte(d.Day))
	case schema.KindClock:
		c := v.Interface().(schema.Clock)
		w.WriteByte(byte(c.Hour))
		w.WriteByte(byte(c.Minute))
		w.WriteByte(byte(c.Second))
		w.WriteUvarint(uint64(c.Nanosecond))
	default:
		return &schema.SchemaError{Type: v.Type().String(), Reason: fmt.Sprintf("cannot encode kind %s", k)}
	}
	return nil
}

type binaryDecoder struct {
	reg *schema.Registry
	r   *wire.Reader
}

func (dec *binaryDecoder) fail(err error) error {
	return &ProtocolError{Offset: dec.r.Offset(), Reason: "read", Err: err}
}

func (dec *binaryDecoder) uvarint() (uint64, error) {
	u, err := dec.r.ReadUvarint()
	if err != nil {
		return 0, dec.fail(err)
	}
	return u, nil
}

func (dec *binaryDecoder) readByte() (byte, error) {
	b, err := dec.r.ReadByte()
	if err != nil {
		return 0, dec.fail(err)
	}
	return b, nil
}

// length reads a collection length. Every element occupies at least one byte, so a
// length beyond the remaining input is rejected before anything is allocated.
func (dec *binaryDecoder) length() (int, error) {
	off := dec.r.Offset()
	n, err := dec.uvarint()
	if err != nil {
		return 0, err
	}
	if n > uint64(dec.r.Remaining()) {
		return 0, protocolErrorf(off, "length %d exceeds remaining %d bytes", n, dec.r.Remaining())
	}
	return int(n), nil
}

// entityIndex reads a type index and checks it names e.
func (dec *binaryDecoder) entityIndex(e *schema.EntityDescriptor) error {
	off := dec.r.Offset()
	idx, err := dec.uvarint()
	if err != nil {
		return err
	}
	if idx != uint64(e.Index()) {
		return protocolErrorf(off, "type index %d where %s (%d) was expected", idx, e.Name(), e.Index())
	}
	return nil
}

// anyEntity reads a type index and instantiates that entity, honoring overrides.
func (dec *binaryDecoder) anyEntity() (reflect.Value, error) {
	off := dec.r.Offset()
	idx, err := dec.uvarint()
	if err != nil {
		return reflect.Value{}, err
	}
	e, err := dec.reg.Entity(int(min(idx, math.MaxInt32)))
	if err != nil {
		return reflect.Value{}, &ProtocolError{Offset: off, Reason: "unknown type index", Err: err}
	}
	holder, target := e.New()
	if err := dec.entityFields(e, target); err != nil {
		return reflect.Value{}, err
	}
	return holder, nil
}

// entityFields reads ordinal/value pairs up to the terminator. Ordinals skipped
// between two present fields, and after the last one, are reset to their defaults.
func (dec *binaryDecoder) entityFields(e *schema.EntityDescriptor, target reflect.Value) error {
	n := e.NumFields()
	prev := -1
	for {
		off := dec.r.Offset()
		u, err := dec.uvarint()
		if err != nil {
			return err
		}
		if u > uint64(n) {
			return protocolErrorf(off, "%s: field ordinal %d exceeds field count %d", e.Name(), u, n)
		}
		ord := int(u)
		if ord <= prev {
			return protocolErrorf(off, "%s: field ordinal %d follows %d", e.Name(), ord, prev)
		}
		for i := prev + 1; i < ord; i++ {
			e.Field(i).Reset(target)
		}
		if ord == n {
			return nil
		}
		if err := dec.field(e.Field(ord), target); err != nil {
			return err
		}
		prev = ord
	}
}

func (dec *binaryDecoder) field(f *schema.FieldAccessor, target reflect.Value) error {
	if addr, ok := f.Addr(target); ok {
		return dec.value(f.Type(), addr)
	}
	tmp := reflect.New(f.Type().Type).Elem()
	if err := dec.value(f.Type(), tmp); err != nil {
		return err
	}
	f.Set(target, tmp)
	return nil
}

func (dec *binaryDecoder) value(d *schema.TypeDescriptor, v reflect.Value) error {
	switch d.Kind() {
	case schema.KindBoxed:
		p := reflect.New(d.Nested.Type)
		if err := dec.value(d.Nested, p.Elem()); err != nil {
			return err
		}
		v.Set(p)
		return nil

	case schema.KindArray:
		off := dec.r.Offset()
		n, err := dec.length()
		if err != nil {
			return err
		}
		if n != d.Len {
			return protocolErrorf(off, "array of %d elements where %d were expected", n, d.Len)
		}
		for i := 0; i < n; i++ {
			if err := dec.value(d.Nested, v.Index(i)); err != nil {
				return err
			}
		}
		return nil

	case schema.KindList:
		n, err := dec.length()
		if err != nil {
			return err
		}
		s := reflect.MakeSlice(v.Type(), n, n)
		for i := 0; i < n; i++ {
			if err := dec.value(d.Nested, s.Index(i)); err != nil {
				return err
			}
		}
		v.Set(s)
		return nil

	case schema.KindSet:
		n, err := dec.length()
		if err != nil {
			return err
		}
		m := reflect.MakeMapWithSize(v.Type(), n)
		present := reflect.Zero(v.Type().Elem())
		for i := 0; i < n; i++ {
			k := reflect.New(d.Nested.Type).Elem()
			if err := dec.value(d.Nested, k); err != nil {
				return err
			}
			m.SetMapIndex(k, present)
		}
		v.Set(m)
		return nil

	case schema.KindMap:
		n, err := dec.length()
		if err != nil {
			return err
		}
		m := reflect.MakeMapWithSize(v.Type(), n)
		for i := 0; i < n; i++ {
			k := reflect.New(d.KeyType().Type).Elem()
			if err := dec.value(d.KeyType(), k); err != nil {
				return err
			}
			val := reflect.New(d.Nested.Type).Elem()
			if err := dec.value(d.Nested, val); err != nil {
				return err
			}
			m.SetMapIndex(k, val)
		}
		v.Set(m)
		return nil

	case schema.KindEnum:
		c, err := dec.enum(d.Value.Index)
		if err != nil {
			return err
		}
		v.Set(c)
		return nil

	case schema.KindEntity:
		e, err := dec.reg.Entity(d.Value.Index)
		if err != nil {
			return err
		}
		if err := dec.entityIndex(e); err != nil {
			return err
		}
		if v.Kind() == reflect.Pointer {
			p := reflect.New(e.Type())
			if err := dec.entityFields(e, p.Elem()); err != nil {
				return err
			}
			v.Set(p)
			return nil
		}
		return dec.entityFields(e, v)

	case schema.KindAny:
		return dec.dynamic(v)
	}
	return dec.scalar(d.Kind(), v)
}

func (dec *binaryDecoder) enum(index int) (reflect.Value, error) {
	a, err := dec.reg.Enum(index)
	if err != nil {
		return reflect.Value{}, err
	}
	off := dec.r.Offset()
	u, err := dec.uvarint()
	if err != nil {
		return reflect.Value{}, err
	}
	c, ok := a.Constant(int(int64(u)))
	if !ok {
		return reflect.Value{}, protocolErrorf(off, "%d is not a value of enum %s", int64(u), a.Name())
	}
	return c, nil
}

func (dec *binaryDecoder) dynamic(v reflect.Value) error {
	off := dec.r.Offset()
	b, err := dec.readByte()
	if err != nil {
		return err
	}
	k := schema.Kind(b)
	var val reflect.Value
	switch {
	case k == schema.KindEntity:
		if val, err = dec.anyEntity(); err != nil {
			return err
		}
	case k == schema.KindEnum:
		idx, err := dec.uvarint()
		if err != nil {
			return err
		}
		if idx >= uint64(len(dec.reg.Enums())) {
			return protocolErrorf(off, "unknown enum index %d", idx)
		}
		if val, err = dec.enum(int(idx)); err != nil {
			return err
		}
	case anyTypes[k] != nil:
		val = reflect.New(anyTypes[k]).Elem()
		if err := dec.scalar(k, val); err != nil {
			return err
		}
	default:
		return protocolErrorf(off, "kind %s cannot appear in an any value", k)
	}
	return setDynamic(v, val, off)
}

func (dec *binaryDecoder) scalar(k schema.Kind, v reflect.Value) error {
	off := dec.r.Offset()
	switch k {
	case schema.KindBool:
		b, err := dec.readByte()
		if err != nil {
			return err
		}
		v.SetBool(b != 0)
	case schema.KindInt8:
		b, err := dec.readByte()
		if err != nil {
			return err
		}
		v.SetInt(int64(int8(b)))
	case schema.KindUint8:
		b, err := dec.readByte()
		if err != nil {
			return err
		}
		v.SetUint(uint64(b))
	case schema.KindInt16, schema.KindInt32, schema.KindInt64, schema.KindInt, schema.KindDuration:
		u, err := dec.uvarint()
		if err != nil {
			return err
		}
		var x int64
		switch k {
		case schema.KindInt16:
			if u > math.MaxUint16 {
				return protocolErrorf(off, "%d overflows int16", u)
			}
			x = int64(int16(u))
		case schema.KindInt32:
			if u > math.MaxUint32 {
				return protocolErrorf(off, "%d overflows int32", u)
			}
			x = int64(int32(u))
		default:
			x = int64(u)
		}
		if v.OverflowInt(x) {
			return protocolErrorf(off, "%d overflows %s", x, v.Type())
		}
		v.SetInt(x)
	case schema.KindUint16, schema.KindUint32, schema.KindUint64, schema.KindUint:
		u, err := dec.uvarint()
		if err != nil {
			return err
		}
		if v.OverflowUint(u) {
			return protocolErrorf(off, "%d overflows %s", u, v.Type())
		}
		v.SetUint(u)
	case schema.KindFloat32:
		f, err := dec.r.ReadFloat32()
		if err != nil {
			return dec.fail(err)
		}
		v.SetFloat(float64(f))
	case schema.KindFloat64:
		f, err := dec.r.ReadFloat64()
		if err != nil {
			return dec.fail(err)
		}
		v.SetFloat(f)
	case schema.KindString:
		s, err := dec.r.ReadText()
		if err != nil {
			return dec.fail(err)
		}
		v.SetString(s)
	case schema.KindBytes:
		b, err := dec.r.ReadBlob()
		if err != nil {
			return dec.fail(err)
		}
		v.SetBytes(b)
	case schema.KindBigInt:
		sign, err := dec.readByte()
		if err != nil {
			return err
		}
		mag, err := dec.r.ReadBlob()
		if err != nil {
			return dec.fail(err)
		}
		x := new(big.Int).SetBytes(mag)
		if int8(sign) < 0 {
			x.Neg(x)
		}
		v.Set(reflect.ValueOf(x))
	case schema.KindDecimal:
		b, err := dec.r.ReadBlob()
		if err != nil {
			return dec.fail(err)
		}
		x := new(big.Float)
		if err := x.GobDecode(b); err != nil {
			return &ProtocolError{Offset: off, Reason: "decimal", Err: err}
		}
		v.Set(reflect.ValueOf(x))
	case schema.KindDateTime:
		b, err := dec.r.ReadBlob()
		if err != nil {
			return dec.fail(err)
		}
		var t time.Time
		if err := t.UnmarshalBinary(b); err != nil {
			return &ProtocolError{Offset: off, Reason: "datetime", Err: err}
		}
		v.Set(reflect.ValueOf(t))
	case schema.KindDate:
		u, err := dec.uvarint()
		if err != nil {
			return err
		}
		month, err := dec.readByte()
		if err != nil {
			return err
		}
		day, err := dec.readByte()
		if err != nil {
			return err
		}
		year := int64(u>>1) ^ -int64(u&1)
		v.Set(reflect.ValueOf(schema.Date{Year: int(year), Month: time.Month(month), Day: int(day)}))
	case schema.KindClock:
		var hms [3]byte
		for i := range hms {
			b, err := dec.readByte()
			if err != nil {
				return err
			}
			hms[i] = b
		}
		nanos, err := dec.uvarint()
		if err != nil {
			return err
		}
		if nanos >= uint64(time.Second) {
			return protocolErrorf(off, "clock nanoseconds %d out of range", nanos)
		}
		v.Set(reflect.ValueOf(schema.Clock{Hour: int(hms[0]), Minute: int(hms[1]), Second: int(hms[2]), Nanosecond: int(nanos)}))
	default:
		return protocolErrorf(off, "cannot decode kind %s", k)
	}
	return nil
}
