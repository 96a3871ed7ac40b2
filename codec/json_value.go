package codec

import (
	"encoding/base64"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"time"

	"graph-rpc/schema"
)

const typeKey = "@type"

// epoch anchors clock values so the configured time layout can format them.
var epoch = schema.Date{Year: 2000, Month: time.January, Day: 1}

func isNull(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
		return v.IsNil()
	}
	return false
}

type jsonEncoder struct {
	reg *schema.Registry
	cfg JSONConfig
	w   *jsonWriter
}

func (enc *jsonEncoder) key(k string) {
	enc.w.key(k, quoteKey(k, enc.cfg.QuoteKeys))
}

func (enc *jsonEncoder) entity(e *schema.EntityDescriptor, v reflect.Value, typed bool) error {
	enc.w.beginObject()
	if typed {
		enc.key(typeKey)
		enc.w.str(e.Name())
	}
	for _, f := range e.Fields() {
		if !f.Readable() {
			continue
		}
		fv := f.Get(v)
		if isNull(fv) || enc.unsetEnum(f.Type(), fv) {
			if enc.cfg.IgnoreNull {
				continue
			}
			enc.key(f.Key(enc.cfg.KeyFormat))
			enc.w.raw("null")
			continue
		}
		enc.key(f.Key(enc.cfg.KeyFormat))
		if err := enc.value(f.Type(), fv); err != nil {
			return fmt.Errorf("%s.%s: %w", e.Name(), f.Name(), err)
		}
	}
	enc.w.endObject()
	return nil
}

// unsetEnum reports an enum field holding its zero value when zero is not one of
// the declared constants. Such a field has no constant to write and reads as null.
func (enc *jsonEncoder) unsetEnum(d *schema.TypeDescriptor, v reflect.Value) bool {
	if d.Kind() != schema.KindEnum || !v.IsZero() {
		return false
	}
	a, err := enc.reg.Enum(d.Value.Index)
	if err != nil {
		return false
	}
	_, err = a.Ordinal(v)
	return err != nil
}

func (enc *jsonEncoder) value(d *schema.TypeDescriptor, v reflect.Value) error {
	if isNull(v) {
		enc.w.raw("null")
		return nil
	}
	switch d.Kind() {
	case schema.KindBoxed:
		return enc.value(d.Nested, v.Elem())

	case schema.KindArray, schema.KindList:
		enc.w.beginArray()
		for i := 0; i < v.Len(); i++ {
			if err := enc.value(d.Nested, v.Index(i)); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		enc.w.endArray()
		return nil

	case schema.KindSet:
		elems := make([]string, 0, v.Len())
		it := v.MapRange()
		for it.Next() {
			text, err := enc.render(d.Nested, it.Key())
			if err != nil {
				return err
			}
			elems = append(elems, text)
		}
		sort.Strings(elems)
		enc.w.beginArray()
		for _, text := range elems {
			enc.w.raw(text)
		}
		enc.w.endArray()
		return nil

	case schema.KindMap:
		type entry struct {
			key string
			val reflect.Value
		}
		entries := make([]entry, 0, v.Len())
		it := v.MapRange()
		for it.Next() {
			k, err := enc.keyText(d.KeyType(), it.Key())
			if err != nil {
				return err
			}
			entries = append(entries, entry{k, it.Value()})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
		enc.w.beginObject()
		for _, en := range entries {
			enc.key(en.key)
			if err := enc.value(d.Nested, en.val); err != nil {
				return fmt.Errorf("[%q]: %w", en.key, err)
			}
		}
		enc.w.endObject()
		return nil

	case schema.KindEnum:
		return enc.enum(d.Value.Index, v)

	case schema.KindEntity:
		if v.Kind() == reflect.Pointer {
			v = v.Elem()
		}
		e, err := enc.reg.Entity(d.Value.Index)
		if err != nil {
			return err
		}
		return enc.entity(e, addressable(v), false)

	case schema.KindAny:
		return enc.dynamic(v.Elem())
	}
	return enc.scalar(d.Kind(), v)
}

// render encodes v on its own, without indentation.
func (enc *jsonEncoder) render(d *schema.TypeDescriptor, v reflect.Value) (string, error) {
	sub := jsonEncoder{reg: enc.reg, cfg: enc.cfg, w: &jsonWriter{}}
	if err := sub.value(d, v); err != nil {
		return "", err
	}
	return string(sub.w.buf), nil
}

func (enc *jsonEncoder) enum(index int, v reflect.Value) error {
	a, err := enc.reg.Enum(index)
	if err != nil {
		return err
	}
	i, err := a.Ordinal(v)
	if err != nil {
		return err
	}
	value := strconv.Itoa(a.ValueAt(i))
	if !enc.cfg.EnumAsObject {
		enc.w.raw(value)
		return nil
	}
	enc.w.beginObject()
	enc.key("value")
	enc.w.raw(value)
	enc.key("name")
	enc.w.str(a.NameAt(i))
	if a.HasText() {
		enc.key("text")
		enc.w.str(a.TextAt(i))
	}
	enc.w.endObject()
	return nil
}

// dynamic writes an any value. Entities carry "@type" as their first key; other
// values are wrapped as {"@type": kind or enum name, "value": v}.
func (enc *jsonEncoder) dynamic(v reflect.Value) error {
	tag, v, err := dynamicTag(enc.reg, v)
	if err != nil {
		return err
	}
	if tag.Kind == schema.KindEntity {
		e, err := enc.reg.Entity(tag.Index)
		if err != nil {
			return err
		}
		return enc.entity(e, addressable(v), true)
	}
	enc.w.beginObject()
	enc.key(typeKey)
	if tag.Kind == schema.KindEnum {
		a, err := enc.reg.Enum(tag.Index)
		if err != nil {
			return err
		}
		enc.w.str(a.Name())
		enc.key("value")
		if err := enc.enum(tag.Index, v); err != nil {
			return err
		}
	} else {
		enc.w.str(tag.Kind.String())
		enc.key("value")
		if err := enc.scalar(tag.Kind, v); err != nil {
			return err
		}
	}
	enc.w.endObject()
	return nil
}

func (enc *jsonEncoder) scalar(k schema.Kind, v reflect.Value) error {
	text, quoted, err := enc.scalarText(k, v)
	if err != nil {
		return err
	}
	if quoted {
		enc.w.str(text)
	} else {
		enc.w.raw(text)
	}
	return nil
}

// scalarText formats a scalar. quoted reports whether the text must be written as
// a JSON string rather than a bare token.
func (enc *jsonEncoder) scalarText(k schema.Kind, v reflect.Value) (text string, quoted bool, err error) {
	switch k {
	case schema.KindBool:
		return strconv.FormatBool(v.Bool()), false, nil
	case schema.KindInt8, schema.KindInt16, schema.KindInt32, schema.KindInt64, schema.KindInt:
		return strconv.FormatInt(v.Int(), 10), false, nil
	case schema.KindUint8, schema.KindUint16, schema.KindUint32, schema.KindUint64, schema.KindUint:
		return strconv.FormatUint(v.Uint(), 10), false, nil
	case schema.KindFloat32, schema.KindFloat64:
		bits := 64
		if k == schema.KindFloat32 {
			bits = 32
		}
		f := v.Float()
		text := strconv.FormatFloat(f, 'g', -1, bits)
		return text, math.IsNaN(f) || math.IsInf(f, 0), nil
	case schema.KindString:
		return v.String(), true, nil
	case schema.KindBytes:
		return base64.StdEncoding.EncodeToString(v.Bytes()), true, nil
	case schema.KindBigInt:
		x, _ := v.Interface().(*big.Int)
		if x == nil {
			return "", false, ErrNilValue
		}
		return x.String(), false, nil
	case schema.KindDecimal:
		x, _ := v.Interface().(*big.Float)
		if x == nil {
			return "", false, ErrNilValue
		}
		return x.Text('g', -1), x.IsInf(), nil
	case schema.KindDateTime:
		t := v.Interface().(time.Time)
		if t.IsZero() {
			return "", true, nil
		}
		return t.In(enc.cfg.location()).Format(enc.cfg.DateTimeFormat), true, nil
	case schema.KindDate:
		d := v.Interface().(schema.Date)
		if d == (schema.Date{}) {
			return "", true, nil
		}
		return d.In(time.UTC).Format(enc.cfg.DateFormat), true, nil
	case schema.KindClock:
		c := v.Interface().(schema.Clock)
		return c.On(epoch, time.UTC).Format(enc.cfg.TimeFormat), true, nil
	case schema.KindDuration:
		return time.Duration(v.Int()).String(), true, nil
	}
	return "", false, &schema.SchemaError{Type: v.Type().String(), Reason: fmt.Sprintf("cannot encode kind %s as JSON", k)}
}

// keyText renders a map key: enums by name, entities as their JSON text, scalars as
// their text form.
func (enc *jsonEncoder) keyText(d *schema.TypeDescriptor, v reflect.Value) (string, error) {
	switch d.Kind() {
	case schema.KindEnum:
		a, err := enc.reg.Enum(d.Value.Index)
		if err != nil {
			return "", err
		}
		i, err := a.Ordinal(v)
		if err != nil {
			return "", err
		}
		return a.NameAt(i), nil
	case schema.KindEntity:
		if isNull(v) {
			return "", ErrNilValue
		}
		return enc.render(d, v)
	}
	text, _, err := enc.scalarText(d.Kind(), v)
	return text, err
}

type jsonDecoder struct {
	reg *schema.Registry
	cfg JSONConfig
	r   *jsonReader
}

func (dec *jsonDecoder) entity(e *schema.EntityDescriptor, target reflect.Value) error {
	if err := dec.r.expect('{'); err != nil {
		return err
	}
	return dec.fields(e, target, false)
}

// fields reads members up to the closing brace. The opening brace has been
// consumed; afterMember is set when a member (the type key) was already read.
// Fields absent from the input are reset to their defaults.
func (dec *jsonDecoder) fields(e *schema.EntityDescriptor, target reflect.Value, afterMember bool) error {
	seen := make([]bool, e.NumFields())
	var (
		done bool
		err  error
	)
	if afterMember {
		done, err = dec.r.next('}')
	} else {
		done, err = dec.r.empty('}')
	}
	for err == nil && !done {
		off := dec.r.pos
		var key string
		if key, err = dec.r.readKey(); err != nil {
			break
		}
		f := e.FieldByKey(key, dec.cfg.KeyFormat)
		switch {
		case key == typeKey:
			_, _, err = dec.r.readValue()
		case f != nil:
			seen[f.Ordinal()] = true
			err = dec.field(f, target)
		case dec.cfg.IgnoreUndefinedField:
			err = dec.r.readIgnore()
		default:
			err = &UndefinedFieldError{Entity: e.Name(), Key: key, Offset: off}
		}
		if err == nil {
			done, err = dec.r.next('}')
		}
	}
	if err != nil {
		return err
	}
	for i, f := range e.Fields() {
		if !seen[i] {
			f.Reset(target)
		}
	}
	return nil
}

func (dec *jsonDecoder) field(f *schema.FieldAccessor, target reflect.Value) error {
	if !f.Writable() {
		return dec.r.readIgnore()
	}
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

func (dec *jsonDecoder) value(d *schema.TypeDescriptor, v reflect.Value) error {
	if null, err := dec.r.readNull(); err != nil {
		return err
	} else if null {
		v.Set(reflect.Zero(v.Type()))
		return nil
	}
	switch d.Kind() {
	case schema.KindBoxed:
		p := reflect.New(d.Nested.Type)
		if err := dec.value(d.Nested, p.Elem()); err != nil {
			return err
		}
		v.Set(p)
		return nil

	case schema.KindArray:
		if err := dec.r.expect('['); err != nil {
			return err
		}
		i := 0
		done, err := dec.r.empty(']')
		for err == nil && !done {
			if i >= d.Len {
				return dec.r.errorf("more than %d array elements", d.Len)
			}
			if err = dec.value(d.Nested, v.Index(i)); err == nil {
				i++
				done, err = dec.r.next(']')
			}
		}
		if err != nil {
			return err
		}
		for ; i < d.Len; i++ {
			v.Index(i).Set(reflect.Zero(d.Nested.Type))
		}
		return nil

	case schema.KindList:
		if err := dec.r.expect('['); err != nil {
			return err
		}
		s := v
		if s.IsNil() {
			s = reflect.MakeSlice(v.Type(), 0, 0)
		} else {
			s = s.Slice(0, 0)
		}
		done, err := dec.r.empty(']')
		for err == nil && !done {
			elem := reflect.New(d.Nested.Type).Elem()
			if err = dec.value(d.Nested, elem); err == nil {
				s = reflect.Append(s, elem)
				done, err = dec.r.next(']')
			}
		}
		if err != nil {
			return err
		}
		v.Set(s)
		return nil

	case schema.KindSet:
		if err := dec.r.expect('['); err != nil {
			return err
		}
		m := dec.reuseMap(v)
		present := reflect.Zero(v.Type().Elem())
		done, err := dec.r.empty(']')
		for err == nil && !done {
			k := reflect.New(d.Nested.Type).Elem()
			if err = dec.value(d.Nested, k); err == nil {
				m.SetMapIndex(k, present)
				done, err = dec.r.next(']')
			}
		}
		if err != nil {
			return err
		}
		v.Set(m)
		return nil

	case schema.KindMap:
		if err := dec.r.expect('{'); err != nil {
			return err
		}
		m := dec.reuseMap(v)
		done, err := dec.r.empty('}')
		for err == nil && !done {
			off := dec.r.pos
			var text string
			if text, err = dec.r.readKey(); err != nil {
				break
			}
			k := reflect.New(d.KeyType().Type).Elem()
			if err = dec.parseKey(d.KeyType(), text, k, off); err != nil {
				break
			}
			val := reflect.New(d.Nested.Type).Elem()
			if err = dec.value(d.Nested, val); err == nil {
				m.SetMapIndex(k, val)
				done, err = dec.r.next('}')
			}
		}
		if err != nil {
			return err
		}
		v.Set(m)
		return nil

	case schema.KindEnum:
		a, err := dec.reg.Enum(d.Value.Index)
		if err != nil {
			return err
		}
		c, err := dec.enum(a)
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
		if v.Kind() == reflect.Pointer {
			p := reflect.New(e.Type())
			if err := dec.entity(e, p.Elem()); err != nil {
				return err
			}
			v.Set(p)
			return nil
		}
		return dec.entity(e, v)

	case schema.KindAny:
		return dec.dynamic(v)
	}

	off := dec.r.pos
	text, quoted, err := dec.r.readValue()
	if err != nil {
		return err
	}
	return dec.scalar(d.Kind(), text, quoted, v, off)
}

// reuseMap clears and returns the map held by v, or makes a new one.
func (dec *jsonDecoder) reuseMap(v reflect.Value) reflect.Value {
	if v.IsNil() {
		return reflect.MakeMap(v.Type())
	}
	v.Clear()
	return v
}

// enum accepts the object form, a bare number or a name.
func (dec *jsonDecoder) enum(a *schema.EnumAdapter) (reflect.Value, error) {
	off := dec.r.pos
	c, err := dec.r.readSkip()
	if err != nil {
		return reflect.Value{}, err
	}
	if c != '{' {
		text, quoted, err := dec.r.readValue()
		if err != nil {
			return reflect.Value{}, err
		}
		if !quoted {
			if n, err := strconv.Atoi(text); err == nil {
				if cv, ok := a.Constant(n); ok {
					return cv, nil
				}
				return reflect.Value{}, protocolErrorf(off, "%d is not a value of enum %s", n, a.Name())
			}
		}
		if cv, ok := a.ByName(text); ok {
			return cv, nil
		}
		return reflect.Value{}, protocolErrorf(off, "%q is not a constant of enum %s", text, a.Name())
	}

	dec.r.pos++
	var (
		value, name string
		hasValue    bool
	)
	done, err := dec.r.empty('}')
	for err == nil && !done {
		var key string
		if key, err = dec.r.readKey(); err != nil {
			break
		}
		switch key {
		case "value":
			value, _, err = dec.r.readValue()
			hasValue = true
		case "name":
			name, _, err = dec.r.readValue()
		default:
			err = dec.r.readIgnore()
		}
		if err == nil {
			done, err = dec.r.next('}')
		}
	}
	if err != nil {
		return reflect.Value{}, err
	}
	if hasValue {
		n, err := strconv.Atoi(value)
		if err != nil {
			return reflect.Value{}, &ProtocolError{Offset: off, Reason: "enum value", Err: err}
		}
		if cv, ok := a.Constant(n); ok {
			return cv, nil
		}
		return reflect.Value{}, protocolErrorf(off, "%d is not a value of enum %s", n, a.Name())
	}
	if cv, ok := a.ByName(name); ok {
		return cv, nil
	}
	return reflect.Value{}, protocolErrorf(off, "enum %s object has no usable value or name", a.Name())
}

// dynamic reads an any value; the first key must be "@type".
func (dec *jsonDecoder) dynamic(v reflect.Value) error {
	off := dec.r.pos
	if err := dec.r.expect('{'); err != nil {
		return err
	}
	key, err := dec.r.readKey()
	if err != nil {
		return err
	}
	if key != typeKey {
		return protocolErrorf(off, "untyped value: expected %q as the first key, found %q", typeKey, key)
	}
	name, _, err := dec.r.readValue()
	if err != nil {
		return err
	}

	if e, ok := dec.reg.EntityByName(name); ok {
		holder, target := e.New()
		if err := dec.fields(e, target, true); err != nil {
			return err
		}
		return setDynamic(v, holder, off)
	}

	if done, err := dec.r.next('}'); err != nil {
		return err
	} else if done {
		return protocolErrorf(off, "%s value has no %q key", name, "value")
	}
	if key, err = dec.r.readKey(); err != nil {
		return err
	}
	if key != "value" {
		return protocolErrorf(off, "expected %q after %q, found %q", "value", typeKey, key)
	}

	var val reflect.Value
	if a, ok := dec.reg.EnumByName(name); ok {
		if val, err = dec.enum(a); err != nil {
			return err
		}
	} else if k, ok := schema.KindByName(name); ok && anyTypes[k] != nil {
		val = reflect.New(anyTypes[k]).Elem()
		if err := dec.value(&schema.TypeDescriptor{Value: schema.Tag{Kind: k}, Type: anyTypes[k]}, val); err != nil {
			return err
		}
	} else {
		return protocolErrorf(off, "unknown type %q", name)
	}
	if err := dec.r.expect('}'); err != nil {
		return err
	}
	return setDynamic(v, val, off)
}

func (dec *jsonDecoder) parseKey(d *schema.TypeDescriptor, text string, k reflect.Value, off int) error {
	switch d.Kind() {
	case schema.KindEnum:
		a, err := dec.reg.Enum(d.Value.Index)
		if err != nil {
			return err
		}
		if c, ok := a.ByName(text); ok {
			k.Set(c)
			return nil
		}
		if n, err := strconv.Atoi(text); err == nil {
			if c, ok := a.Constant(n); ok {
				k.Set(c)
				return nil
			}
		}
		return protocolErrorf(off, "%q is not a constant of enum %s", text, a.Name())
	case schema.KindEntity:
		sub := jsonDecoder{reg: dec.reg, cfg: dec.cfg, r: newJSONReader([]byte(text))}
		if err := sub.value(d, k); err != nil {
			return &ProtocolError{Offset: off, Reason: "entity map key", Err: err}
		}
		return sub.r.end()
	}
	return dec.scalar(d.Kind(), text, true, k, off)
}

func (dec *jsonDecoder) scalar(k schema.Kind, text string, quoted bool, v reflect.Value, off int) error {
	fail := func(err error) error {
		return &ProtocolError{Offset: off, Reason: fmt.Sprintf("invalid %s %q", k, text), Err: err}
	}
	switch k {
	case schema.KindBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return fail(err)
		}
		v.SetBool(b)
	case schema.KindInt8, schema.KindInt16, schema.KindInt32, schema.KindInt64, schema.KindInt:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return fail(err)
		}
		if v.OverflowInt(n) {
			return protocolErrorf(off, "%d overflows %s", n, v.Type())
		}
		v.SetInt(n)
	case schema.KindUint8, schema.KindUint16, schema.KindUint32, schema.KindUint64, schema.KindUint:
		n, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return fail(err)
		}
		if v.OverflowUint(n) {
			return protocolErrorf(off, "%d overflows %s", n, v.Type())
		}
		v.SetUint(n)
	case schema.KindFloat32, schema.KindFloat64:
		bits := 64
		if k == schema.KindFloat32 {
			bits = 32
		}
		f, err := strconv.ParseFloat(text, bits)
		if err != nil {
			return fail(err)
		}
		v.SetFloat(f)
	case schema.KindString:
		v.SetString(text)
	case schema.KindBytes:
		b, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return fail(err)
		}
		v.SetBytes(b)
	case schema.KindBigInt:
		x, ok := new(big.Int).SetString(text, 10)
		if !ok {
			return fail(nil)
		}
		v.Set(reflect.ValueOf(x))
	case schema.KindDecimal:
		x, ok := new(big.Float).SetString(text)
		if !ok {
			return fail(nil)
		}
		v.Set(reflect.ValueOf(x))
	case schema.KindDateTime:
		if text == "" {
			v.Set(reflect.ValueOf(time.Time{}))
			return nil
		}
		t, err := time.ParseInLocation(dec.cfg.DateTimeFormat, text, dec.cfg.location())
		if err != nil {
			var rfcErr error
			if t, rfcErr = time.Parse(time.RFC3339Nano, text); rfcErr != nil {
				return fail(err)
			}
		}
		v.Set(reflect.ValueOf(t))
	case schema.KindDate:
		if text == "" {
			v.Set(reflect.ValueOf(schema.Date{}))
			return nil
		}
		t, err := time.ParseInLocation(dec.cfg.DateFormat, text, time.UTC)
		if err != nil {
			return fail(err)
		}
		v.Set(reflect.ValueOf(schema.DateOf(t)))
	case schema.KindClock:
		t, err := time.ParseInLocation(dec.cfg.TimeFormat, text, time.UTC)
		if err != nil {
			return fail(err)
		}
		v.Set(reflect.ValueOf(schema.ClockOf(t)))
	case schema.KindDuration:
		if !quoted {
			if n, err := strconv.ParseInt(text, 10, 64); err == nil {
				v.SetInt(n)
				return nil
			}
		}
		d, err := time.ParseDuration(text)
		if err != nil {
			return fail(err)
		}
		v.SetInt(int64(d))
	default:
		return protocolErrorf(off, "cannot decode kind %s", k)
	}
	return nil
}
