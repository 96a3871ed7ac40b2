package codec

import (
	"graph-rpc/schema"
	"graph-rpc/wire"
)

// BinaryCodec writes the compact tagged layout:
//
//	entity := uvarint(typeIndex) (uvarint(ordinal) value)* uvarint(fieldCount)
//
// Fields holding their default are omitted; the decoder restores defaults for every
// ordinal it skips.
type BinaryCodec struct {
	reg *schema.Registry
}

func NewBinaryCodec(reg *schema.Registry) *BinaryCodec {
	return &BinaryCodec{reg: reg}
}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	w := wire.NewWriter(64)
	if err := c.EncodeTo(w, v); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// EncodeTo appends the encoding of v to w.
func (c *BinaryCodec) EncodeTo(w *wire.Writer, v any) error {
	e, target, err := rootEntity(c.reg, v)
	if err != nil {
		return err
	}
	enc := binaryEncoder{reg: c.reg, w: w}
	return enc.entity(e, target)
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	r := wire.NewReader(data)
	if err := c.DecodeFrom(r, v); err != nil {
		return err
	}
	if r.Remaining() > 0 {
		return protocolErrorf(r.Offset(), "%d trailing bytes", r.Remaining())
	}
	return nil
}

// DecodeFrom reads one entity from r into v.
func (c *BinaryCodec) DecodeFrom(r *wire.Reader, v any) error {
	e, target, untyped, err := decodeTarget(c.reg, v)
	if err != nil {
		return err
	}
	dec := binaryDecoder{reg: c.reg, r: r}
	if untyped {
		holder, err := dec.anyEntity()
		if err != nil {
			return err
		}
		return setDynamic(target, holder, r.Offset())
	}
	if err := dec.entityIndex(e); err != nil {
		return err
	}
	return dec.entityFields(e, target)
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
