package codec

import (
	"io"
	"time"

	"graph-rpc/schema"
)

// JSONConfig controls the JSON text form. The zero value is not the default; start
// from DefaultJSONConfig.
type JSONConfig struct {
	IgnoreNull           bool // omit null fields instead of writing "key":null
	IgnoreUndefinedField bool // skip unknown keys instead of failing
	QuoteKeys            bool // write object keys as JSON strings
	EnumAsObject         bool // {"value":n,"name":"N","text":"t"} instead of a bare value
	TypeHint             bool // write "@type" as the first key of root entities

	KeyFormat schema.KeyFormat

	DateTimeFormat string // time.Format layouts
	DateFormat     string
	TimeFormat     string
	Location       *time.Location // nil means UTC

	Indent string // pretty print with this indent when non-empty
}

const (
	DefaultDateTimeFormat = "2006-01-02 15:04:05"
	DefaultDateFormat     = "2006-01-02"
	DefaultTimeFormat     = "15:04:05"
)

func DefaultJSONConfig() JSONConfig {
	return JSONConfig{
		IgnoreNull:           true,
		IgnoreUndefinedField: true,
		QuoteKeys:            true,
		EnumAsObject:         true,
		KeyFormat:            schema.KeyAsDeclared,
		DateTimeFormat:       DefaultDateTimeFormat,
		DateFormat:           DefaultDateFormat,
		TimeFormat:           DefaultTimeFormat,
		Location:             time.UTC,
	}
}

func (c JSONConfig) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// JSONCodec reads and writes entities as JSON text using the registry's field
// model. It shares nothing between calls and may be used concurrently.
type JSONCodec struct {
	reg    *schema.Registry
	cfg    JSONConfig
	keyErr error // set when cfg.KeyFormat makes two fields share a key
}

func NewJSONCodec(reg *schema.Registry, cfg JSONConfig) *JSONCodec {
	if cfg.DateTimeFormat == "" {
		cfg.DateTimeFormat = DefaultDateTimeFormat
	}
	if cfg.DateFormat == "" {
		cfg.DateFormat = DefaultDateFormat
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = DefaultTimeFormat
	}
	return &JSONCodec{reg: reg, cfg: cfg, keyErr: reg.CheckKeys(cfg.KeyFormat)}
}

// Config returns a copy of the codec configuration.
func (c *JSONCodec) Config() JSONConfig {
	return c.cfg
}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	if c.keyErr != nil {
		return nil, c.keyErr
	}
	e, target, err := rootEntity(c.reg, v)
	if err != nil {
		return nil, err
	}
	enc := jsonEncoder{reg: c.reg, cfg: c.cfg, w: &jsonWriter{indent: c.cfg.Indent}}
	if err := enc.entity(e, target, c.cfg.TypeHint); err != nil {
		return nil, err
	}
	return enc.w.buf, nil
}

// EncodeWriter streams the encoding of v to w in chunks. If encoding fails part
// way, w has already received a truncated prefix.
func (c *JSONCodec) EncodeWriter(w io.Writer, v any) error {
	if c.keyErr != nil {
		return c.keyErr
	}
	e, target, err := rootEntity(c.reg, v)
	if err != nil {
		return err
	}
	jw := &jsonWriter{out: w, indent: c.cfg.Indent}
	enc := jsonEncoder{reg: c.reg, cfg: c.cfg, w: jw}
	if err := enc.entity(e, target, c.cfg.TypeHint); err != nil {
		return err
	}
	return jw.flush()
}

// Decode reads one entity. A *any target requires the "@type" key, which Encode
// writes when TypeHint is set.
func (c *JSONCodec) Decode(data []byte, v any) error {
	if c.keyErr != nil {
		return c.keyErr
	}
	e, target, untyped, err := decodeTarget(c.reg, v)
	if err != nil {
		return err
	}
	dec := jsonDecoder{reg: c.reg, cfg: c.cfg, r: newJSONReader(data)}
	if untyped {
		err = dec.dynamic(target)
	} else {
		err = dec.entity(e, target)
	}
	if err != nil {
		return err
	}
	return dec.r.end()
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
