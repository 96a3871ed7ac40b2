package codec

import (
	"io"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// jsonReader is a streaming tokenizer over a complete JSON document. Callers peek
// at the next significant character and recurse; there is no intermediate tree.
type jsonReader struct {
	data []byte
	pos  int
	buf  []byte // scratch for unescaping
}

func newJSONReader(data []byte) *jsonReader {
	return &jsonReader{data: data}
}

func (r *jsonReader) errorf(format string, args ...any) error {
	return protocolErrorf(r.pos, format, args...)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isDelimiter(c byte) bool {
	return c == ',' || c == ']' || c == '}' || c == ':' || isSpace(c)
}

// readSkip skips whitespace and returns the next character without consuming it.
func (r *jsonReader) readSkip() (byte, error) {
	for r.pos < len(r.data) && isSpace(r.data[r.pos]) {
		r.pos++
	}
	if r.pos >= len(r.data) {
		return 0, r.errorf("unexpected end of input")
	}
	return r.data[r.pos], nil
}

// expect consumes c after optional whitespace.
func (r *jsonReader) expect(c byte) error {
	got, err := r.readSkip()
	if err != nil {
		return err
	}
	if got != c {
		return r.errorf("expected %q, found %q", c, got)
	}
	r.pos++
	return nil
}

// next consumes the separator after a member or element. It returns true at the
// closing character and false after a comma.
func (r *jsonReader) next(closing byte) (bool, error) {
	c, err := r.readSkip()
	if err != nil {
		return false, err
	}
	switch c {
	case ',':
		r.pos++
		return false, nil
	case closing:
		r.pos++
		return true, nil
	}
	return false, r.errorf("expected ',' or %q, found %q", closing, c)
}

// empty consumes closing if it is the next character.
func (r *jsonReader) empty(closing byte) (bool, error) {
	c, err := r.readSkip()
	if err != nil {
		return false, err
	}
	if c == closing {
		r.pos++
		return true, nil
	}
	return false, nil
}

// readNull consumes a bare null literal if one comes next. A quoted "null" is a
// string and is left alone.
func (r *jsonReader) readNull() (bool, error) {
	if _, err := r.readSkip(); err != nil {
		return false, err
	}
	end := r.pos + 4
	if end <= len(r.data) && string(r.data[r.pos:end]) == "null" &&
		(end == len(r.data) || isDelimiter(r.data[end])) {
		r.pos = end
		return true, nil
	}
	return false, nil
}

// readKey reads an object key and the colon after it. Keys may be quoted or bare.
func (r *jsonReader) readKey() (string, error) {
	c, err := r.readSkip()
	if err != nil {
		return "", err
	}
	var key string
	if c == '"' {
		if key, err = r.readString(); err != nil {
			return "", err
		}
	} else {
		start := r.pos
		for r.pos < len(r.data) && !isDelimiter(r.data[r.pos]) && r.data[r.pos] != '"' {
			r.pos++
		}
		if r.pos == start {
			return "", r.errorf("expected object key, found %q", c)
		}
		key = string(r.data[start:r.pos])
	}
	if err := r.expect(':'); err != nil {
		return "", err
	}
	return key, nil
}

// readValue reads a scalar: a string, which is unescaped, or a bare token up to the
// next delimiter. quoted tells the two apart, so "null" and null differ.
func (r *jsonReader) readValue() (text string, quoted bool, err error) {
	c, err := r.readSkip()
	if err != nil {
		return "", false, err
	}
	switch c {
	case '"':
		s, err := r.readString()
		return s, true, err
	case '{', '[':
		return "", false, r.errorf("expected a scalar, found %q", c)
	}
	start := r.pos
	for r.pos < len(r.data) && !isDelimiter(r.data[r.pos]) {
		r.pos++
	}
	if r.pos == start {
		return "", false, r.errorf("expected a value, found %q", c)
	}
	return string(r.data[start:r.pos]), false, nil
}

// readIgnore discards one complete value of any shape.
func (r *jsonReader) readIgnore() error {
	c, err := r.readSkip()
	if err != nil {
		return err
	}
	if c != '{' && c != '[' {
		_, _, err := r.readValue()
		return err
	}
	start := r.pos
	depth := 0
	for r.pos < len(r.data) {
		switch r.data[r.pos] {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				r.pos++
				return nil
			}
		case '"':
			if err := r.skipString(); err != nil {
				return err
			}
			continue
		}
		r.pos++
	}
	r.pos = start
	return r.errorf("unterminated %q", c)
}

// skipString advances past a quoted string without unescaping it.
func (r *jsonReader) skipString() error {
	start := r.pos
	r.pos++
	for r.pos < len(r.data) {
		switch r.data[r.pos] {
		case '\\':
			r.pos += 2
			continue
		case '"':
			r.pos++
			return nil
		}
		r.pos++
	}
	r.pos = start
	return r.errorf("unterminated string")
}

// readString reads a quoted string starting at the opening quote.
func (r *jsonReader) readString() (string, error) {
	start := r.pos
	r.pos++
	// Fast path: no escapes.
	for i := r.pos; i < len(r.data); i++ {
		c := r.data[i]
		if c == '"' {
			s := string(r.data[r.pos:i])
			r.pos = i + 1
			return s, nil
		}
		if c == '\\' || c < 0x20 {
			break
		}
	}
	r.buf = r.buf[:0]
	for r.pos < len(r.data) {
		c := r.data[r.pos]
		switch {
		case c == '"':
			r.pos++
			return string(r.buf), nil
		case c < 0x20:
			return "", r.errorf("control character %#x in string", c)
		case c != '\\':
			r.buf = append(r.buf, c)
			r.pos++
			continue
		}
		if r.pos+1 >= len(r.data) {
			break
		}
		esc := r.data[r.pos+1]
		r.pos += 2
		switch esc {
		case '"', '\\', '/':
			r.buf = append(r.buf, esc)
		case 'b':
			r.buf = append(r.buf, '\b')
		case 'f':
			r.buf = append(r.buf, '\f')
		case 'n':
			r.buf = append(r.buf, '\n')
		case 'r':
			r.buf = append(r.buf, '\r')
		case 't':
			r.buf = append(r.buf, '\t')
		case 'u':
			ru, err := r.readHex4()
			if err != nil {
				return "", err
			}
			if utf16.IsSurrogate(ru) {
				lo := rune(utf8.RuneError)
				if r.pos+1 < len(r.data) && r.data[r.pos] == '\\' && r.data[r.pos+1] == 'u' {
					r.pos += 2
					if lo, err = r.readHex4(); err != nil {
						return "", err
					}
				}
				ru = utf16.DecodeRune(ru, lo)
			}
			r.buf = utf8.AppendRune(r.buf, ru)
		default:
			return "", r.errorf("invalid escape \\%c", esc)
		}
	}
	r.pos = start
	return "", r.errorf("unterminated string")
}

func (r *jsonReader) readHex4() (rune, error) {
	if r.pos+4 > len(r.data) {
		return 0, r.errorf("truncated \\u escape")
	}
	v, err := strconv.ParseUint(string(r.data[r.pos:r.pos+4]), 16, 16)
	if err != nil {
		return 0, r.errorf("invalid \\u escape %q", r.data[r.pos:r.pos+4])
	}
	r.pos += 4
	return rune(v), nil
}

// end checks that only whitespace remains.
func (r *jsonReader) end() error {
	for r.pos < len(r.data) && isSpace(r.data[r.pos]) {
		r.pos++
	}
	if r.pos < len(r.data) {
		return r.errorf("trailing data")
	}
	return nil
}

// jsonFlushSize is the buffered size at which a streaming jsonWriter writes out.
const jsonFlushSize = 4096

// jsonWriter emits JSON text. It remembers the last structural character written
// and inserts separators itself, so callers only announce keys and values.
type jsonWriter struct {
	buf    []byte
	out    io.Writer // when set, buf is written to out in chunks
	err    error     // first error from out
	indent string
	depth  int
	last   byte // '{', '[', ':', 'v' after a complete value, 0 at the start
}

// spill writes the buffer out once it has grown past jsonFlushSize.
func (w *jsonWriter) spill() {
	if w.out != nil && len(w.buf) >= jsonFlushSize {
		w.flush()
	}
}

// flush writes whatever is buffered. After a failed write the rest is dropped.
func (w *jsonWriter) flush() error {
	if w.err == nil && len(w.buf) > 0 {
		_, w.err = w.out.Write(w.buf)
	}
	w.buf = w.buf[:0]
	return w.err
}

func (w *jsonWriter) newline() {
	if w.indent == "" {
		return
	}
	w.buf = append(w.buf, '\n')
	for i := 0; i < w.depth; i++ {
		w.buf = append(w.buf, w.indent...)
	}
}

// sep writes whatever must precede the next key or element.
func (w *jsonWriter) sep() {
	switch w.last {
	case 'v':
		w.buf = append(w.buf, ',')
		w.newline()
	case '{', '[':
		w.newline()
	}
}

func (w *jsonWriter) open(c byte) {
	w.sep()
	w.buf = append(w.buf, c)
	w.depth++
	w.last = c
}

func (w *jsonWriter) close(c byte) {
	w.depth--
	if w.last != '{' && w.last != '[' {
		w.newline()
	}
	w.buf = append(w.buf, c)
	w.last = 'v'
	w.spill()
}

func (w *jsonWriter) beginObject() { w.open('{') }
func (w *jsonWriter) endObject()   { w.close('}') }
func (w *jsonWriter) beginArray()  { w.open('[') }
func (w *jsonWriter) endArray()    { w.close(']') }

func (w *jsonWriter) key(k string, quote bool) {
	w.sep()
	if quote {
		w.buf = appendQuoted(w.buf, k)
	} else {
		w.buf = append(w.buf, k...)
	}
	w.buf = append(w.buf, ':')
	if w.indent != "" {
		w.buf = append(w.buf, ' ')
	}
	w.last = ':'
}

// raw writes a bare token such as a number, true or null.
func (w *jsonWriter) raw(token string) {
	w.sep()
	w.buf = append(w.buf, token...)
	w.last = 'v'
	w.spill()
}

func (w *jsonWriter) str(s string) {
	w.sep()
	w.buf = appendQuoted(w.buf, s)
	w.last = 'v'
	w.spill()
}

const hexDigits = "0123456789abcdef"

// appendQuoted appends s as a JSON string. Invalid UTF-8 becomes U+FFFD.
func appendQuoted(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch {
			case c == '"' || c == '\\':
				dst = append(dst, '\\', c)
			case c == '\n':
				dst = append(dst, '\\', 'n')
			case c == '\r':
				dst = append(dst, '\\', 'r')
			case c == '\t':
				dst = append(dst, '\\', 't')
			case c == '\b':
				dst = append(dst, '\\', 'b')
			case c == '\f':
				dst = append(dst, '\\', 'f')
			case c < 0x20:
				dst = append(dst, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
			default:
				dst = append(dst, c)
			}
			i++
			continue
		}
		ru, size := utf8.DecodeRuneInString(s[i:])
		if ru == utf8.RuneError && size == 1 {
			dst = append(dst, "\ufffd"...)
		} else {
			dst = append(dst, s[i:i+size]...)
		}
		i += size
	}
	return append(dst, '"')
}

// quoteKey renders a map key when keys are written bare: keys that would not read
// back as a single bare token are quoted regardless.
func quoteKey(k string, quote bool) bool {
	return quote || k == "" || strings.ContainsAny(k, " \t\r\n,:{}[]\"\\")
}
