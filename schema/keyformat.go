package schema

import (
	"fmt"
	"strings"
	"unicode"
)

// KeyFormat selects how field names are spelled as JSON object keys.
type KeyFormat uint8

const (
	KeyAsDeclared KeyFormat = iota // the declared name, unchanged
	KeyPascal                      // UserName
	KeyCamel                       // userName
	KeyKebab                       // user-name
	KeySnake                       // user_name
	KeyLower                       // username
	KeyUpper                       // USERNAME

	keyFormatCount
)

var keyFormatNames = [keyFormatCount]string{
	KeyAsDeclared: "declared",
	KeyPascal:     "pascal",
	KeyCamel:      "camel",
	KeyKebab:      "kebab",
	KeySnake:      "snake",
	KeyLower:      "lower",
	KeyUpper:      "upper",
}

func (f KeyFormat) String() string {
	if f < keyFormatCount {
		return keyFormatNames[f]
	}
	return fmt.Sprintf("keyformat(%d)", uint8(f))
}

// ParseKeyFormat accepts the names printed by KeyFormat.String. The empty string is
// KeyAsDeclared.
func ParseKeyFormat(s string) (KeyFormat, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return KeyAsDeclared, nil
	}
	for i, name := range keyFormatNames {
		if name == s {
			return KeyFormat(i), nil
		}
	}
	return KeyAsDeclared, fmt.Errorf("unknown key format %q", s)
}

func (f KeyFormat) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *KeyFormat) UnmarshalText(text []byte) error {
	v, err := ParseKeyFormat(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Apply spells name in format f.
func (f KeyFormat) Apply(name string) string {
	if f == KeyAsDeclared {
		return name
	}
	words := splitWords(name)
	var b strings.Builder
	for i, w := range words {
		switch f {
		case KeyPascal:
			b.WriteString(title(w))
		case KeyCamel:
			if i == 0 {
				b.WriteString(strings.ToLower(w))
			} else {
				b.WriteString(title(w))
			}
		case KeyKebab, KeySnake:
			if i > 0 {
				if f == KeyKebab {
					b.WriteByte('-')
				} else {
					b.WriteByte('_')
				}
			}
			b.WriteString(strings.ToLower(w))
		case KeyLower:
			b.WriteString(strings.ToLower(w))
		case KeyUpper:
			b.WriteString(strings.ToUpper(w))
		}
	}
	return b.String()
}

func title(w string) string {
	r := []rune(strings.ToLower(w))
	if len(r) > 0 {
		r[0] = unicode.ToUpper(r[0])
	}
	return string(r)
}

// splitWords breaks an identifier into words at '_', '-', spaces, lower-to-upper
// transitions and the end of an acronym: "HTTPServerID" -> HTTP, Server, ID.
func splitWords(s string) []string {
	var words []string
	r := []rune(s)
	start := -1
	flush := func(end int) {
		if start >= 0 && end > start {
			words = append(words, string(r[start:end]))
		}
		start = -1
	}
	for i, c := range r {
		if c == '_' || c == '-' || unicode.IsSpace(c) {
			flush(i)
			continue
		}
		if start < 0 {
			start = i
			continue
		}
		prev := r[i-1]
		switch {
		case unicode.IsUpper(c) && (unicode.IsLower(prev) || unicode.IsDigit(prev)):
			flush(i)
			start = i
		case unicode.IsUpper(c) && unicode.IsUpper(prev) && i+1 < len(r) && unicode.IsLower(r[i+1]):
			flush(i)
			start = i
		}
	}
	flush(len(r))
	return words
}
