package schema

import (
	"errors"
	"fmt"
)

// ErrSchema is the sentinel wrapped by every SchemaError. Schema errors signal a defect
// in the registered types (or a value outside them) and are never retried.
var ErrSchema = errors.New("schema error")

// SchemaError describes a registry or type-model defect.
type SchemaError struct {
	Type   string // type or entity name, may be empty
	Field  string // field name, may be empty
	Reason string
}

func (e *SchemaError) Error() string {
	switch {
	case e.Type != "" && e.Field != "":
		return fmt.Sprintf("schema: %s.%s: %s", e.Type, e.Field, e.Reason)
	case e.Type != "":
		return fmt.Sprintf("schema: %s: %s", e.Type, e.Reason)
	default:
		return "schema: " + e.Reason
	}
}

func (e *SchemaError) Unwrap() error {
	return ErrSchema
}

func schemaErrorf(typeName, field, format string, args ...any) error {
	return &SchemaError{Type: typeName, Field: field, Reason: fmt.Sprintf(format, args...)}
}
