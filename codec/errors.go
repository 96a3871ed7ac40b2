package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol is wrapped by every ProtocolError: the input is not a valid
	// encoding for the registry in use.
	ErrProtocol = errors.New("protocol error")

	// ErrUndefinedField is returned by the JSON codec for an unknown key when
	// IgnoreUndefinedField is off.
	ErrUndefinedField = errors.New("undefined field")

	// ErrNilValue is returned when a nil pointer, interface or big number sits
	// where a value is required, such as inside a collection.
	ErrNilValue = errors.New("nil value")
)

// ProtocolError reports malformed input at a byte offset.
type ProtocolError struct {
	Offset int
	Reason string
	Err    error // underlying cause, may be nil
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("codec: protocol error at offset %d: %s: %v", e.Offset, e.Reason, e.Err)
	}
	return fmt.Sprintf("codec: protocol error at offset %d: %s", e.Offset, e.Reason)
}

func (e *ProtocolError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrProtocol, e.Err}
	}
	return []error{ErrProtocol}
}

func protocolErrorf(offset int, format string, args ...any) error {
	return &ProtocolError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

// UndefinedFieldError names the entity and key that had no matching field.
type UndefinedFieldError struct {
	Entity string
	Key    string
	Offset int
}

func (e *UndefinedFieldError) Error() string {
	return fmt.Sprintf("codec: %s has no field %q (offset %d)", e.Entity, e.Key, e.Offset)
}

func (e *UndefinedFieldError) Unwrap() error {
	return ErrUndefinedField
}
