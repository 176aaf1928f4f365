package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownModel is returned by Lookup and Detect.
	ErrUnknownModel = errors.New("codec: unknown instrument model")
	// ErrUnsupported marks a ValidationError for an opcode the model lacks.
	ErrUnsupported = errors.New("codec: operation not supported by model")
	// ErrOutOfRange marks a ValidationError for a parameter outside the
	// instrument's documented range.
	ErrOutOfRange = errors.New("codec: parameter out of range")
	// ErrBadParams marks a ValidationError for a wrong parameter count or kind.
	ErrBadParams = errors.New("codec: wrong parameters")
)

// ValidationError reports a command rejected before any I/O.
type ValidationError struct {
	Model  string
	Op     Opcode
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("codec: %s %s: %s", e.Model, e.Op, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ParseError reports a reply that does not match the model's grammar.
type ParseError struct {
	Model  string
	Op     Opcode
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("codec: %s %s: cannot parse reply %q: %s", e.Model, e.Op, e.Raw, e.Reason)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsParse reports whether err is, or wraps, a ParseError.
func IsParse(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
