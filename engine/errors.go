package engine

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-maglab/codec"
)

var (
	// ErrCommunicationTimeout reports that no reply arrived after every
	// permitted attempt.
	ErrCommunicationTimeout = errors.New("engine: communication timeout")
	// ErrMalformedReply reports that every permitted attempt produced a reply
	// the grammar could not parse.
	ErrMalformedReply = errors.New("engine: malformed reply")
)

// ProtocolError is returned when an exchange fails after all attempts.
// It matches both Err (ErrCommunicationTimeout or ErrMalformedReply) and the
// last underlying cause with errors.Is and errors.As.
type ProtocolError struct {
	Model    string
	Command  codec.Command
	Attempts int
	Err      error
	Cause    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%v: %s %s after %d attempt(s): %v", e.Err, e.Model, e.Command, e.Attempts, e.Cause)
}

func (e *ProtocolError) Unwrap() []error { return []error{e.Err, e.Cause} }

// InstrumentRejected reports that the instrument answered with an error reply.
type InstrumentRejected struct {
	Model   string
	Command codec.Command
	Code    string
	Message string
}

func (e *InstrumentRejected) Error() string {
	return fmt.Sprintf("engine: %s rejected %s: ?%s (%s)", e.Model, e.Command, e.Code, e.Message)
}

// IsTimeout reports whether err is a communication timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrCommunicationTimeout)
}

// IsRejected reports whether err is, or wraps, an InstrumentRejected.
func IsRejected(err error) bool {
	var r *InstrumentRejected
	return errors.As(err, &r)
}
