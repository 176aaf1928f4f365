// Package transport defines the half-duplex session the protocol engine
// drives, along with VISA-style resource identifiers and the errors every
// concrete transport reports.
//
// A Session is owned by whoever opened it. The engine only borrows it and
// never closes it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout reports that no complete reply arrived within the read budget.
	ErrTimeout = errors.New("transport: timeout")
	// ErrClosed reports use of a closed session.
	ErrClosed = errors.New("transport: session closed")
	// ErrUnsupportedResource reports a resource id no opener can serve.
	ErrUnsupportedResource = errors.New("transport: unsupported resource")
	// ErrInvalidResource reports a malformed resource id.
	ErrInvalidResource = errors.New("transport: invalid resource id")
)

// Session is a blocking, line-oriented connection to one instrument.
//
// Write sends one complete command including its terminator. ReadLine returns
// the next reply line with the terminator stripped, or an error satisfying
// errors.Is(err, ErrTimeout) when nothing arrived within timeout.
//
// Implementations need not be safe for concurrent use; callers serialize
// exchanges.
type Session interface {
	Write(p []byte) error
	ReadLine(timeout time.Duration) ([]byte, error)
	Close() error
}

// Flusher is implemented by sessions that can discard unread input, such as a
// late reply to an exchange that already timed out.
type Flusher interface {
	Flush() error
}

// Opener opens a session for a resource id.
type Opener interface {
	Open(ctx context.Context, resourceID string, timeout time.Duration) (Session, error)
}

// OpenerFunc adapts an ordinary function to the Opener interface.
type OpenerFunc func(ctx context.Context, resourceID string, timeout time.Duration) (Session, error)

// Open calls f(ctx, resourceID, timeout).
func (f OpenerFunc) Open(ctx context.Context, resourceID string, timeout time.Duration) (Session, error) {
	return f(ctx, resourceID, timeout)
}

// Error describes a failed transport operation.
type Error struct {
	Op       string // "open", "write", "read", "flush" or "close"
	Resource string
	Err      error
}

func (e *Error) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Resource, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the operation failed because its budget elapsed.
func (e *Error) Timeout() bool { return errors.Is(e.Err, ErrTimeout) }

// IsTimeout reports whether err is, or wraps, a transport timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Flush discards unread input when s supports it.
func Flush(s Session) error {
	if f, ok := s.(Flusher); ok {
		return f.Flush()
	}

	return nil
}
