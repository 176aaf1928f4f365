package transport

import (
	"bytes"
	"time"
)

// ReadFunc reads at most len(p) bytes, waiting no longer than budget.
// Returning (0, nil) means the budget elapsed without data.
type ReadFunc func(p []byte, budget time.Duration) (int, error)

// LineScanner splits a byte stream into reply lines terminated by CR, LF or
// CRLF. Bytes that arrive after a terminator are kept for the next line.
// Empty lines are skipped.
type LineScanner struct {
	pending []byte
	chunk   []byte
}

// NewLineScanner returns a LineScanner reading in chunks of size bytes.
func NewLineScanner(size int) *LineScanner {
	if size <= 0 {
		size = 256
	}

	return &LineScanner{chunk: make([]byte, size)}
}

// Scan returns the next line, reading with read until one is complete or
// deadline passes, in which case it returns ErrTimeout and keeps any partial
// line.
func (s *LineScanner) Scan(deadline time.Time, read ReadFunc) ([]byte, error) {
	for {
		if line, ok := s.next(); ok {
			return line, nil
		}

		budget := time.Until(deadline)
		if budget <= 0 {
			return nil, ErrTimeout
		}

		n, err := read(s.chunk, budget)
		if n > 0 {
			s.pending = append(s.pending, s.chunk[:n]...)
		}
		if err != nil {
			return nil, err
		}
	}
}

// Reset discards buffered input.
func (s *LineScanner) Reset() {
	s.pending = s.pending[:0]
}

// Buffered returns the number of bytes held for the next line.
func (s *LineScanner) Buffered() int {
	return len(s.pending)
}

func (s *LineScanner) next() ([]byte, bool) {
	for {
		i := bytes.IndexAny(s.pending, "\r\n")
		if i < 0 {
			return nil, false
		}
		line := bytes.Clone(s.pending[:i])
		s.pending = append(s.pending[:0], s.pending[i+1:]...)
		if len(line) > 0 {
			return line, true
		}
	}
}
