// Package transporttest provides a scripted transport.Session for tests of
// the codec, engine and monitor.
package transporttest

import (
	"context"
	"sync"
	"time"

	"github.com/arloliu/go-maglab/transport"
)

// Reply scripts the instrument's response to one write.
type Reply struct {
	Line    string        // reply text without terminator
	Timeout bool          // no reply; ReadLine blocks for its full timeout
	Delay   time.Duration // time before the reply becomes available; a reply later than the read timeout stays buffered until Flush
	Err     error         // returned from ReadLine instead of a line
	Silent  bool          // the command has no reply and nothing is left pending
}

// Line returns a Reply carrying text.
func Line(text string) Reply { return Reply{Line: text} }

// Timeout returns a Reply that never arrives.
func Timeout() Reply { return Reply{Timeout: true} }

// NoReply returns a Reply for commands the instrument never answers.
func NoReply() Reply { return Reply{Silent: true} }

// Handler produces a reply for a written command, with terminators removed.
type Handler func(cmd string) Reply

// Session records writes and answers them from a queue of scripted replies,
// falling back to a Handler. Without either, reads time out.
//
// Session flags a half-duplex violation when a Write arrives while the
// previous write's reply has not been read or timed out.
type Session struct {
	mu       sync.Mutex
	queue    []Reply
	handler  Handler
	writes   []string
	pending  *Reply
	late     []lateReply
	readyAt  time.Time
	overlap  bool
	flushes  int
	closed   bool
	writeErr error
	onWrite  func(cmd string)
}

// lateReply is a reply that arrived after its read timed out.
type lateReply struct {
	line string
	at   time.Time
}

var (
	_ transport.Session = (*Session)(nil)
	_ transport.Flusher = (*Session)(nil)
)

// New returns a Session that answers from replies in order.
func New(replies ...Reply) *Session {
	return &Session{queue: replies}
}

// Push appends scripted replies.
func (s *Session) Push(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, replies...)
}

// SetHandler answers writes once the queue is empty.
func (s *Session) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// SetWriteError makes every subsequent Write fail with err.
func (s *Session) SetWriteError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// OnWrite registers fn, called synchronously inside every Write.
func (s *Session) OnWrite(fn func(cmd string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onWrite = fn
}

func (s *Session) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &transport.Error{Op: "write", Resource: "transporttest", Err: transport.ErrClosed}
	}
	if s.writeErr != nil {
		return &transport.Error{Op: "write", Resource: "transporttest", Err: s.writeErr}
	}
	if s.pending != nil {
		s.overlap = true
	}

	cmd := trim(string(p))
	s.writes = append(s.writes, cmd)
	if s.onWrite != nil {
		s.onWrite(cmd)
	}

	var r Reply
	switch {
	case len(s.queue) > 0:
		r = s.queue[0]
		s.queue = s.queue[1:]
	case s.handler != nil:
		r = s.handler(cmd)
	default:
		r = Timeout()
	}
	if r.Silent {
		s.pending = nil
		return nil
	}
	s.pending = &r
	s.readyAt = time.Now().Add(r.Delay)

	return nil
}

func (s *Session) ReadLine(timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, &transport.Error{Op: "read", Resource: "transporttest", Err: transport.ErrClosed}
	}
	deadline := time.Now().Add(timeout)
	if len(s.late) > 0 && !s.late[0].at.After(deadline) {
		stale := s.late[0]
		s.late = s.late[1:]
		s.mu.Unlock()
		time.Sleep(time.Until(stale.at))

		return []byte(stale.line), nil
	}
	r := s.pending
	readyAt := s.readyAt
	s.mu.Unlock()

	if r == nil || r.Timeout || readyAt.After(deadline) {
		time.Sleep(time.Until(deadline))
		s.finish(r)
		if r != nil && !r.Timeout && r.Err == nil {
			s.mu.Lock()
			s.late = append(s.late, lateReply{line: r.Line, at: readyAt})
			s.mu.Unlock()
		}
		return nil, &transport.Error{Op: "read", Resource: "transporttest", Err: transport.ErrTimeout}
	}

	time.Sleep(time.Until(readyAt))
	s.finish(r)
	if s.Closed() {
		return nil, &transport.Error{Op: "read", Resource: "transporttest", Err: transport.ErrClosed}
	}
	if r.Err != nil {
		return nil, &transport.Error{Op: "read", Resource: "transporttest", Err: r.Err}
	}

	return []byte(r.Line), nil
}

func (s *Session) finish(r *Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == r {
		s.pending = nil
	}
}

func (s *Session) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	s.pending = nil
	s.late = nil

	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true

	return nil
}

// Writes returns the commands written so far.
func (s *Session) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.writes...)
}

// WriteCount returns the number of writes.
func (s *Session) WriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.writes)
}

// Overlapped reports whether a write was issued while another exchange was
// still in flight.
func (s *Session) Overlapped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.overlap
}

// Flushes returns the number of Flush calls.
func (s *Session) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.flushes
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// Opener returns an opener that hands out s for any resource id.
func (s *Session) Opener() transport.Opener {
	return transport.OpenerFunc(func(ctx context.Context, _ string, _ time.Duration) (transport.Session, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return s, nil
	})
}

func trim(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\r' || s[len(s)-1] == '\n') {
		s = s[:len(s)-1]
	}

	return s
}
