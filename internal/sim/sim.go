// Package sim simulates Oxford Instruments controllers behind a
// transport.Session, for tests and for driving the command line tool without
// hardware.
//
// A simulated device speaks the same command grammar as the real controller:
// it answers in the same reply formats, rejects control commands while in
// local mode, and ramps its output at the configured sweep rate. A speed
// factor compresses minutes of ramping into milliseconds.
package sim

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-maglab/internal/queue"
	"github.com/arloliu/go-maglab/transport"
)

type device interface {
	advance(dt time.Duration)
	handle(cmd string) (reply string, answered bool)
	read(channel int) (float64, bool)
	fault(code int)
}

// Session is a simulated instrument session.
type Session struct {
	mu      sync.Mutex
	name    string
	dev     device
	clock   func() time.Time
	last    time.Time
	speed   float64
	address int
	silent  bool
	closed  bool
	writes  int
	replies *queue.Queue[string]
}

var (
	_ transport.Session = (*Session)(nil)
	_ transport.Flusher = (*Session)(nil)
)

// Option configures a simulated session.
type Option func(*Session)

// WithSpeed multiplies the simulated passage of time.
func WithSpeed(factor float64) Option {
	return func(s *Session) {
		if factor > 0 {
			s.speed = factor
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.clock = now }
}

// WithAddress makes the device answer only commands prefixed with @n.
func WithAddress(n int) Option {
	return func(s *Session) { s.address = n }
}

// New returns a simulated session for model, "IPS120", "ITC503" or "ILM211".
func New(model string, opts ...Option) (*Session, error) {
	s := &Session{
		clock:   time.Now,
		speed:   1,
		address: -1,
		replies: queue.New[string](),
	}

	switch strings.ToUpper(model) {
	case "IPS120":
		s.dev = newIPS()
	case "ITC503":
		s.dev = newITC()
	case "ILM211":
		s.dev = newILM()
	default:
		return nil, fmt.Errorf("sim: no simulator for model %q", model)
	}
	s.name = "SIM::" + strings.ToUpper(model)

	for _, opt := range opts {
		opt(s)
	}
	s.last = s.clock()

	return s, nil
}

// Opener returns an opener for SIM::<model> resource ids. Every Open starts a
// fresh device.
func Opener(opts ...Option) transport.Opener {
	return transport.OpenerFunc(func(ctx context.Context, resourceID string, _ time.Duration) (transport.Session, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := transport.ParseResource(resourceID)
		if err != nil {
			return nil, &transport.Error{Op: "open", Resource: resourceID, Err: err}
		}
		if res.Kind != transport.KindSim {
			return nil, &transport.Error{
				Op:       "open",
				Resource: resourceID,
				Err:      fmt.Errorf("%w: not a SIM resource", transport.ErrUnsupportedResource),
			}
		}
		s, err := New(res.Model, opts...)
		if err != nil {
			return nil, &transport.Error{Op: "open", Resource: resourceID, Err: err}
		}

		return s, nil
	})
}

func (s *Session) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &transport.Error{Op: "write", Resource: s.name, Err: transport.ErrClosed}
	}
	s.writes++
	s.step()

	cmd := strings.TrimRight(string(p), "\r\n")
	cmd, ok := s.addressed(cmd)
	if !ok || s.silent || cmd == "" {
		return nil
	}
	if reply, answered := s.dev.handle(cmd); answered {
		s.replies.Enqueue(reply)
	}

	return nil
}

// addressed strips an ISOBUS prefix and reports whether the command is meant
// for this device.
func (s *Session) addressed(cmd string) (string, bool) {
	if !strings.HasPrefix(cmd, "@") {
		return cmd, s.address < 0
	}
	i := 1
	for i < len(cmd) && cmd[i] >= '0' && cmd[i] <= '9' {
		i++
	}
	n, err := strconv.Atoi(cmd[1:i])
	if err != nil {
		return "", false
	}

	return cmd[i:], n == s.address || s.address < 0
}

func (s *Session) ReadLine(timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, &transport.Error{Op: "read", Resource: s.name, Err: transport.ErrClosed}
	}
	reply, ok := s.replies.Dequeue()
	s.mu.Unlock()

	if !ok {
		time.Sleep(timeout)
		return nil, &transport.Error{Op: "read", Resource: s.name, Err: transport.ErrTimeout}
	}

	return []byte(reply), nil
}

func (s *Session) Flush() error {
	for {
		if _, ok := s.replies.Dequeue(); !ok {
			return nil
		}
	}
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true

	return nil
}

func (s *Session) step() {
	now := s.clock()
	dt := time.Duration(float64(now.Sub(s.last)) * s.speed)
	s.last = now
	if dt > 0 {
		s.dev.advance(dt)
	}
}

// SetSilent stops or resumes all replies, as if the cable were pulled.
func (s *Session) SetSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

// InjectFault sets the system status digit to code; a level meter reports an
// error on its first channel instead. Remote control (C3) clears it.
func (s *Session) InjectFault(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
	s.dev.fault(code)
}

// Reading returns the present value of numeric channel n.
func (s *Session) Reading(n int) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()

	return s.dev.read(n)
}

// Writes returns the number of commands received.
func (s *Session) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writes
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// approach moves v toward goal by at most step.
func approach(v, goal, step float64) float64 {
	switch {
	case goal > v:
		return min(v+step, goal)
	case goal < v:
		return max(v-step, goal)
	default:
		return v
	}
}

func parseInt(arg string) (int, bool) {
	n, err := strconv.Atoi(arg)
	return n, err == nil
}

func parseFloat(arg string) (float64, bool) {
	v, err := strconv.ParseFloat(arg, 64)
	return v, err == nil
}

func reject(cmd string) (string, bool) { return "?" + cmd, true }

func ack(cmd string) (string, bool) { return cmd[:1], true }

func remote(control int) bool { return control == 1 || control == 3 }
