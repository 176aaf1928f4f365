// Package tcpip opens TCPIP<board>::<host>::<port>::SOCKET resources: a raw
// socket to an Ethernet-serial bridge or a GPIB-LAN gateway.
package tcpip

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-maglab/logger"
	"github.com/arloliu/go-maglab/transport"
)

// Opener dials socket resources.
type Opener struct {
	dialer *net.Dialer
	logger logger.Logger
}

var _ transport.Opener = (*Opener)(nil)

// NewOpener creates a socket opener.
func NewOpener(l logger.Logger) *Opener {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Opener{dialer: &net.Dialer{KeepAlive: 30 * time.Second}, logger: l}
}

// Open dials the resource's host and port, bounded by timeout and ctx.
func (o *Opener) Open(ctx context.Context, resourceID string, timeout time.Duration) (transport.Session, error) {
	res, err := transport.ParseResource(resourceID)
	if err != nil {
		return nil, &transport.Error{Op: "open", Resource: resourceID, Err: err}
	}
	if res.Kind != transport.KindTCPIP {
		return nil, &transport.Error{Op: "open", Resource: resourceID,
			Err: fmt.Errorf("%w: %s is not a socket resource", transport.ErrUnsupportedResource, res.Kind)}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := o.dialer.DialContext(ctx, "tcp", res.Addr())
	if err != nil {
		return nil, &transport.Error{Op: "open", Resource: resourceID, Err: err}
	}
	o.logger.Debug("tcpip: connected", "resource", resourceID, "remote", conn.RemoteAddr().String())

	return NewSession(conn, resourceID), nil
}

// Session is a line session over a net.Conn.
type Session struct {
	conn     net.Conn
	resource string
	scanner  *transport.LineScanner
	closed   atomic.Bool
	once     sync.Once
}

var (
	_ transport.Session = (*Session)(nil)
	_ transport.Flusher = (*Session)(nil)
)

// NewSession wraps an established connection.
func NewSession(conn net.Conn, resource string) *Session {
	return &Session{conn: conn, resource: resource, scanner: transport.NewLineScanner(256)}
}

func (s *Session) Write(p []byte) error {
	if s.closed.Load() {
		return &transport.Error{Op: "write", Resource: s.resource, Err: transport.ErrClosed}
	}
	if _, err := s.conn.Write(p); err != nil {
		return &transport.Error{Op: "write", Resource: s.resource, Err: mapErr(err)}
	}

	return nil
}

func (s *Session) ReadLine(timeout time.Duration) ([]byte, error) {
	if s.closed.Load() {
		return nil, &transport.Error{Op: "read", Resource: s.resource, Err: transport.ErrClosed}
	}

	line, err := s.scanner.Scan(time.Now().Add(timeout), s.read)
	if err != nil {
		return nil, &transport.Error{Op: "read", Resource: s.resource, Err: mapErr(err)}
	}

	return line, nil
}

func (s *Session) read(p []byte, budget time.Duration) (int, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(budget)); err != nil {
		return 0, err
	}

	n, err := s.conn.Read(p)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return n, nil
	}

	return n, err
}

// Flush drains bytes already queued on the socket without blocking.
func (s *Session) Flush() error {
	s.scanner.Reset()

	buf := make([]byte, 256)
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			return &transport.Error{Op: "flush", Resource: s.resource, Err: err}
		}
		n, err := s.conn.Read(buf)
		if n > 0 && err == nil {
			continue
		}

		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		if err != nil {
			return &transport.Error{Op: "flush", Resource: s.resource, Err: mapErr(err)}
		}
	}
}

// Close closes the connection. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		if cerr := s.conn.Close(); cerr != nil {
			err = &transport.Error{Op: "close", Resource: s.resource, Err: cerr}
		}
	})

	return err
}

func mapErr(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %w", transport.ErrClosed, err)
	}

	return err
}
