// Package serialport opens ASRL resources: an instrument wired straight to an
// RS-232 port, using go.bug.st/serial.
package serialport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/arloliu/go-maglab/logger"
	"github.com/arloliu/go-maglab/transport"
)

// Port is the subset of serial.Port the sessions use.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// OpenPortFunc opens a serial device.
type OpenPortFunc func(name string, mode *serial.Mode) (Port, error)

// OpenPort opens name with go.bug.st/serial.
func OpenPort(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// DefaultMode is the Oxford Instruments factory RS-232 setting: 9600 baud,
// 8 data bits, no parity, 2 stop bits.
func DefaultMode() *serial.Mode {
	return &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.TwoStopBits,
	}
}

// Opener opens ASRL<path>::INSTR resources.
type Opener struct {
	mode     *serial.Mode
	openPort OpenPortFunc
	logger   logger.Logger
}

var _ transport.Opener = (*Opener)(nil)

// Option configures an Opener.
type Option func(*Opener)

// WithMode overrides the serial line settings.
func WithMode(mode *serial.Mode) Option {
	return func(o *Opener) { o.mode = mode }
}

// WithOpenPort replaces the function used to open the device.
func WithOpenPort(fn OpenPortFunc) Option {
	return func(o *Opener) { o.openPort = fn }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Opener) { o.logger = l }
}

// NewOpener creates an ASRL opener.
func NewOpener(opts ...Option) *Opener {
	o := &Opener{mode: DefaultMode(), openPort: OpenPort}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.GetLogger()
	}

	return o
}

// Open opens the serial device named by resourceID.
func (o *Opener) Open(ctx context.Context, resourceID string, _ time.Duration) (transport.Session, error) {
	res, err := transport.ParseResource(resourceID)
	if err != nil {
		return nil, &transport.Error{Op: "open", Resource: resourceID, Err: err}
	}
	if res.Kind != transport.KindSerial {
		return nil, &transport.Error{Op: "open", Resource: resourceID,
			Err: fmt.Errorf("%w: %s is not a serial resource", transport.ErrUnsupportedResource, res.Kind)}
	}
	if err := ctx.Err(); err != nil {
		return nil, &transport.Error{Op: "open", Resource: resourceID, Err: err}
	}

	port, err := o.openPort(res.Path, o.mode)
	if err != nil {
		return nil, &transport.Error{Op: "open", Resource: resourceID, Err: err}
	}
	o.logger.Debug("serialport: opened", "resource", resourceID, "baud", o.mode.BaudRate)

	return NewSession(port, resourceID), nil
}

// Session is a line session over a serial port.
type Session struct {
	port     Port
	resource string
	scanner  *transport.LineScanner
	closed   atomic.Bool
	once     sync.Once
}

var (
	_ transport.Session = (*Session)(nil)
	_ transport.Flusher = (*Session)(nil)
)

// NewSession wraps an already opened port.
func NewSession(port Port, resource string) *Session {
	return &Session{
		port:     port,
		resource: resource,
		scanner:  transport.NewLineScanner(128),
	}
}

func (s *Session) Write(p []byte) error {
	if s.closed.Load() {
		return &transport.Error{Op: "write", Resource: s.resource, Err: transport.ErrClosed}
	}
	if _, err := s.port.Write(p); err != nil {
		return &transport.Error{Op: "write", Resource: s.resource, Err: err}
	}

	return nil
}

func (s *Session) ReadLine(timeout time.Duration) ([]byte, error) {
	if s.closed.Load() {
		return nil, &transport.Error{Op: "read", Resource: s.resource, Err: transport.ErrClosed}
	}

	line, err := s.scanner.Scan(time.Now().Add(timeout), ReadWithin(s.port))
	if err != nil {
		return nil, &transport.Error{Op: "read", Resource: s.resource, Err: err}
	}

	return line, nil
}

// Flush drops bytes buffered by the driver and by the line scanner.
func (s *Session) Flush() error {
	s.scanner.Reset()
	if err := s.port.ResetInputBuffer(); err != nil {
		return &transport.Error{Op: "flush", Resource: s.resource, Err: err}
	}

	return nil
}

// Close closes the port. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		if cerr := s.port.Close(); cerr != nil {
			err = &transport.Error{Op: "close", Resource: s.resource, Err: cerr}
		}
	})

	return err
}

// ReadWithin adapts a Port to transport.ReadFunc. go.bug.st/serial reports a
// read timeout as (0, nil).
func ReadWithin(port Port) transport.ReadFunc {
	return func(p []byte, budget time.Duration) (int, error) {
		if err := port.SetReadTimeout(budget); err != nil {
			return 0, err
		}

		return port.Read(p)
	}
}
