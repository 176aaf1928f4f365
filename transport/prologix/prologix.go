// Package prologix opens GPIB resources through a Prologix GPIB-USB
// controller attached as a virtual serial port.
//
// The controller is configured for controller mode with read-after-write
// disabled, so every reply is fetched with an explicit "++read" once the
// command has been written. Instrument data bytes that the controller would
// otherwise interpret (CR, LF, ESC and '+') are escaped with ESC.
package prologix

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"go.uber.org/multierr"

	"github.com/arloliu/go-maglab/logger"
	"github.com/arloliu/go-maglab/transport"
	"github.com/arloliu/go-maglab/transport/serialport"
)

const (
	esc     = 0x1b
	usbTerm = '\n'

	// the controller's own read timeout is limited to 1..3000 ms
	minReadTmo = time.Millisecond
	maxReadTmo = 3000 * time.Millisecond
)

// Opener opens GPIB<board>::<pad>[::<sad>]::INSTR resources. All boards map
// onto the single controller at portName.
type Opener struct {
	portName string
	mode     *serial.Mode
	openPort serialport.OpenPortFunc
	clear    bool
	logger   logger.Logger
}

var _ transport.Opener = (*Opener)(nil)

// Option configures an Opener.
type Option func(*Opener)

// WithMode overrides the USB serial settings. The Prologix ignores the baud
// rate on its virtual COM port but the host driver still needs one.
func WithMode(mode *serial.Mode) Option {
	return func(o *Opener) { o.mode = mode }
}

// WithOpenPort replaces the function used to open the controller's port.
func WithOpenPort(fn serialport.OpenPortFunc) Option {
	return func(o *Opener) { o.openPort = fn }
}

// WithClear sends Selected Device Clear to the instrument after addressing it.
func WithClear() Option {
	return func(o *Opener) { o.clear = true }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Opener) { o.logger = l }
}

// NewOpener creates an opener for the controller attached at portName, such
// as /dev/ttyUSB0 or COM4.
func NewOpener(portName string, opts ...Option) *Opener {
	o := &Opener{
		portName: portName,
		mode:     &serial.Mode{BaudRate: 115200},
		openPort: serialport.OpenPort,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.GetLogger()
	}

	return o
}

// Open opens the controller port and addresses the instrument.
func (o *Opener) Open(ctx context.Context, resourceID string, timeout time.Duration) (transport.Session, error) {
	res, err := transport.ParseResource(resourceID)
	if err != nil {
		return nil, &transport.Error{Op: "open", Resource: resourceID, Err: err}
	}
	if res.Kind != transport.KindGPIB {
		return nil, &transport.Error{Op: "open", Resource: resourceID,
			Err: fmt.Errorf("%w: %s is not a GPIB resource", transport.ErrUnsupportedResource, res.Kind)}
	}
	if err := ctx.Err(); err != nil {
		return nil, &transport.Error{Op: "open", Resource: resourceID, Err: err}
	}

	port, err := o.openPort(o.portName, o.mode)
	if err != nil {
		return nil, &transport.Error{Op: "open", Resource: resourceID, Err: err}
	}

	s := &Session{
		port:     port,
		resource: resourceID,
		scanner:  transport.NewLineScanner(128),
		logger:   o.logger.With("resource", resourceID),
	}
	if err := s.configure(res, timeout, o.clear); err != nil {
		return nil, multierr.Append(
			&transport.Error{Op: "open", Resource: resourceID, Err: err},
			port.Close(),
		)
	}
	s.logger.Debug("prologix: controller configured", "port", o.portName, "pad", res.Primary, "sad", res.Secondary)

	return s, nil
}

// Session is a GPIB session through a Prologix controller.
type Session struct {
	port     serialport.Port
	resource string
	scanner  *transport.LineScanner
	logger   logger.Logger
	closed   atomic.Bool
	once     sync.Once
}

var (
	_ transport.Session = (*Session)(nil)
	_ transport.Flusher = (*Session)(nil)
)

func (s *Session) configure(res transport.Resource, timeout time.Duration, clear bool) error {
	addr := "addr " + strconv.Itoa(res.Primary)
	if res.Secondary >= 0 {
		addr += " " + strconv.Itoa(res.Secondary)
	}

	cmds := []string{
		"mode 1",       // controller in charge
		"auto 0",       // no read-after-write, replies fetched with ++read
		addr,           // instrument address
		"eoi 1",        // assert EOI with the last byte
		"eos 1",        // append CR to instrument commands
		"eot_enable 0", // the instrument's CR already ends each reply
		"read_tmo_ms " + strconv.Itoa(int(readTmo(timeout).Milliseconds())),
	}
	if clear {
		cmds = append(cmds, "clr")
	}
	for _, cmd := range cmds {
		if err := s.command(cmd); err != nil {
			return err
		}
	}

	return nil
}

// command sends a "++" controller command.
func (s *Session) command(cmd string) error {
	_, err := s.port.Write([]byte("++" + cmd + string(usbTerm)))
	return err
}

// Write sends p to the instrument. A trailing CR or LF is dropped; the
// controller appends the GPIB terminator itself.
func (s *Session) Write(p []byte) error {
	if s.closed.Load() {
		return &transport.Error{Op: "write", Resource: s.resource, Err: transport.ErrClosed}
	}
	if _, err := s.port.Write(Escape(p)); err != nil {
		return &transport.Error{Op: "write", Resource: s.resource, Err: err}
	}

	return nil
}

// ReadLine discards stale input, asks the controller to read from the
// instrument until CR and returns the reply line.
func (s *Session) ReadLine(timeout time.Duration) ([]byte, error) {
	if s.closed.Load() {
		return nil, &transport.Error{Op: "read", Resource: s.resource, Err: transport.ErrClosed}
	}
	// anything already received belongs to a reply that timed out earlier
	if n := s.scanner.Buffered(); n > 0 {
		s.logger.Debug("prologix: discarding stale reply bytes", "bytes", n)
	}
	if err := s.Flush(); err != nil {
		return nil, err
	}
	if err := s.command("read 13"); err != nil {
		return nil, &transport.Error{Op: "read", Resource: s.resource, Err: err}
	}

	line, err := s.scanner.Scan(time.Now().Add(timeout), serialport.ReadWithin(s.port))
	if err != nil {
		return nil, &transport.Error{Op: "read", Resource: s.resource, Err: err}
	}

	return line, nil
}

// Flush discards any late reply bytes.
func (s *Session) Flush() error {
	s.scanner.Reset()
	if err := s.port.ResetInputBuffer(); err != nil {
		return &transport.Error{Op: "flush", Resource: s.resource, Err: err}
	}

	return nil
}

// Close returns the instrument to local control and closes the port.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		err = multierr.Combine(s.command("loc"), s.port.Close())
		if err != nil {
			err = &transport.Error{Op: "close", Resource: s.resource, Err: err}
		}
	})

	return err
}

// Escape prepares instrument data for the controller: the trailing
// terminator is removed, CR, LF, ESC and '+' are prefixed with ESC and the
// USB terminator is appended.
func Escape(p []byte) []byte {
	for len(p) > 0 && (p[len(p)-1] == '\r' || p[len(p)-1] == '\n') {
		p = p[:len(p)-1]
	}

	out := make([]byte, 0, len(p)+4)
	for _, b := range p {
		switch b {
		case '\r', '\n', esc, '+':
			out = append(out, esc)
		}
		out = append(out, b)
	}

	return append(out, usbTerm)
}

func readTmo(timeout time.Duration) time.Duration {
	switch {
	case timeout < minReadTmo:
		return minReadTmo
	case timeout > maxReadTmo:
		return maxReadTmo
	default:
		return timeout
	}
}
