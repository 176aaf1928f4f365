package prologix

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/arloliu/go-maglab/logger"
	"github.com/arloliu/go-maglab/transport"
	"github.com/arloliu/go-maglab/transport/serialport"
)

// fakePort emulates a Prologix controller: "++read" requests release the
// next queued instrument reply.
type fakePort struct {
	mu      sync.Mutex
	replies []string
	input   []byte
	written bytes.Buffer
	closed  bool
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.input) == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := copy(p, f.input)
	f.input = f.input[n:]

	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if bytes.Equal(bytes.TrimSpace(p), []byte("++read 13")) && len(f.replies) > 0 {
		f.input = append(f.input, f.replies[0]...)
		f.replies = f.replies[1:]
	}

	return f.written.Write(p)
}

func (f *fakePort) Close() error                       { f.closed = true; return nil }
func (f *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (f *fakePort) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = nil

	return nil
}

// arrive appends bytes as if the instrument sent them unasked.
func (f *fakePort) arrive(b string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = append(f.input, b...)
}

func (f *fakePort) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Split(strings.TrimSuffix(f.written.String(), "\n"), "\n")
}

func openFake(t *testing.T, port *fakePort, resource string, opts ...Option) transport.Session {
	t.Helper()
	opts = append(opts,
		WithLogger(logger.NewPermissiveMockLogger()),
		WithOpenPort(func(name string, _ *serial.Mode) (serialport.Port, error) {
			assert.Equal(t, "/dev/ttyUSB0", name)
			return port, nil
		}),
	)
	s, err := NewOpener("/dev/ttyUSB0", opts...).Open(context.Background(), resource, 500*time.Millisecond)
	require.NoError(t, err)

	return s
}

func TestOpen_ConfiguresController(t *testing.T) {
	port := &fakePort{}
	openFake(t, port, "GPIB0::25::INSTR", WithClear())

	assert.Equal(t, []string{
		"++mode 1",
		"++auto 0",
		"++addr 25",
		"++eoi 1",
		"++eos 1",
		"++eot_enable 0",
		"++read_tmo_ms 500",
		"++clr",
	}, port.lines())
}

func TestOpen_SecondaryAddress(t *testing.T) {
	port := &fakePort{}
	openFake(t, port, "GPIB0::4::101::INSTR")
	assert.Contains(t, port.lines(), "++addr 4 101")
}

func TestSession_Exchange(t *testing.T) {
	port := &fakePort{replies: []string{"J\r", "R+1.23450\r"}}
	s := openFake(t, port, "GPIB0::25::INSTR")
	port.written.Reset()

	require.NoError(t, s.Write([]byte("J+1.2345\r")))
	line, err := s.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "J", string(line))

	require.NoError(t, s.Write([]byte("R7\r")))
	line, err = s.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "R+1.23450", string(line))

	assert.Equal(t, []string{"J\x1b+1.2345", "++read 13", "R7", "++read 13"}, port.lines())

	require.NoError(t, s.Close())
	assert.True(t, port.closed)
	assert.Equal(t, "++loc", port.lines()[len(port.lines())-1])
}

func TestSession_DiscardsStaleReply(t *testing.T) {
	port := &fakePort{replies: []string{"R+0.5000\r"}}
	s := openFake(t, port, "GPIB0::25::INSTR")
	port.written.Reset()

	// a reply to an earlier, timed out query arrives late
	port.arrive("R+2.0000\r")

	require.NoError(t, s.Write([]byte("R8\r")))
	line, err := s.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "R+0.5000", string(line))
	assert.Equal(t, []string{"R8", "++read 13"}, port.lines())
}

func TestSession_Timeout(t *testing.T) {
	port := &fakePort{}
	s := openFake(t, port, "GPIB0::25::INSTR")

	_, err := s.ReadLine(20 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, transport.IsTimeout(err))
}

func TestEscape(t *testing.T) {
	assert.Equal(t, []byte("X\n"), Escape([]byte("X\r\n")))
	assert.Equal(t, []byte("@2J-1.0\n"), Escape([]byte("@2J-1.0\r")))
	assert.Equal(t, []byte("T\x1b+0.5\x1b\x1b\n"), Escape([]byte("T+0.5\x1b")))
}

func TestReadTmo(t *testing.T) {
	assert.Equal(t, time.Millisecond, readTmo(0))
	assert.Equal(t, 250*time.Millisecond, readTmo(250*time.Millisecond))
	assert.Equal(t, 3*time.Second, readTmo(10*time.Second))
}
