package serialport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/arloliu/go-maglab/logger"
	"github.com/arloliu/go-maglab/transport"
)

func TestOpener_Open(t *testing.T) {
	port := &fakePort{}
	var gotName string
	var gotMode *serial.Mode

	o := NewOpener(
		WithLogger(logger.NewPermissiveMockLogger()),
		WithOpenPort(func(name string, mode *serial.Mode) (Port, error) {
			gotName, gotMode = name, mode
			return port, nil
		}),
	)

	s, err := o.Open(context.Background(), "ASRL/dev/ttyUSB0::INSTR", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", gotName)
	assert.Equal(t, 9600, gotMode.BaudRate)
	assert.Equal(t, serial.TwoStopBits, gotMode.StopBits)

	require.NoError(t, s.Write([]byte("V\r")))
	port.feed("IPS120-10  Version 3.07  (c) OXFORD 1996\r")
	line, err := s.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "IPS120-10  Version 3.07  (c) OXFORD 1996", string(line))
	assert.Equal(t, "V\r", port.written.String())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, port.closed)

	err = s.Write([]byte("X\r"))
	require.ErrorIs(t, err, transport.ErrClosed)
}

func TestOpener_RejectsOtherKinds(t *testing.T) {
	o := NewOpener(WithLogger(logger.NewPermissiveMockLogger()))
	_, err := o.Open(context.Background(), "GPIB0::25::INSTR", time.Second)
	require.ErrorIs(t, err, transport.ErrUnsupportedResource)
}

func TestSession_TimeoutAndFlush(t *testing.T) {
	port := &fakePort{}
	s := NewSession(port, "ASRL1::INSTR")

	port.feed("R+0.12")
	_, err := s.ReadLine(20 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, transport.IsTimeout(err))

	require.NoError(t, s.Flush())
	assert.Equal(t, 1, port.resets)

	port.feed("R+0.13\r")
	line, err := s.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "R+0.13", string(line), "partial line discarded by flush")
}
