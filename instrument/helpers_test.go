package instrument

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-maglab/internal/sim"
	"github.com/arloliu/go-maglab/logger"
	"github.com/arloliu/go-maglab/transport"
	"github.com/arloliu/go-maglab/transport/transporttest"
)

func testConfig(t *testing.T, opts ...Option) *Config {
	t.Helper()
	base := []Option{
		WithTimeout(20 * time.Millisecond),
		WithTurnaround(0),
		WithPollInterval(15 * time.Millisecond),
		WithSettleTime(30 * time.Millisecond),
		WithLogger(logger.NewPermissiveMockLogger()),
	}
	cfg, err := NewConfig(1, 0.001, 2, time.Second, append(base, opts...)...)
	require.NoError(t, err)

	return cfg
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	return ctx
}

func openerFor(s transport.Session) transport.Opener {
	return transport.OpenerFunc(func(context.Context, string, time.Duration) (transport.Session, error) {
		return s, nil
	})
}

// openSim opens an Instrument on a simulated controller running 600 times
// faster than real time.
func openSim(t *testing.T, model string, opts ...Option) (*Instrument, *sim.Session) {
	t.Helper()
	dev, err := sim.New(model, sim.WithSpeed(600))
	require.NoError(t, err)

	inst, err := Open(testCtx(t), openerFor(dev), "SIM::"+model, testConfig(t, opts...))
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close(context.Background()) })

	return inst, dev
}

// scriptedIPS answers like an IPS120 at rest whose set point reads back as
// setpoint.
func scriptedIPS(setpoint string) transporttest.Handler {
	return func(cmd string) transporttest.Reply {
		switch {
		case cmd == "V":
			return transporttest.Line("IPS120-10  Version 3.07  (c) OXFORD 1996")
		case cmd == "X":
			return transporttest.Line("X00A0C3H1M10P03")
		case cmd == "R7":
			return transporttest.Line("R+0.0000")
		case cmd == "R8":
			return transporttest.Line("R" + setpoint)
		case strings.HasPrefix(cmd, "Q"):
			return transporttest.NoReply()
		default:
			return transporttest.Line(cmd[:1])
		}
	}
}

func openScripted(t *testing.T, h transporttest.Handler, opts ...Option) (*Instrument, *transporttest.Session) {
	t.Helper()
	s := transporttest.New()
	s.SetHandler(h)

	inst, err := Open(testCtx(t), s.Opener(), "GPIB0::25::INSTR", testConfig(t, opts...))
	require.NoError(t, err)

	return inst, s
}
