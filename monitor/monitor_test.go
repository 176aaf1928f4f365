package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-maglab/codec"
	"github.com/arloliu/go-maglab/engine"
	"github.com/arloliu/go-maglab/logger"
	"github.com/arloliu/go-maglab/state"
	"github.com/arloliu/go-maglab/transport/transporttest"
)

// fakeIPS is a scriptable magnet supply behind a transporttest.Session.
type fakeIPS struct {
	mu       sync.Mutex
	status   string
	field    string
	setpoint string
	dead     bool
}

func (f *fakeIPS) set(status, field, setpoint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.field, f.setpoint = status, field, setpoint
}

func (f *fakeIPS) setDead(dead bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead = dead
}

func (f *fakeIPS) handle(cmd string) transporttest.Reply {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dead {
		return transporttest.Timeout()
	}
	switch cmd {
	case "X":
		return transporttest.Line(f.status)
	case "R7":
		return transporttest.Line("R" + f.field)
	case "R8":
		return transporttest.Line("R" + f.setpoint)
	}

	return transporttest.Line(cmd[:1])
}

type fixture struct {
	ips     *fakeIPS
	session *transporttest.Session
	engine  *engine.Engine
	monitor *Monitor
}

func newFixture(t *testing.T, stateOpts ...state.Option) *fixture {
	t.Helper()

	l := logger.NewPermissiveMockLogger()
	ips := &fakeIPS{status: "X00A0C3H1M10P03", field: "+1.0000", setpoint: "+1.0000"}
	s := transporttest.New()
	s.SetHandler(ips.handle)

	e, err := engine.New(s, codec.IPS120(),
		engine.WithTimeout(10*time.Millisecond),
		engine.WithMaxRetries(0),
		engine.WithTurnaround(0),
		engine.WithLogger(l),
	)
	require.NoError(t, err)

	scfg, err := state.NewConfig(0.001, 2, append([]state.Option{state.WithLogger(l)}, stateOpts...)...)
	require.NoError(t, err)

	mcfg, err := NewConfig(15*time.Millisecond, WithLogger(l))
	require.NoError(t, err)

	mon, err := New(e, state.NewMachine(scfg), mcfg)
	require.NoError(t, err)
	t.Cleanup(mon.Stop)

	return &fixture{ips: ips, session: s, engine: e, monitor: mon}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	return ctx
}

func TestMonitor_FirstPollDerivesMode(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.monitor.Start(context.Background()))

	snap, err := f.monitor.WaitMode(waitCtx(t), state.ModeHolding)
	require.NoError(t, err)
	require.NotNil(t, snap.Measured)
	assert.InDelta(t, 1.0, *snap.Measured, 1e-9)
	require.NotNil(t, snap.LastStatus)
	assert.Equal(t, "X00A0C3H1M10P03", snap.LastStatus.Raw)
	assert.False(t, snap.LastUpdated.IsZero())
	assert.NoError(t, f.monitor.Err())
}

func TestMonitor_AcceptedCommandsDriveRamp(t *testing.T) {
	f := newFixture(t)
	ctx := waitCtx(t)
	require.NoError(t, f.monitor.Start(context.Background()))
	_, err := f.monitor.WaitMode(ctx, state.ModeHolding)
	require.NoError(t, err)

	f.ips.set("X00A1C3H1M11P03", "+1.5000", "+2.0000")
	_, err = f.engine.Execute(ctx, codec.SetField(2), 0)
	require.NoError(t, err)

	snap, err := f.monitor.WaitMode(ctx, state.ModeRamping)
	require.NoError(t, err)
	require.NotNil(t, snap.Target)
	assert.InDelta(t, 2.0, *snap.Target, 1e-9)

	f.ips.set("X00A1C3H1M10P03", "+2.0000", "+2.0000")
	snap, err = f.monitor.WaitMode(ctx, state.ModeHolding)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, *snap.Measured, 1e-9)
}

func TestMonitor_CommunicationLoss(t *testing.T) {
	f := newFixture(t, state.WithFailureThreshold(3))
	ctx := waitCtx(t)
	require.NoError(t, f.monitor.Start(context.Background()))
	_, err := f.monitor.WaitMode(ctx, state.ModeHolding)
	require.NoError(t, err)

	f.ips.setDead(true)
	snap, err := f.monitor.WaitMode(ctx, state.ModeFault)
	require.NoError(t, err)
	assert.True(t, snap.CommLost)
	assert.GreaterOrEqual(t, snap.ConsecutiveFailures, 3)

	err = f.monitor.Err()
	require.ErrorIs(t, err, ErrCommunicationLost)
	assert.ErrorIs(t, err, engine.ErrCommunicationTimeout)

	f.ips.setDead(false)
	require.Eventually(t, func() bool {
		s := f.monitor.Snapshot()
		return !s.CommLost && s.ConsecutiveFailures == 0
	}, time.Second, 5*time.Millisecond, "polling continued")
	assert.Equal(t, state.ModeFault, f.monitor.Snapshot().Mode)
	require.ErrorIs(t, f.monitor.Err(), ErrInstrumentFault)

	_, err = f.engine.Execute(ctx, codec.ClearFault(), 0)
	require.NoError(t, err)
	_, err = f.monitor.WaitMode(ctx, state.ModeIdle, state.ModeHolding)
	require.NoError(t, err)
	assert.NoError(t, f.monitor.Err())
}

func TestMonitor_StatusFault(t *testing.T) {
	f := newFixture(t)
	f.ips.set("X10A0C3H1M10P03", "+0.0000", "+1.0000")
	require.NoError(t, f.monitor.Start(context.Background()))

	snap, err := f.monitor.WaitMode(waitCtx(t), state.ModeFault)
	require.NoError(t, err)
	assert.False(t, snap.CommLost)
	assert.Equal(t, "magnet quenched", snap.Fault)

	err = f.monitor.Err()
	require.ErrorIs(t, err, ErrInstrumentFault)
	assert.False(t, errors.Is(err, ErrCommunicationLost))
}

func TestMonitor_Subscribe(t *testing.T) {
	f := newFixture(t)
	events, cancel := f.monitor.Subscribe()
	require.NoError(t, f.monitor.Start(context.Background()))

	select {
	case ev := <-events:
		assert.Equal(t, state.ModeUnknown, ev.From)
		assert.Equal(t, state.ModeHolding, ev.To)
		assert.Equal(t, state.ModeHolding, ev.Snapshot.Mode)
	case <-time.After(2 * time.Second):
		t.Fatal("no transition event")
	}

	cancel()
	cancel()
	_, ok := <-events
	assert.False(t, ok, "channel closed by cancel")

	other, _ := f.monitor.Subscribe()
	f.monitor.Stop()
	_, ok = <-other
	assert.False(t, ok, "channel closed by Stop")
}

func TestMonitor_Refresh(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.monitor.Start(context.Background()))
	ctx := waitCtx(t)

	before := time.Now()
	snap, err := f.monitor.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, snap.LastUpdated.After(before))
}

func TestMonitor_Lifecycle(t *testing.T) {
	f := newFixture(t)

	_, err := f.monitor.WaitMode(waitCtx(t), state.ModeHolding)
	require.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, f.monitor.Start(context.Background()))
	require.ErrorIs(t, f.monitor.Start(context.Background()), ErrAlreadyStarted)

	f.monitor.Stop()
	f.monitor.Stop()

	_, err = f.monitor.WaitMode(waitCtx(t), state.ModeFault)
	require.ErrorIs(t, err, ErrNotRunning)

	writes := f.session.WriteCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, writes, f.session.WriteCount(), "no polls after Stop")
}

func TestMonitor_ContextCancelStops(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.monitor.Start(ctx))
	_, err := f.monitor.WaitMode(waitCtx(t), state.ModeHolding)
	require.NoError(t, err)

	cancel()
	_, err = f.monitor.WaitMode(waitCtx(t), state.ModeFault)
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestMonitor_WaitModeContext(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.monitor.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := f.monitor.WaitMode(ctx, state.ModePersistentTransition)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewConfig(t *testing.T) {
	_, err := NewConfig(time.Millisecond)
	require.Error(t, err)
	_, err = NewConfig(time.Second, WithTimeout(-1))
	require.Error(t, err)
	_, err = NewConfig(time.Second, WithSubscriberBuffer(0))
	require.Error(t, err)
	_, err = NewConfig(time.Second, WithLogger(nil))
	require.Error(t, err)

	cfg, err := NewConfig(time.Second, WithTimeout(time.Millisecond), WithSubscriberBuffer(4))
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.Interval())
	assert.Equal(t, time.Millisecond, cfg.Timeout())
	assert.Equal(t, 4, cfg.SubscriberBuffer())
}
