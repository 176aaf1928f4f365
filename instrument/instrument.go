// Package instrument opens a session with an Oxford Instruments controller
// and offers the control operations a measurement script needs: setting a
// field or temperature, waiting for the ramp to settle, persistent mode
// sequences and a safe close.
//
// An Instrument combines the protocol engine, the state machine and the
// background monitor for one resource. Every method is safe for concurrent
// use; commands are serialized by the engine and take priority over polls.
package instrument

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/arloliu/go-maglab/codec"
	"github.com/arloliu/go-maglab/engine"
	"github.com/arloliu/go-maglab/internal/timer"
	"github.com/arloliu/go-maglab/logger"
	"github.com/arloliu/go-maglab/monitor"
	"github.com/arloliu/go-maglab/state"
	"github.com/arloliu/go-maglab/transport"
)

// PersistentFieldChannel is the IPS reading of the field trapped in the magnet
// while the switch heater is off.
const PersistentFieldChannel = 18

// Instrument is an open controller session.
type Instrument struct {
	id       string
	resource string
	identity string
	cfg      *Config
	logger   logger.Logger

	session transport.Session
	engine  *engine.Engine
	monitor *monitor.Monitor
	cancel  context.CancelFunc

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open opens resourceID through opener, identifies the controller, puts it
// in remote unlocked control with the configured protocol and starts the
// background monitor. Open returns after the first poll completed.
//
// The session is closed when Open fails.
func Open(ctx context.Context, opener transport.Opener, resourceID string, cfg *Config) (*Instrument, error) {
	if opener == nil {
		return nil, errors.New("instrument: opener is nil")
	}
	if cfg == nil {
		return nil, errors.New("instrument: config is nil")
	}

	id := uuid.NewString()
	l := cfg.logger.With("instrument", id, "resource", resourceID)

	session, err := opener.Open(ctx, resourceID, cfg.timeout)
	if err != nil {
		return nil, err
	}

	inst := &Instrument{
		id:       id,
		resource: resourceID,
		cfg:      cfg,
		logger:   l,
		session:  session,
	}
	if err := inst.start(ctx); err != nil {
		l.Error("instrument: open failed", "error", err)
		return nil, multierr.Append(err, session.Close())
	}

	l.Info("instrument: opened", "model", inst.Model(), "identity", inst.identity)

	return inst, nil
}

func (i *Instrument) start(ctx context.Context) error {
	engineOpts, err := i.cfg.engineConfig()
	if err != nil {
		return err
	}
	engineOpts = append(engineOpts, engine.WithLogger(i.logger))

	g, err := i.identify(ctx, engineOpts)
	if err != nil {
		return err
	}

	i.engine, err = engine.New(i.session, g, engineOpts...)
	if err != nil {
		return err
	}

	setup := []codec.Command{
		codec.SetRemote(true, false),
		codec.SetProtocol(codec.ProtocolFor(i.cfg.extended, false)),
	}
	for _, cmd := range setup {
		if _, err := i.engine.Execute(ctx, cmd, 0); err != nil {
			return fmt.Errorf("instrument: initialize %s: %w", cmd, err)
		}
	}

	sc, err := i.cfg.stateConfig(i.logger)
	if err != nil {
		return err
	}
	mc, err := i.cfg.monitorConfig(i.logger)
	if err != nil {
		return err
	}
	i.monitor, err = monitor.New(i.engine, state.NewMachine(sc), mc)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	i.cancel = cancel
	if err := i.monitor.Start(runCtx); err != nil {
		cancel()
		return err
	}
	if _, err := i.monitor.Refresh(ctx); err != nil {
		i.monitor.Stop()
		cancel()
		return err
	}

	return nil
}

// identify sends V and picks the grammar the reply belongs to. V is common to
// the whole family, so any registered grammar can ask.
func (i *Instrument) identify(ctx context.Context, engineOpts []engine.Option) (*codec.Grammar, error) {
	name := i.cfg.model
	if name == "" {
		name = codec.Models()[0]
	}
	base, err := codec.Lookup(name)
	if err != nil {
		return nil, err
	}
	if base, err = base.WithAddress(i.cfg.address); err != nil {
		return nil, err
	}

	boot, err := engine.New(i.session, base, engineOpts...)
	if err != nil {
		return nil, err
	}
	v, err := boot.Execute(ctx, codec.Version(), 0)
	if err != nil {
		return nil, fmt.Errorf("instrument: identify: %w", err)
	}
	reply, _ := v.Enum()
	i.identity = reply.Symbol

	g := base
	if i.cfg.model != "" {
		if !base.Identify(i.identity) {
			return nil, fmt.Errorf("%w: %s answered %q", ErrModelMismatch, base.Model(), i.identity)
		}
	} else {
		detected, err := codec.Detect(i.identity)
		if err != nil {
			return nil, err
		}
		if g, err = detected.WithAddress(i.cfg.address); err != nil {
			return nil, err
		}
	}

	// the next engine does not know when the boot engine last wrote
	if err := timer.Sleep(ctx, i.cfg.turnaround); err != nil {
		return nil, err
	}

	return g.WithExtendedResolution(i.cfg.extended), nil
}

// ID returns the session id used in log records.
func (i *Instrument) ID() string { return i.id }

// Resource returns the resource id the instrument was opened with.
func (i *Instrument) Resource() string { return i.resource }

// Identity returns the version reply received on open.
func (i *Instrument) Identity() string { return i.identity }

// Model returns the model name of the grammar in use.
func (i *Instrument) Model() string { return i.engine.Grammar().Model() }

// Grammar returns the grammar in use.
func (i *Instrument) Grammar() *codec.Grammar { return i.engine.Grammar() }

// Engine returns the protocol engine.
func (i *Instrument) Engine() *engine.Engine { return i.engine }

// Monitor returns the background monitor.
func (i *Instrument) Monitor() *monitor.Monitor { return i.monitor }

// Snapshot returns the latest state.
func (i *Instrument) Snapshot() state.Snapshot { return i.monitor.Snapshot() }

// Err reports communication loss or an instrument fault.
func (i *Instrument) Err() error { return i.monitor.Err() }

// Execute sends cmd as a foreground exchange.
func (i *Instrument) Execute(ctx context.Context, cmd codec.Command) (codec.Value, error) {
	if i.closed.Load() {
		return codec.Value{}, ErrClosed
	}

	return i.engine.Execute(ctx, cmd, 0)
}

func (i *Instrument) run(ctx context.Context, cmds ...codec.Command) error {
	for _, cmd := range cmds {
		if _, err := i.Execute(ctx, cmd); err != nil {
			return err
		}
	}

	return nil
}

// Read returns numeric channel n.
func (i *Instrument) Read(ctx context.Context, n int) (codec.Numeric, error) {
	v, err := i.Execute(ctx, codec.Query(n))
	if err != nil {
		return codec.Numeric{}, err
	}
	num, _ := v.Numeric()

	return num, nil
}

// Status reads the status word.
func (i *Instrument) Status(ctx context.Context) (codec.Status, error) {
	v, err := i.Execute(ctx, codec.StatusQuery())
	if err != nil {
		return codec.Status{}, err
	}
	st, _ := v.Status()

	return st, nil
}

// Describe renders a status word as text.
func (i *Instrument) Describe(st codec.Status) []string {
	return i.engine.Grammar().Describe(st)
}

// SetField sets the target field and sweeps to it.
func (i *Instrument) SetField(ctx context.Context, tesla float64) error {
	return i.run(ctx, codec.SetField(tesla), codec.SweepTo(codec.SweepSetpoint))
}

// SetCurrent sets the target current and sweeps to it.
func (i *Instrument) SetCurrent(ctx context.Context, amps float64) error {
	return i.run(ctx, codec.SetCurrent(amps), codec.SweepTo(codec.SweepSetpoint))
}

// SetFieldRate sets the field sweep rate in tesla per minute.
func (i *Instrument) SetFieldRate(ctx context.Context, teslaPerMin float64) error {
	return i.run(ctx, codec.SetFieldRate(teslaPerMin))
}

// SetTemperature sets the target temperature.
func (i *Instrument) SetTemperature(ctx context.Context, kelvin float64) error {
	return i.run(ctx, codec.SetTemperature(kelvin))
}

// SweepTo sweeps the magnet to codec.SweepSetpoint or codec.SweepZero.
func (i *Instrument) SweepTo(ctx context.Context, target string) error {
	return i.run(ctx, codec.SweepTo(target))
}

// StartSweep runs the temperature sweep program from step.
func (i *Instrument) StartSweep(ctx context.Context, step int) error {
	return i.run(ctx, codec.SweepStep(step))
}

// Stop halts the output where it is: Hold on a magnet supply, Pause on a
// temperature controller.
func (i *Instrument) Stop(ctx context.Context) error {
	if i.engine.Grammar().Supports(codec.OpHold) {
		return i.run(ctx, codec.Hold())
	}

	return i.run(ctx, codec.Pause())
}

// Hold holds the magnet output.
func (i *Instrument) Hold(ctx context.Context) error { return i.run(ctx, codec.Hold()) }

// Pause stops the temperature sweep program.
func (i *Instrument) Pause(ctx context.Context) error { return i.run(ctx, codec.Pause()) }

// Clamp clamps the magnet output.
func (i *Instrument) Clamp(ctx context.Context) error { return i.run(ctx, codec.Clamp()) }

// ClearFault returns the instrument to remote control after the cause of a
// fault was removed. The next poll re-enters Fault if it persists.
func (i *Instrument) ClearFault(ctx context.Context) error {
	return i.run(ctx, codec.ClearFault())
}

// SetSwitchHeater turns the persistent switch heater on or off.
func (i *Instrument) SetSwitchHeater(ctx context.Context, on bool) error {
	return i.run(ctx, codec.SetSwitchHeater(on))
}

// Level reads the cryogen level of level meter channel n in percent. A level
// at or below the alarm threshold is logged as a warning.
func (i *Instrument) Level(ctx context.Context, n int) (codec.Numeric, error) {
	st, err := i.Status(ctx)
	if err != nil {
		return codec.Numeric{}, err
	}
	use, ok := codec.LevelUseOf(st, n)
	switch {
	case !ok:
		return codec.Numeric{}, fmt.Errorf("instrument: %s has no level channel %d", i.Model(), n)
	case use == codec.LevelUnused:
		return codec.Numeric{}, fmt.Errorf("%w: channel %d", ErrLevelChannelUnused, n)
	case use == codec.LevelError:
		return codec.Numeric{}, fmt.Errorf("%w: error on level channel %d", monitor.ErrInstrumentFault, n)
	}

	level, err := i.Read(ctx, n)
	if err != nil {
		return codec.Numeric{}, err
	}
	if use.Low(level.Value) {
		i.logger.Warn("instrument: low cryogen level", "channel", n, "cryogen", use.String(), "level", level.Value)
	}

	return level, nil
}

// SetNeedleValve moves the needle valve to percent open.
func (i *Instrument) SetNeedleValve(ctx context.Context, percent float64) error {
	return i.run(ctx, codec.SetGasFlow(percent))
}

// SetSampleRate switches the helium sensor of level channel n to fast or slow
// sampling.
func (i *Instrument) SetSampleRate(ctx context.Context, n int, fast bool) error {
	return i.run(ctx, codec.SetSampleRate(n, fast))
}

// WaitSettled waits until the output stopped changing: Holding after a ramp
// or heater change, or Idle. It fails when the instrument faults or
// communication is lost.
func (i *Instrument) WaitSettled(ctx context.Context) (state.Snapshot, error) {
	// the refreshed poll runs after every accepted command was applied
	if _, err := i.monitor.Refresh(ctx); err != nil {
		return state.Snapshot{}, err
	}
	snap, err := i.monitor.WaitMode(ctx, state.ModeHolding, state.ModeIdle, state.ModeFault)
	if err != nil {
		return snap, err
	}
	if snap.Mode == state.ModeFault {
		if err := i.monitor.Err(); err != nil {
			return snap, err
		}
		return snap, fmt.Errorf("%w: %s", monitor.ErrInstrumentFault, snap.Fault)
	}

	return snap, nil
}

// SetFieldVerified writes the target field, reads the setpoint back and
// sweeps only when the instrument holds the value written.
func (i *Instrument) SetFieldVerified(ctx context.Context, tesla float64) error {
	return i.setVerified(ctx, codec.SetField(tesla), tesla)
}

// SetCurrentVerified is SetFieldVerified for the target current.
func (i *Instrument) SetCurrentVerified(ctx context.Context, amps float64) error {
	return i.setVerified(ctx, codec.SetCurrent(amps), amps)
}

func (i *Instrument) setVerified(ctx context.Context, cmd codec.Command, want float64) error {
	if err := i.run(ctx, cmd); err != nil {
		return err
	}

	g := i.engine.Grammar()
	channel := g.SetpointQuery().Param(0).Int
	if cmd.Op() == codec.OpSetCurrent {
		channel = currentSetpointChannel
	}
	got, err := i.Read(ctx, channel)
	if err != nil {
		return err
	}
	if res := resolution(g, cmd.Op()); math.Abs(got.Value-want) > res/2+1e-9 {
		i.logger.Warn("instrument: setpoint readback mismatch", "cmd", cmd.String(), "readback", got.Value)
		return fmt.Errorf("%w: wrote %v, instrument reports %v", ErrReadbackMismatch, want, got.Value)
	}

	return i.run(ctx, codec.SweepTo(codec.SweepSetpoint))
}

const currentSetpointChannel = 5

// resolution returns the smallest step op's first parameter is written with.
func resolution(g *codec.Grammar, op codec.Opcode) float64 {
	rule, ok := g.Rule(op)
	if !ok || len(rule.Params) == 0 {
		return 0
	}
	format := rule.Params[0].Format
	if g.ExtendedResolution() && rule.Params[0].FormatExtended != "" {
		format = rule.Params[0].FormatExtended
	}
	dot := strings.LastIndexByte(format, '.')
	if dot < 0 || !strings.HasSuffix(format, "f") {
		return 0
	}
	digits := 0
	for _, c := range format[dot+1 : len(format)-1] {
		if c < '0' || c > '9' {
			return 0
		}
		digits = digits*10 + int(c-'0')
	}

	return math.Pow10(-digits)
}

// SetPersistentField leaves the magnet persistent at tesla.
//
// If the switch heater is off, the supply is first matched to the field
// trapped in the magnet and the heater is turned on. The magnet is then swept
// to tesla, the heater turned off and the leads swept to zero. The returned
// snapshot is taken after the heater cooled, before the leads reach zero.
func (i *Instrument) SetPersistentField(ctx context.Context, tesla float64) (state.Snapshot, error) {
	g := i.engine.Grammar()
	if !g.Supports(codec.OpSetSwitchHeater) {
		return state.Snapshot{}, fmt.Errorf("%w: %s", ErrNoSwitchHeater, g.Model())
	}

	st, err := i.Status(ctx)
	if err != nil {
		return state.Snapshot{}, err
	}
	switch st.Flags.Heater {
	case codec.HeaterNotFitted, codec.HeaterNotApplicable:
		return state.Snapshot{}, fmt.Errorf("%w: %s", ErrNoSwitchHeater, g.Model())
	case codec.HeaterFault:
		return state.Snapshot{}, fmt.Errorf("%w: %s", monitor.ErrInstrumentFault, st.Flags.FaultReason)
	}

	if st.Flags.Heater != codec.HeaterOn {
		if err := i.matchPersistent(ctx, st); err != nil {
			return state.Snapshot{}, err
		}
		if err := i.SetSwitchHeater(ctx, true); err != nil {
			return state.Snapshot{}, err
		}
		if _, err := i.WaitSettled(ctx); err != nil {
			return state.Snapshot{}, err
		}
	}

	if err := i.SetField(ctx, tesla); err != nil {
		return state.Snapshot{}, err
	}
	if _, err := i.WaitSettled(ctx); err != nil {
		return state.Snapshot{}, err
	}

	if err := i.SetSwitchHeater(ctx, false); err != nil {
		return state.Snapshot{}, err
	}
	snap, err := i.WaitSettled(ctx)
	if err != nil {
		return snap, err
	}

	i.logger.Info("instrument: magnet persistent", "field", tesla)

	return snap, i.SweepTo(ctx, codec.SweepZero)
}

// matchPersistent sweeps the leads to the persistent field so the heater can
// be turned on without a current step.
func (i *Instrument) matchPersistent(ctx context.Context, st codec.Status) error {
	persistent, err := i.Read(ctx, PersistentFieldChannel)
	if err != nil {
		return err
	}
	setpoint, err := i.Read(ctx, i.engine.Grammar().SetpointQuery().Param(0).Int)
	if err != nil {
		return err
	}
	if activity, _ := st.Field("A"); setpoint.Value == persistent.Value && activity == 1 {
		return nil
	}

	if err := i.SetField(ctx, persistent.Value); err != nil {
		return err
	}
	_, err = i.WaitSettled(ctx)

	return err
}

// Close stops the monitor, runs the model's shutdown sequence unless
// disabled, and closes the session once no exchange is in flight. When ctx
// ends first the session is closed anyway. Errors of every step are combined.
func (i *Instrument) Close(ctx context.Context) error {
	i.closeOnce.Do(func() {
		i.closed.Store(true)
		i.monitor.Stop()
		i.cancel()

		var err error
		if i.cfg.safeShutdown {
			for _, cmd := range i.engine.Grammar().Shutdown() {
				if _, e := i.engine.Execute(ctx, cmd, 0); e != nil {
					i.logger.Warn("instrument: shutdown step failed", "cmd", cmd.String(), "error", e)
					err = multierr.Append(err, e)
				}
			}
		}
		closed := false
		e := i.engine.Exclusive(ctx, func() error {
			closed = true
			return i.session.Close()
		})
		if !closed {
			i.logger.Warn("instrument: closing with an exchange in flight", "error", e)
			e = multierr.Append(e, i.session.Close())
		}
		err = multierr.Append(err, e)
		i.closeErr = err

		i.logger.Info("instrument: closed")
	})

	return i.closeErr
}
