package state

import (
	"math"
	"time"

	"github.com/arloliu/go-maglab/codec"
	"github.com/arloliu/go-maglab/logger"
)

// Poll is the outcome of one successful status poll. Measured and Setpoint
// are nil when their queries failed.
type Poll struct {
	At       time.Time
	Status   codec.Status
	Measured *float64
	Setpoint *float64
}

// TransitionFunc is called after every mode change.
type TransitionFunc func(from, to Mode, snap Snapshot)

// Machine infers the instrument mode from accepted commands and polls.
//
// A Machine is not safe for concurrent use. It is meant to be owned by a
// single goroutine, normally the monitor's, which publishes snapshots.
type Machine struct {
	cfg    *Config
	logger logger.Logger
	snap   Snapshot

	// prev is the measured value of the previous poll of the current ramp.
	prev      *float64
	converged int

	holdPending bool

	heaterOn       bool
	heaterDeadline time.Time
	// rampPending is a ramp accepted during a heater transition; it starts
	// once the heater settled.
	rampPending bool

	listeners []TransitionFunc
}

// NewMachine returns a Machine in ModeUnknown.
func NewMachine(cfg *Config) *Machine {
	return &Machine{cfg: cfg, logger: cfg.GetLogger()}
}

// Config returns the machine configuration.
func (m *Machine) Config() *Config { return m.cfg }

// Mode returns the current mode.
func (m *Machine) Mode() Mode { return m.snap.Mode }

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() Snapshot { return m.snap.clone() }

// OnTransition registers fn to be called after every mode change.
func (m *Machine) OnTransition(fn TransitionFunc) {
	m.listeners = append(m.listeners, fn)
}

// ObserveAccepted applies a command the instrument acknowledged at time at.
func (m *Machine) ObserveAccepted(cmd codec.Command, at time.Time) {
	op := cmd.Op()

	if m.snap.Mode == ModeFault {
		if op == codec.OpClearFault {
			m.snap.Fault = ""
			m.snap.CommLost = false
			m.snap.ConsecutiveFailures = 0
			m.snap.Target = nil
			m.setMode(ModeIdle)
		}
		return
	}

	switch {
	case op.StartsRamp() && m.snap.Mode == ModePersistentTransition:
		m.setTarget(cmd)
		m.rampPending = true
	case op.StartsRamp():
		m.startRamp(cmd)
	case op == codec.OpHold || op == codec.OpPause:
		switch m.snap.Mode {
		case ModeRamping:
			m.holdPending = true
		case ModePersistentTransition:
			m.rampPending = false
		}
	case op == codec.OpClamp:
		m.snap.Target = nil
		m.rampPending = false
		m.setMode(ModeIdle)
	case op == codec.OpSetSwitchHeater:
		m.heaterOn = cmd.Param(0).Bool
		m.heaterDeadline = at.Add(m.cfg.settle)
		m.setMode(ModePersistentTransition)
	}
}

func (m *Machine) startRamp(cmd codec.Command) {
	m.setTarget(cmd)
	m.resetRamp()
	m.setMode(ModeRamping)
}

func (m *Machine) setTarget(cmd codec.Command) {
	if v, ok := cmd.Target(); ok {
		m.snap.Target = &v
	} else if cmd.NumParams() == 1 {
		switch p := cmd.Param(0); {
		case p.Kind == codec.KindSymbol && p.Symbol == codec.SweepZero:
			zero := 0.0
			m.snap.Target = &zero
		case p.Kind == codec.KindInt:
			// a sweep program step; its setpoint is only known from polls
			m.snap.Target = nil
		}
	}
}

func (m *Machine) resetRamp() {
	m.prev = nil
	m.converged = 0
	m.holdPending = false
	m.rampPending = false
}

// ObservePoll applies a successful status poll.
func (m *Machine) ObservePoll(p Poll) {
	st := p.Status
	m.snap.LastUpdated = p.At
	m.snap.ConsecutiveFailures = 0
	m.snap.CommLost = false
	m.snap.LastStatus = cloneStatus(&st)
	m.snap.Measured = cloneFloat(p.Measured)
	if p.Setpoint != nil {
		m.snap.Setpoint = cloneFloat(p.Setpoint)
	}

	if st.Flags.Fault {
		m.enterFault(st.Flags.FaultReason)
		return
	}

	switch m.snap.Mode {
	case ModeUnknown:
		m.rederive(st)

	case ModeRamping:
		if m.holdPending && !st.Flags.Sweeping {
			m.setMode(ModeHolding)
			return
		}
		if m.convergedPoll(st) {
			m.converged++
		} else {
			m.converged = 0
		}
		m.prev = cloneFloat(m.snap.Measured)
		if m.converged >= m.cfg.convergencePolls {
			m.setMode(ModeHolding)
		}

	case ModePersistentTransition:
		if st.Flags.Heater.Matches(m.heaterOn) && !p.At.Before(m.heaterDeadline) {
			if m.rampPending {
				m.resetRamp()
				m.setMode(ModeRamping)
				return
			}
			if st.Flags.Heater == codec.HeaterOffAtZero {
				m.setMode(ModeIdle)
			} else {
				m.setMode(ModeHolding)
			}
		}
	}
}

// rederive picks a mode from a status alone, after the mode became Unknown.
func (m *Machine) rederive(st codec.Status) {
	m.resetRamp()
	switch {
	case st.Flags.Sweeping:
		m.prev = cloneFloat(m.snap.Measured)
		m.setMode(ModeRamping)
	case m.withinTolerance():
		m.setMode(ModeHolding)
	case st.Flags.Driving:
		m.prev = cloneFloat(m.snap.Measured)
		m.setMode(ModeRamping)
	default:
		m.setMode(ModeIdle)
	}
}

func (m *Machine) goal() *float64 {
	if m.snap.Target != nil {
		return m.snap.Target
	}

	return m.snap.Setpoint
}

func (m *Machine) withinTolerance() bool {
	goal, meas := m.goal(), m.snap.Measured
	if goal == nil || meas == nil {
		return false
	}

	return math.Abs(*meas-*goal) <= m.cfg.tolerance
}

// convergedPoll reports whether the latest poll is within tolerance of the
// goal and has stopped moving since the previous poll of the ramp.
func (m *Machine) convergedPoll(st codec.Status) bool {
	if st.Flags.Sweeping || !m.withinTolerance() {
		return false
	}
	if m.prev == nil {
		return true
	}

	return math.Abs(*m.snap.Measured-*m.prev) <= m.cfg.tolerance
}

// ObserveFailure records a failed exchange. Communication is lost once the
// failure threshold is reached.
func (m *Machine) ObserveFailure() {
	m.snap.ConsecutiveFailures++
	if m.snap.ConsecutiveFailures >= m.cfg.failureThreshold && !m.snap.CommLost {
		m.snap.CommLost = true
		m.enterFault("communication lost")
	}
}

// ObserveStale switches to ModeUnknown when the last status is older than
// the staleness window at now. It reports whether the mode changed. A fault
// is kept.
func (m *Machine) ObserveStale(now time.Time) bool {
	switch m.snap.Mode {
	case ModeUnknown, ModeFault:
		return false
	}
	if m.snap.LastUpdated.IsZero() || now.Sub(m.snap.LastUpdated) <= m.cfg.staleness {
		return false
	}
	m.setMode(ModeUnknown)

	return true
}

func (m *Machine) enterFault(reason string) {
	if m.snap.Mode == ModeFault {
		return
	}
	m.snap.Fault = reason
	m.resetRamp()
	m.setMode(ModeFault)
}

func (m *Machine) setMode(to Mode) {
	from := m.snap.Mode
	if from == to {
		return
	}
	m.snap.Mode = to
	m.logger.Info("state: transition", "from", from.String(), "to", to.String(), "fault", m.snap.Fault)

	if len(m.listeners) == 0 {
		return
	}
	snap := m.snap.clone()
	for _, fn := range m.listeners {
		fn(from, to, snap)
	}
}
