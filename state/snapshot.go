package state

import (
	"maps"
	"time"

	"github.com/arloliu/go-maglab/codec"
)

// Snapshot is an immutable copy of a Machine's state.
type Snapshot struct {
	Mode Mode
	// Target is the value being ramped to, taken from the accepted command
	// or, when none is known, from the polled setpoint.
	Target *float64
	// Setpoint is the setpoint the instrument last reported.
	Setpoint *float64
	Measured *float64

	LastUpdated         time.Time
	ConsecutiveFailures int
	LastStatus          *codec.Status
	CommLost            bool
	// Fault describes why the machine is in ModeFault.
	Fault string
}

// Age returns how long ago the last successful poll was, or -1 if there was
// none.
func (s Snapshot) Age(now time.Time) time.Duration {
	if s.LastUpdated.IsZero() {
		return -1
	}

	return now.Sub(s.LastUpdated)
}

func (s Snapshot) clone() Snapshot {
	s.Target = cloneFloat(s.Target)
	s.Setpoint = cloneFloat(s.Setpoint)
	s.Measured = cloneFloat(s.Measured)
	s.LastStatus = cloneStatus(s.LastStatus)

	return s
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p

	return &v
}

func cloneStatus(st *codec.Status) *codec.Status {
	if st == nil {
		return nil
	}
	c := *st
	c.Fields = maps.Clone(st.Fields)

	return &c
}
