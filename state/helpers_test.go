package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-maglab/codec"
	"github.com/arloliu/go-maglab/logger"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	itcIdle     = "X0A0C3S00H1L0"
	itcAuto     = "X0A1C3S00H1L0"
	itcSweeping = "X0A1C3S01H1L0"

	ipsAtRest    = "X00A0C3H1M10P03"
	ipsSweeping  = "X00A1C3H1M11P03"
	ipsArrived   = "X00A1C3H1M10P03"
	ipsQuench    = "X10A0C3H1M10P03"
	ipsAtField   = "X00A0C3H2M10P03"
	ipsAtZero    = "X00A0C3H0M10P03"
	ipsHeaterOff = "X00A0C3H0M10P03"
)

func newMachine(t *testing.T, tol float64, polls int, opts ...Option) *Machine {
	t.Helper()

	cfg, err := NewConfig(tol, polls, append([]Option{WithLogger(logger.NewPermissiveMockLogger())}, opts...)...)
	require.NoError(t, err)

	return NewMachine(cfg)
}

func status(t *testing.T, g *codec.Grammar, raw string) codec.Status {
	t.Helper()

	st, err := g.ParseStatus(raw)
	require.NoError(t, err)

	return st
}

func ptr(v float64) *float64 { return &v }

// poll builds a Poll n seconds after t0.
func poll(t *testing.T, g *codec.Grammar, raw string, n int, measured, setpoint *float64) Poll {
	t.Helper()

	return Poll{
		At:       t0.Add(time.Duration(n) * time.Second),
		Status:   status(t, g, raw),
		Measured: measured,
		Setpoint: setpoint,
	}
}

// recorder collects transitions.
type recorder struct {
	transitions [][2]Mode
}

func (r *recorder) attach(m *Machine) {
	m.OnTransition(func(from, to Mode, _ Snapshot) {
		r.transitions = append(r.transitions, [2]Mode{from, to})
	})
}
