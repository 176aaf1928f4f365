package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	ips := IPS120()
	itc := ITC503()
	ext := ips.WithExtendedResolution(true)
	isobus, err := ips.WithAddress(2)
	require.NoError(t, err)

	tests := []struct {
		name string
		g    *Grammar
		cmd  Command
		want string
	}{
		{"field", ips, SetField(1.5), "J+1.5000\r"},
		{"field extended", ext, SetField(1.5), "J+1.50000\r"},
		{"negative field", ips, SetField(-6.25), "J-6.2500\r"},
		{"field isobus", isobus, SetField(0), "@2J+0.0000\r"},
		{"current", ips, SetCurrent(98.46), "I+98.460\r"},
		{"current extended", ext, SetCurrent(-12.5), "I-12.5000\r"},
		{"field rate", ips, SetFieldRate(0.25), "T+0.250\r"},
		{"current rate", ips, SetCurrentRate(16.88), "S+16.880\r"},
		{"sweep to setpoint", ips, SweepTo(SweepSetpoint), "A1\r"},
		{"sweep to zero", ips, SweepTo(SweepZero), "A2\r"},
		{"hold", ips, Hold(), "A0\r"},
		{"clamp", ips, Clamp(), "A4\r"},
		{"heater on", ips, SetSwitchHeater(true), "H1\r"},
		{"heater off", ips, SetSwitchHeater(false), "H0\r"},
		{"query", ips, Query(7), "R7\r"},
		{"status", ips, StatusQuery(), "X\r"},
		{"version", itc, Version(), "V\r"},
		{"remote unlocked", ips, SetRemote(true, false), "C3\r"},
		{"local locked", itc, SetRemote(false, true), "C0\r"},
		{"clear fault", itc, ClearFault(), "C3\r"},
		{"protocol", ips, NewCommand(OpSetProtocol, Int(4)), "Q4\r"},
		{"temperature", itc, SetTemperature(4.2), "T4.2\r"},
		{"temperature max", itc, SetTemperature(420), "T420\r"},
		{"sweep step", itc, SweepStep(3), "S3\r"},
		{"pause", itc, Pause(), "S0\r"},
		{"control mode", itc, SetControlMode(true, false), "A1\r"},
		{"gas flow", itc, SetGasFlow(12.5), "G12.5\r"},
		{"auto pid", itc, NewCommand(OpSetAutoPID, Bool(true)), "L1\r"},
		{"proportional band", itc, NewCommand(OpSetProportionalBand, Float(5)), "P5\r"},
		{"integral time", itc, SetIntegralTime(1.5), "I1.5\r"},
		{"unlock", ips, Unlock(1234), "U1234\r"},
		{"wait", itc, SetWait(20), "W20\r"},
		{"polarity", ips, SetPolarity(4), "P4\r"},
		{"sweep mode", ips, SetSweepMode(9), "M9\r"},
		{"control sensor", itc, SetControlSensor(2), "H2\r"},
		{"extended protocol", ips, SetProtocol(ProtocolFor(true, false)), "Q4\r"},
		{"line feed protocol", itc, SetProtocol(ProtocolFor(false, true)), "Q2\r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.g.Encode(tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncode_Validation(t *testing.T) {
	ips := IPS120()
	itc := ITC503()

	tests := []struct {
		name string
		g    *Grammar
		cmd  Command
		want error
	}{
		{"field above limit", ips, SetField(7.0001), ErrOutOfRange},
		{"field below limit", ips, SetField(-7.5), ErrOutOfRange},
		{"field NaN", ips, SetField(math.NaN()), ErrOutOfRange},
		{"field Inf", ips, SetField(math.Inf(1)), ErrOutOfRange},
		{"current", ips, SetCurrent(98.47), ErrOutOfRange},
		{"field rate", ips, SetFieldRate(1.3), ErrOutOfRange},
		{"unknown channel", ips, Query(3), ErrOutOfRange},
		{"sweep symbol", ips, SweepTo("halfway"), ErrOutOfRange},
		{"sweep mode", ips, NewCommand(OpSetSweepMode, Int(2)), ErrOutOfRange},
		{"temperature", itc, SetTemperature(-1), ErrOutOfRange},
		{"sweep step", itc, SweepStep(33), ErrOutOfRange},
		{"heater percent", itc, SetHeaterOutput(100.1), ErrOutOfRange},
		{"proportional band", itc, NewCommand(OpSetProportionalBand, Float(4.9)), ErrOutOfRange},
		{"remote mode", itc, NewCommand(OpSetRemote, Int(4)), ErrOutOfRange},
		{"unlock key", itc, NewCommand(OpUnlock, Int(10000)), ErrOutOfRange},
		{"missing param", ips, NewCommand(OpSetField), ErrBadParams},
		{"extra param", ips, NewCommand(OpHold, Int(1)), ErrBadParams},
		{"wrong kind", ips, NewCommand(OpSetField, Int(1)), ErrBadParams},
		{"ips has no pause", ips, Pause(), ErrUnsupported},
		{"itc has no field", itc, SetField(1), ErrUnsupported},
		{"itc has no hold", itc, Hold(), ErrUnsupported},
		{"unknown opcode", ips, NewCommand(Opcode(200)), ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := tt.g.Encode(tt.cmd)
			require.Error(t, err)
			assert.Empty(t, wire)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsValidation(err))

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.cmd.Op(), ve.Op)
			assert.Equal(t, tt.g.Model(), ve.Model)
		})
	}

	_, err := ips.WithAddress(9)
	require.Error(t, err)
}

func TestDecode(t *testing.T) {
	ips := IPS120()
	itc := ITC503()

	t.Run("numeric", func(t *testing.T) {
		for raw, want := range map[string]float64{
			"R+1.50000":  1.5,
			"R-0.0012":   -0.0012,
			"R1.2E-3":    0.0012,
			"R7\r":       7,
			"@2R+4.2000": 4.2,
			"R+.5":       0.5,
		} {
			v, err := ips.Decode(Query(7), []byte(raw))
			require.NoError(t, err, raw)
			n, ok := v.Numeric()
			require.True(t, ok, raw)
			assert.InDelta(t, want, n.Value, 1e-12, raw)
			assert.Equal(t, UnitTesla, n.Unit)

			_, ok = v.Enum()
			assert.False(t, ok, "exactly one variant")
		}
	})

	t.Run("numeric with unit token", func(t *testing.T) {
		v, err := itc.Decode(Query(1), []byte("R4.200K"))
		require.NoError(t, err)
		n, _ := v.Numeric()
		assert.Equal(t, Numeric{Value: 4.2, Unit: UnitKelvin}, n)
	})

	t.Run("ack", func(t *testing.T) {
		v, err := ips.Decode(SetField(1), []byte("J"))
		require.NoError(t, err)
		e, ok := v.Enum()
		require.True(t, ok)
		assert.Equal(t, "J", e.Symbol)
	})

	t.Run("error reply", func(t *testing.T) {
		v, err := ips.Decode(SetField(1), []byte("?J+1.0000"))
		require.NoError(t, err)
		assert.Equal(t, KindErrorReply, v.Kind())
		e, ok := v.ErrorReply()
		require.True(t, ok)
		assert.Equal(t, "J+1.0000", e.Code)
		assert.NotEmpty(t, e.Message)
	})

	t.Run("version", func(t *testing.T) {
		v, err := itc.Decode(Version(), []byte("ITC503  Version 1.10 (c) OXFORD 1997 "))
		require.NoError(t, err)
		e, _ := v.Enum()
		assert.Equal(t, "ITC503  Version 1.10 (c) OXFORD 1997", e.Symbol)
	})

	t.Run("ips status", func(t *testing.T) {
		v, err := ips.Decode(StatusQuery(), []byte("X00A1C3H1M11P03"))
		require.NoError(t, err)
		st, ok := v.Status()
		require.True(t, ok)
		assert.Equal(t, "X00A1C3H1M11P03", st.Raw)
		assert.Equal(t, map[string]int{
			"Xm": 0, "Xn": 0, "A": 1, "C": 3, "H": 1, "Mm": 1, "Mn": 1, "Pm": 0, "Pn": 3,
		}, st.Fields)
		assert.Equal(t, StatusFlags{Sweeping: true, Driving: true, Remote: true, Heater: HeaterOn}, st.Flags)
	})

	t.Run("ips quench", func(t *testing.T) {
		st, err := ips.ParseStatus("X10A0C3H1M10P03")
		require.NoError(t, err)
		assert.True(t, st.Flags.Fault)
		assert.Equal(t, "magnet quenched", st.Flags.FaultReason)
	})

	t.Run("ips heater fault", func(t *testing.T) {
		st, err := ips.ParseStatus("X00A0C3H5M10P03")
		require.NoError(t, err)
		assert.True(t, st.Flags.Fault)
		assert.Equal(t, HeaterFault, st.Flags.Heater)
	})

	t.Run("itc status", func(t *testing.T) {
		v, err := itc.Decode(StatusQuery(), []byte("X0A1C3S03H1L0"))
		require.NoError(t, err)
		st, _ := v.Status()
		assert.Equal(t, 3, st.Fields["S"])
		assert.True(t, st.Flags.Sweeping)
		assert.True(t, st.Flags.Driving)
		assert.False(t, st.Flags.Fault)
		assert.Equal(t, HeaterNotApplicable, st.Flags.Heater)
	})
}

func TestDecode_ParseErrors(t *testing.T) {
	ips := IPS120()

	tests := []struct {
		name string
		cmd  Command
		raw  string
	}{
		{"empty", Query(7), ""},
		{"only terminator", Query(7), "\r\n"},
		{"echo only", Query(7), "R"},
		{"non numeric", Query(7), "Rabc"},
		{"wrong echo", Query(7), "J+1.0"},
		{"wrong unit", Query(7), "R+1.0V"},
		{"embedded control", Query(7), "R+1.0\x00"},
		{"embedded terminator", Query(7), "R+1.0\rR+2.0"},
		{"bad isobus prefix", Query(7), "@R+1.0"},
		{"truncated isobus", Query(7), "@3"},
		{"ack wrong echo", SetField(1), "I"},
		{"status truncated", StatusQuery(), "X00A1C3"},
		{"status wrong letter", StatusQuery(), "X00B1C3H1M10P03"},
		{"status non digit", StatusQuery(), "X0aA1C3H1M10P03"},
		{"status trailing", StatusQuery(), "X00A1C3H1M10P031"},
		{"status missing echo", StatusQuery(), "00A1C3H1M10P03"},
		{"no reply command", NewCommand(OpSetProtocol, Int(0)), "Q"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ips.Decode(tt.cmd, []byte(tt.raw))
			require.Error(t, err)
			assert.True(t, IsParse(err))
			assert.Zero(t, v.Kind())

			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.raw, pe.Raw)
		})
	}
}

func TestGrammar_Polling(t *testing.T) {
	ips := IPS120()
	assert.Equal(t, Query(7), ips.MeasuredQuery())
	assert.Equal(t, Query(8), ips.SetpointQuery())

	itc := ITC503()
	assert.Equal(t, Query(1), itc.MeasuredQuery())
	assert.Equal(t, Query(0), itc.SetpointQuery())

	assert.False(t, ips.ExpectsReply(NewCommand(OpSetProtocol, Int(0))))
	assert.True(t, ips.ExpectsReply(StatusQuery()))

	shutdown := ips.Shutdown()
	require.Len(t, shutdown, 3)
	assert.Equal(t, OpSetSwitchHeater, shutdown[0].Op())
	shutdown[0] = Hold()
	assert.Equal(t, OpSetSwitchHeater, ips.Shutdown()[0].Op(), "shutdown is copied")
}

func TestGrammar_Describe(t *testing.T) {
	ips := IPS120()
	st, err := ips.ParseStatus("X00A1C3H2M10P03")
	require.NoError(t, err)
	lines := ips.Describe(st)
	assert.Contains(t, lines, "Output is sweeping TO SET POINT.")
	assert.Contains(t, lines, "Switch heater OFF, magnet at field.")
	assert.Contains(t, lines, "Control: REMOTE and UNLOCKED.")

	itc := ITC503()
	st, err = itc.ParseStatus("X0A3C1S04H2L1")
	require.NoError(t, err)
	lines = itc.Describe(st)
	assert.Contains(t, lines, "Holding step 2 set temperature.")
	assert.Contains(t, lines, "Heater AUTO, gas flow AUTO.")
	assert.Contains(t, lines, "Auto PIDs enabled.")
}

func TestNewGrammar_Errors(t *testing.T) {
	status := []StatusGroup{{Letter: 'X', Digits: []StatusDigit{{"X", 1}}}}
	classify := func(*Status) StatusFlags { return StatusFlags{} }
	channels := map[int]Channel{1: {"level", UnitPercent}}

	_, err := NewGrammar(GrammarSpec{})
	require.Error(t, err)

	_, err = NewGrammar(GrammarSpec{Model: "TESTLM", Channels: channels})
	require.Error(t, err, "status layout required")

	_, err = NewGrammar(GrammarSpec{
		Model: "TESTLM", Channels: channels, Status: status, Classify: classify,
		MeasuredChannel: 1, SetpointChannel: 2,
	})
	require.Error(t, err, "setpoint channel undefined")

	_, err = NewGrammar(GrammarSpec{
		Model: "TESTLM", Channels: channels, Status: status, Classify: classify,
		MeasuredChannel: 1, SetpointChannel: 1,
		Rules: map[Opcode]Rule{OpHold: {}},
	})
	require.Error(t, err, "incomplete rule")
}
