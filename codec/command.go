package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// ParamKind is the type of a command parameter.
type ParamKind uint8

const (
	KindFloat ParamKind = iota + 1
	KindInt
	KindBool
	KindSymbol
)

func (k ParamKind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindSymbol:
		return "symbol"
	default:
		return "ParamKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Param is a typed scalar command parameter.
type Param struct {
	Kind   ParamKind
	Float  float64
	Int    int
	Bool   bool
	Symbol string
}

// Float returns a float parameter.
func Float(v float64) Param { return Param{Kind: KindFloat, Float: v} }

// Int returns an integer parameter.
func Int(v int) Param { return Param{Kind: KindInt, Int: v} }

// Bool returns a boolean parameter.
func Bool(v bool) Param { return Param{Kind: KindBool, Bool: v} }

// Symbol returns a symbolic parameter.
func Symbol(s string) Param { return Param{Kind: KindSymbol, Symbol: s} }

func (p Param) String() string {
	switch p.Kind {
	case KindFloat:
		return strconv.FormatFloat(p.Float, 'g', -1, 64)
	case KindInt:
		return strconv.Itoa(p.Int)
	case KindBool:
		return strconv.FormatBool(p.Bool)
	case KindSymbol:
		return p.Symbol
	default:
		return "?"
	}
}

// Command is an opcode with its ordered parameters. A Command is immutable
// once built.
type Command struct {
	op     Opcode
	params []Param
}

// NewCommand builds a command. Parameters are copied.
func NewCommand(op Opcode, params ...Param) Command {
	return Command{op: op, params: append([]Param(nil), params...)}
}

// Op returns the opcode.
func (c Command) Op() Opcode { return c.op }

// NumParams returns the number of parameters.
func (c Command) NumParams() int { return len(c.params) }

// Param returns the i-th parameter.
func (c Command) Param(i int) Param { return c.params[i] }

// Params returns a copy of the parameters.
func (c Command) Params() []Param { return append([]Param(nil), c.params...) }

// Target returns the float target carried by a setpoint command.
func (c Command) Target() (float64, bool) {
	if len(c.params) == 0 || c.params[0].Kind != KindFloat {
		return 0, false
	}

	return c.params[0].Float, true
}

func (c Command) String() string {
	if len(c.params) == 0 {
		return c.op.String()
	}
	parts := make([]string, len(c.params))
	for i, p := range c.params {
		parts[i] = p.String()
	}

	return fmt.Sprintf("%s(%s)", c.op, strings.Join(parts, ", "))
}

// Sweep targets accepted by SweepTo on the magnet supply.
const (
	SweepSetpoint = "setpoint"
	SweepZero     = "zero"
)

// Query reads numeric channel n.
func Query(n int) Command { return NewCommand(OpQuery, Int(n)) }

// StatusQuery reads the status word.
func StatusQuery() Command { return NewCommand(OpStatus) }

// Version reads the identity string.
func Version() Command { return NewCommand(OpVersion) }

// SetRemote selects remote or local control and the front panel lock.
func SetRemote(remote, locked bool) Command {
	mode := 0
	if remote {
		mode |= 1
	}
	if !locked {
		mode |= 2
	}

	return NewCommand(OpSetRemote, Int(mode))
}

// ClearFault requests remote unlocked control after a fault was resolved.
func ClearFault() Command { return NewCommand(OpClearFault) }

// SetField sets the magnet target field in tesla.
func SetField(tesla float64) Command { return NewCommand(OpSetField, Float(tesla)) }

// SetCurrent sets the magnet target current in ampere.
func SetCurrent(amps float64) Command { return NewCommand(OpSetCurrent, Float(amps)) }

// SetFieldRate sets the field sweep rate in tesla per minute.
func SetFieldRate(teslaPerMin float64) Command { return NewCommand(OpSetFieldRate, Float(teslaPerMin)) }

// SetCurrentRate sets the current sweep rate in ampere per minute.
func SetCurrentRate(ampsPerMin float64) Command {
	return NewCommand(OpSetCurrentRate, Float(ampsPerMin))
}

// SetTemperature sets the target temperature in kelvin.
func SetTemperature(kelvin float64) Command { return NewCommand(OpSetTemperature, Float(kelvin)) }

// SweepTo starts a magnet sweep to SweepSetpoint or SweepZero.
func SweepTo(target string) Command { return NewCommand(OpSweepTo, Symbol(target)) }

// SweepStep starts a temperature sweep program at step n.
func SweepStep(n int) Command { return NewCommand(OpSweepTo, Int(n)) }

// Hold holds the magnet output at its present value.
func Hold() Command { return NewCommand(OpHold) }

// Pause stops a temperature sweep program.
func Pause() Command { return NewCommand(OpPause) }

// Clamp clamps the magnet output.
func Clamp() Command { return NewCommand(OpClamp) }

// SetSwitchHeater turns the persistent switch heater on or off.
func SetSwitchHeater(on bool) Command { return NewCommand(OpSetSwitchHeater, Bool(on)) }

// SetHeaterOutput sets the manual heater output in percent.
func SetHeaterOutput(percent float64) Command {
	return NewCommand(OpSetHeaterOutput, Float(percent))
}

// SetGasFlow sets the manual needle valve opening in percent.
func SetGasFlow(percent float64) Command { return NewCommand(OpSetGasFlow, Float(percent)) }

// SetControlMode selects automatic heater and gas flow control.
func SetControlMode(autoHeater, autoGas bool) Command {
	mode := 0
	if autoHeater {
		mode |= 1
	}
	if autoGas {
		mode |= 2
	}

	return NewCommand(OpSetControlMode, Int(mode))
}

// Unlock enables system commands with key.
func Unlock(key int) Command { return NewCommand(OpUnlock, Int(key)) }

// SetWait sets the delay between characters the instrument sends, in
// milliseconds.
func SetWait(ms int) Command { return NewCommand(OpSetWait, Int(ms)) }

// ProtocolFor returns the communication protocol number for the given reply
// options.
func ProtocolFor(extended, lineFeed bool) int {
	n := 0
	if lineFeed {
		n |= 2
	}
	if extended {
		n |= 4
	}

	return n
}

// SetProtocol selects the communication protocol. The instrument does not
// reply.
func SetProtocol(n int) Command { return NewCommand(OpSetProtocol, Int(n)) }

// SetSweepMode selects the magnet display units and sweep profile.
func SetSweepMode(mode int) Command { return NewCommand(OpSetSweepMode, Int(mode)) }

// SetPolarity changes the magnet polarity.
func SetPolarity(p int) Command { return NewCommand(OpSetPolarity, Int(p)) }

// SetControlSensor selects the sensor the heater regulates on.
func SetControlSensor(n int) Command { return NewCommand(OpSetControlSensor, Int(n)) }

// SetAutoPID enables or disables the learned PID table.
func SetAutoPID(on bool) Command { return NewCommand(OpSetAutoPID, Bool(on)) }

// SetProportionalBand sets the P term in kelvin.
func SetProportionalBand(kelvin float64) Command {
	return NewCommand(OpSetProportionalBand, Float(kelvin))
}

// SetIntegralTime sets the I term in minutes.
func SetIntegralTime(minutes float64) Command {
	return NewCommand(OpSetIntegralTime, Float(minutes))
}

// SetDerivativeTime sets the D term in minutes.
func SetDerivativeTime(minutes float64) Command {
	return NewCommand(OpSetDerivativeTime, Float(minutes))
}

// SetMaxHeaterVoltage limits the heater output voltage.
func SetMaxHeaterVoltage(volts float64) Command {
	return NewCommand(OpSetMaxHeaterVoltage, Float(volts))
}

// SetDisplay shows reading n on the level meter's front panel.
func SetDisplay(n int) Command { return NewCommand(OpSetDisplay, Int(n)) }

// SetSampleRate switches the helium sensor on a level meter channel between
// slow and fast sampling.
func SetSampleRate(channel int, fast bool) Command {
	if fast {
		return NewCommand(OpSetSampleFast, Int(channel))
	}

	return NewCommand(OpSetSampleSlow, Int(channel))
}
