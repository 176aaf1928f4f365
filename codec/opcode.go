package codec

import "strconv"

// Opcode identifies a logical instrument operation.
type Opcode uint8

const (
	OpQuery   Opcode = iota + 1 // read a numeric channel (R<n>)
	OpStatus                    // read the status word (X)
	OpVersion                   // read the identity string (V)

	OpSetRemote  // local/remote and lock state (C<n>)
	OpClearFault // return to remote unlocked control after a fault
	OpUnlock     // unlock system commands (U<key>)
	OpSetWait    // inter-character delay (W<ms>)
	OpSetProtocol

	OpSetField       // IPS target field (J)
	OpSetCurrent     // IPS target current (I)
	OpSetFieldRate   // IPS field sweep rate (T)
	OpSetCurrentRate // IPS current sweep rate (S)
	OpSetTemperature // ITC target temperature (T)

	OpSweepTo // IPS A1/A2, ITC S<step>
	OpHold    // IPS A0
	OpPause   // ITC S0
	OpClamp   // IPS A4

	OpSetSwitchHeater // IPS persistent switch heater (H)
	OpSetSweepMode    // IPS display and sweep profile (M)
	OpSetPolarity     // IPS polarity (P)

	OpSetHeaterOutput     // ITC manual heater output (O)
	OpSetGasFlow          // ITC manual needle valve (G)
	OpSetControlMode      // ITC heater and gas auto/manual (A)
	OpSetControlSensor    // ITC controlling sensor (H)
	OpSetAutoPID          // ITC learned PID table (L)
	OpSetProportionalBand // ITC P term (P)
	OpSetIntegralTime     // ITC I term (I)
	OpSetDerivativeTime   // ITC D term (D)
	OpSetMaxHeaterVoltage // ITC heater voltage limit (M)

	OpSetDisplay    // ILM front panel reading (F<n>)
	OpSetSampleSlow // ILM helium sensor slow sampling (S<n>)
	OpSetSampleFast // ILM helium sensor fast sampling (T<n>)
)

var opcodeNames = map[Opcode]string{
	OpQuery:               "Query",
	OpStatus:              "Status",
	OpVersion:             "Version",
	OpSetRemote:           "SetRemote",
	OpClearFault:          "ClearFault",
	OpUnlock:              "Unlock",
	OpSetWait:             "SetWait",
	OpSetProtocol:         "SetProtocol",
	OpSetField:            "SetField",
	OpSetCurrent:          "SetCurrent",
	OpSetFieldRate:        "SetFieldRate",
	OpSetCurrentRate:      "SetCurrentRate",
	OpSetTemperature:      "SetTemperature",
	OpSweepTo:             "SweepTo",
	OpHold:                "Hold",
	OpPause:               "Pause",
	OpClamp:               "Clamp",
	OpSetSwitchHeater:     "SetSwitchHeater",
	OpSetSweepMode:        "SetSweepMode",
	OpSetPolarity:         "SetPolarity",
	OpSetHeaterOutput:     "SetHeaterOutput",
	OpSetGasFlow:          "SetGasFlow",
	OpSetControlMode:      "SetControlMode",
	OpSetControlSensor:    "SetControlSensor",
	OpSetAutoPID:          "SetAutoPID",
	OpSetProportionalBand: "SetProportionalBand",
	OpSetIntegralTime:     "SetIntegralTime",
	OpSetDerivativeTime:   "SetDerivativeTime",
	OpSetMaxHeaterVoltage: "SetMaxHeaterVoltage",
	OpSetDisplay:          "SetDisplay",
	OpSetSampleSlow:       "SetSampleSlow",
	OpSetSampleFast:       "SetSampleFast",
}

func (op Opcode) String() string {
	if s, ok := opcodeNames[op]; ok {
		return s
	}

	return "Opcode(" + strconv.Itoa(int(op)) + ")"
}

// Idempotent reports whether repeating op cannot change the instrument's
// state. Only idempotent commands are retried automatically; a repeated
// setpoint write could apply a ramp twice.
func (op Opcode) Idempotent() bool {
	switch op {
	case OpQuery, OpStatus, OpVersion:
		return true
	default:
		return false
	}
}

// StartsRamp reports whether an accepted op drives the output toward a new
// target.
func (op Opcode) StartsRamp() bool {
	switch op {
	case OpSetField, OpSetCurrent, OpSetTemperature, OpSweepTo:
		return true
	default:
		return false
	}
}
