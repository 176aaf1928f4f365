package codec

import (
	"fmt"
	"maps"
	"strconv"
)

// Unit is the physical unit of a numeric reading.
type Unit string

const (
	UnitNone            Unit = ""
	UnitTesla           Unit = "T"
	UnitAmpere          Unit = "A"
	UnitMilliampere     Unit = "mA"
	UnitVolt            Unit = "V"
	UnitKelvin          Unit = "K"
	UnitPercent         Unit = "%"
	UnitMinute          Unit = "min"
	UnitMilliohm        Unit = "mOhm"
	UnitHenry           Unit = "H"
	UnitTeslaPerMinute  Unit = "T/min"
	UnitAmperePerMinute Unit = "A/min"
	UnitKelvinPerMinute Unit = "K/min"
)

// ValueKind tags the populated variant of a Value.
type ValueKind uint8

const (
	KindNumeric ValueKind = iota + 1
	KindEnum
	KindStatus
	KindErrorReply
)

func (k ValueKind) String() string {
	switch k {
	case KindNumeric:
		return "Numeric"
	case KindEnum:
		return "Enum"
	case KindStatus:
		return "Status"
	case KindErrorReply:
		return "ErrorReply"
	default:
		return "ValueKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Numeric is a decoded reading.
type Numeric struct {
	Value float64
	Unit  Unit
}

func (n Numeric) String() string {
	if n.Unit == UnitNone {
		return strconv.FormatFloat(n.Value, 'g', -1, 64)
	}

	return strconv.FormatFloat(n.Value, 'g', -1, 64) + " " + string(n.Unit)
}

// Enum is a symbolic reply: an acknowledgement echo or an identity string.
type Enum struct {
	Symbol string
}

// ErrorReply is the instrument's refusal of a command.
type ErrorReply struct {
	Code    string
	Message string
}

// SwitchHeater is the persistent switch heater state reported in the status.
type SwitchHeater uint8

const (
	HeaterNotApplicable SwitchHeater = iota // model has no switch heater
	HeaterOffAtZero
	HeaterOn
	HeaterOffAtField
	HeaterFault
	HeaterNotFitted
)

func (h SwitchHeater) String() string {
	switch h {
	case HeaterNotApplicable:
		return "n/a"
	case HeaterOffAtZero:
		return "off (at zero)"
	case HeaterOn:
		return "on"
	case HeaterOffAtField:
		return "off (at field)"
	case HeaterFault:
		return "fault"
	case HeaterNotFitted:
		return "not fitted"
	default:
		return "SwitchHeater(" + strconv.Itoa(int(h)) + ")"
	}
}

// Matches reports whether h satisfies a request to turn the heater on or off.
func (h SwitchHeater) Matches(on bool) bool {
	if on {
		return h == HeaterOn
	}

	return h == HeaterOffAtZero || h == HeaterOffAtField
}

// StatusFlags is the model-independent interpretation of a status word.
type StatusFlags struct {
	Fault       bool
	FaultReason string
	// Sweeping reports the output is still moving.
	Sweeping bool
	// Driving reports the controller is actively regulating toward its
	// setpoint (magnet sweeping to set point or zero, heater in auto).
	Driving bool
	// Remote reports the instrument accepts remote commands.
	Remote bool
	Heater SwitchHeater
}

// Status is a decoded status word. Fields maps digit keys, such as "A" or
// "Xm", to their values.
type Status struct {
	Raw    string
	Fields map[string]int
	Flags  StatusFlags
}

// Field returns the value of a status digit.
func (s *Status) Field(key string) (int, bool) {
	v, ok := s.Fields[key]
	return v, ok
}

func (s *Status) clone() *Status {
	c := *s
	c.Fields = maps.Clone(s.Fields)

	return &c
}

// Value is a decoded reply. Exactly one variant is populated.
type Value struct {
	kind    ValueKind
	numeric Numeric
	enum    Enum
	status  *Status
	errRep  ErrorReply
}

// NumericValue returns a Numeric Value.
func NumericValue(v float64, unit Unit) Value {
	return Value{kind: KindNumeric, numeric: Numeric{Value: v, Unit: unit}}
}

// EnumValue returns an Enum Value.
func EnumValue(symbol string) Value {
	return Value{kind: KindEnum, enum: Enum{Symbol: symbol}}
}

// StatusValue returns a Status Value holding a copy of st.
func StatusValue(st Status) Value {
	return Value{kind: KindStatus, status: st.clone()}
}

// ErrorReplyValue returns an ErrorReply Value.
func ErrorReplyValue(code, message string) Value {
	return Value{kind: KindErrorReply, errRep: ErrorReply{Code: code, Message: message}}
}

// Kind returns the populated variant, or zero for the zero Value.
func (v Value) Kind() ValueKind { return v.kind }

// Numeric returns the numeric variant.
func (v Value) Numeric() (Numeric, bool) {
	return v.numeric, v.kind == KindNumeric
}

// Enum returns the enum variant.
func (v Value) Enum() (Enum, bool) {
	return v.enum, v.kind == KindEnum
}

// Status returns a copy of the status variant.
func (v Value) Status() (Status, bool) {
	if v.kind != KindStatus {
		return Status{}, false
	}

	return *v.status.clone(), true
}

// ErrorReply returns the error reply variant.
func (v Value) ErrorReply() (ErrorReply, bool) {
	return v.errRep, v.kind == KindErrorReply
}

func (v Value) String() string {
	switch v.kind {
	case KindNumeric:
		return v.numeric.String()
	case KindEnum:
		return v.enum.Symbol
	case KindStatus:
		return v.status.Raw
	case KindErrorReply:
		return fmt.Sprintf("?%s (%s)", v.errRep.Code, v.errRep.Message)
	default:
		return "<none>"
	}
}
