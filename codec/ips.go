package codec

import "fmt"

// IPS120 field and current limits.
const (
	IPSMaxField       = 7.0   // T
	IPSMaxCurrent     = 98.46 // A
	IPSMaxFieldRate   = 1.2   // T/min
	IPSMaxCurrentRate = 16.88 // A/min
)

// IPS120 returns the grammar of the IPS120-10 superconducting magnet power
// supply.
//
// Status word: XmnAnCnHnMmnPmn.
func IPS120() *Grammar {
	rules := commonRules([]int{0, 2, 4, 6})

	rules[OpSetField] = Rule{Letter: 'J', Reply: ReplyAck, Params: []ParamSpec{{
		Name: "field", Kind: KindFloat, Min: -IPSMaxField, Max: IPSMaxField,
		Format: "%+.4f", FormatExtended: "%+.5f",
	}}}
	rules[OpSetCurrent] = Rule{Letter: 'I', Reply: ReplyAck, Params: []ParamSpec{{
		Name: "current", Kind: KindFloat, Min: -IPSMaxCurrent, Max: IPSMaxCurrent,
		Format: "%+.3f", FormatExtended: "%+.4f",
	}}}
	rules[OpSetFieldRate] = Rule{Letter: 'T', Reply: ReplyAck, Params: []ParamSpec{{
		Name: "rate", Kind: KindFloat, Min: -IPSMaxFieldRate, Max: IPSMaxFieldRate,
		Format: "%+.3f", FormatExtended: "%+.4f",
	}}}
	rules[OpSetCurrentRate] = Rule{Letter: 'S', Reply: ReplyAck, Params: []ParamSpec{{
		Name: "rate", Kind: KindFloat, Min: -IPSMaxCurrentRate, Max: IPSMaxCurrentRate,
		Format: "%+.3f", FormatExtended: "%+.4f",
	}}}
	rules[OpSweepTo] = Rule{Letter: 'A', Reply: ReplyAck, Params: []ParamSpec{{
		Name: "target", Kind: KindSymbol,
		Choices: map[string]string{SweepSetpoint: "1", SweepZero: "2"},
	}}}
	rules[OpHold] = Rule{Letter: 'A', Suffix: "0", Reply: ReplyAck}
	rules[OpClamp] = Rule{Letter: 'A', Suffix: "4", Reply: ReplyAck}
	rules[OpSetSwitchHeater] = Rule{Letter: 'H', Reply: ReplyAck, Params: []ParamSpec{{
		Name: "on", Kind: KindBool, True: "1", False: "0",
	}}}
	rules[OpSetSweepMode] = Rule{Letter: 'M', Reply: ReplyAck, Params: []ParamSpec{{
		Name: "mode", Kind: KindInt, Allowed: []int{0, 1, 4, 5, 8, 9},
	}}}
	rules[OpSetPolarity] = Rule{Letter: 'P', Reply: ReplyAck, Params: []ParamSpec{{
		Name: "polarity", Kind: KindInt, Allowed: []int{0, 1, 2, 4},
	}}}

	return mustGrammar(GrammarSpec{
		Model:      "IPS120",
		Identities: []string{"IPS"},
		Rules:      rules,
		Channels: map[int]Channel{
			0:  {"output current", UnitAmpere},
			1:  {"output voltage", UnitVolt},
			2:  {"magnet current", UnitAmpere},
			5:  {"set point current", UnitAmpere},
			6:  {"current sweep rate", UnitAmperePerMinute},
			7:  {"output field", UnitTesla},
			8:  {"set point field", UnitTesla},
			9:  {"field sweep rate", UnitTeslaPerMinute},
			10: {"lead resistance", UnitMilliohm},
			15: {"software voltage limit", UnitVolt},
			16: {"persistent magnet current", UnitAmpere},
			17: {"trip current", UnitAmpere},
			18: {"persistent magnet field", UnitTesla},
			19: {"trip field", UnitTesla},
			20: {"switch heater current", UnitMilliampere},
			21: {"safe current limit, negative", UnitAmpere},
			22: {"safe current limit, positive", UnitAmpere},
			23: {"lead resistance", UnitMilliohm},
			24: {"magnet inductance", UnitHenry},
		},
		Status: []StatusGroup{
			{Letter: 'X', Digits: []StatusDigit{{"Xm", 1}, {"Xn", 1}}},
			{Letter: 'A', Digits: []StatusDigit{{"A", 1}}},
			{Letter: 'C', Digits: []StatusDigit{{"C", 1}}},
			{Letter: 'H', Digits: []StatusDigit{{"H", 1}}},
			{Letter: 'M', Digits: []StatusDigit{{"Mm", 1}, {"Mn", 1}}},
			{Letter: 'P', Digits: []StatusDigit{{"Pm", 1}, {"Pn", 1}}},
		},
		Classify:        classifyIPS,
		Describe:        describeIPS,
		MeasuredChannel: 7,
		SetpointChannel: 8,
		Shutdown: []Command{
			SetSwitchHeater(false),
			Clamp(),
			SetRemote(false, false),
		},
	})
}

var ipsSystemText = map[int]string{
	0: "magnet normal",
	1: "magnet quenched",
	2: "power supply over heated",
	4: "magnet warming up",
	8: "magnet fault",
}

func classifyIPS(st *Status) StatusFlags {
	f := st.Fields
	flags := StatusFlags{
		Sweeping: f["Mn"] != 0,
		Driving:  f["A"] == 1 || f["A"] == 2,
		Remote:   f["C"] == 1 || f["C"] == 3,
	}

	switch f["H"] {
	case 0:
		flags.Heater = HeaterOffAtZero
	case 1:
		flags.Heater = HeaterOn
	case 2:
		flags.Heater = HeaterOffAtField
	case 5:
		flags.Heater = HeaterFault
	case 8:
		flags.Heater = HeaterNotFitted
	}

	if xm := f["Xm"]; xm != 0 {
		flags.Fault = true
		flags.FaultReason = ipsSystemText[xm]
		if flags.FaultReason == "" {
			flags.FaultReason = fmt.Sprintf("system status %d", xm)
		}
	} else if flags.Heater == HeaterFault {
		flags.Fault = true
		flags.FaultReason = "switch heater fault"
	}

	return flags
}

func describeIPS(st *Status) []string {
	f := st.Fields
	limits := map[int]string{
		0: "Power supply normal.",
		1: "Power supply on positive voltage limit.",
		2: "Power supply on negative voltage limit.",
		4: "Power supply outside negative current limit.",
		8: "Power supply outside positive current limit.",
	}
	activity := map[int]string{
		0: "Output is in HOLD.",
		1: "Output is sweeping TO SET POINT.",
		2: "Output is sweeping TO ZERO.",
		4: "Output is CLAMPED.",
	}
	heater := map[int]string{
		0: "Switch heater OFF, magnet at zero.",
		1: "Switch heater ON.",
		2: "Switch heater OFF, magnet at field.",
		5: "Switch heater FAULT.",
		8: "No switch heater fitted.",
	}
	mode := map[int]string{
		0: "Amps, fast sweep.",
		1: "Field, fast sweep.",
		4: "Amps, slow sweep.",
		5: "Field, slow sweep.",
	}
	motion := map[int]string{
		0: "At rest.",
		1: "Sweeping.",
		2: "Sweep limiting.",
		3: "Sweeping and sweep limiting.",
	}

	system := ipsSystemText[f["Xm"]]
	if system == "" {
		system = fmt.Sprintf("system status %d", f["Xm"])
	}

	return []string{
		"System: " + system + ".",
		lookup(limits, f["Xn"]),
		lookup(activity, f["A"]),
		"Control: " + controlText(f["C"]) + ".",
		lookup(heater, f["H"]),
		lookup(mode, f["Mm"]) + " " + lookup(motion, f["Mn"]),
		fmt.Sprintf("Polarity %d, contactors %d.", f["Pm"], f["Pn"]),
	}
}

func lookup(table map[int]string, n int) string {
	if s, ok := table[n]; ok {
		return s
	}

	return fmt.Sprintf("Unknown state %d.", n)
}
