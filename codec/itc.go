package codec

import "fmt"

// ITC503 parameter limits.
const (
	ITCMaxTemperature  = 420.0 // K
	ITCMaxHeaterVolts  = 40.0  // V
	ITCMaxSweepStep    = 32
	ITCMinProportional = 5.0   // K
	ITCMaxProportional = 50.0  // K
	ITCMaxActionTime   = 140.0 // min
)

// ITC503 returns the grammar of the ITC503 intelligent temperature
// controller.
//
// Status word: XnAnCnSnnHnLn.
func ITC503() *Grammar {
	rules := commonRules([]int{0, 2})

	percent := func(name string) []ParamSpec {
		return []ParamSpec{{Name: name, Kind: KindFloat, Min: 0, Max: 100, Format: "%.6g"}}
	}

	rules[OpSetTemperature] = Rule{Letter: 'T', Reply: ReplyAck, Params: []ParamSpec{{
		Name: "temperature", Kind: KindFloat, Min: 0, Max: ITCMaxTemperature, Format: "%.6g",
	}}}
	rules[OpSweepTo] = Rule{Letter: 'S', Reply: ReplyAck, Params: []ParamSpec{{
		Name: "step", Kind: KindInt, Min: 1, Max: ITCMaxSweepStep,
	}}}
	rules[OpPause] = Rule{Letter: 'S', Suffix: "0", Reply: ReplyAck}
	rules[OpSetHeaterOutput] = Rule{Letter: 'O', Reply: ReplyAck, Params: percent("heater")}
	rules[OpSetGasFlow] = Rule{Letter: 'G', Reply: ReplyAck, Params: percent("gas flow")}
	rules[OpSetControlMode] = Rule{Letter: 'A', Reply: ReplyAck, Params: []ParamSpec{{
		Name: "mode", Kind: KindInt, Min: 0, Max: 3,
	}}}
	rules[OpSetControlSensor] = Rule{Letter: 'H', Reply: ReplyAck, Params: []ParamSpec{{
		Name: "sensor", Kind: KindInt, Min: 1, Max: 3,
	}}}
	rules[OpSetAutoPID] = Rule{Letter: 'L', Reply: ReplyAck, Params: []ParamSpec{{
		Name: "enabled", Kind: KindBool, True: "1", False: "0",
	}}}
	rules[OpSetProportionalBand] = Rule{Letter: 'P', Reply: ReplyAck, Params: []ParamSpec{{
		Name: "band", Kind: KindFloat, Min: ITCMinProportional, Max: ITCMaxProportional, Format: "%.6g",
	}}}
	rules[OpSetIntegralTime] = Rule{Letter: 'I', Reply: ReplyAck, Params: []ParamSpec{{
		Name: "time", Kind: KindFloat, Min: 0, Max: ITCMaxActionTime, Format: "%.6g",
	}}}
	rules[OpSetDerivativeTime] = Rule{Letter: 'D', Reply: ReplyAck, Params: []ParamSpec{{
		Name: "time", Kind: KindFloat, Min: 0, Max: ITCMaxActionTime, Format: "%.6g",
	}}}
	rules[OpSetMaxHeaterVoltage] = Rule{Letter: 'M', Reply: ReplyAck, Params: []ParamSpec{{
		Name: "voltage", Kind: KindFloat, Min: 0, Max: ITCMaxHeaterVolts, Format: "%.6g",
	}}}

	return mustGrammar(GrammarSpec{
		Model:      "ITC503",
		Identities: []string{"ITC"},
		Rules:      rules,
		Channels: map[int]Channel{
			0:  {"set temperature", UnitKelvin},
			1:  {"sensor 1 temperature", UnitKelvin},
			2:  {"sensor 2 temperature", UnitKelvin},
			3:  {"sensor 3 temperature", UnitKelvin},
			4:  {"temperature error", UnitKelvin},
			5:  {"heater output", UnitPercent},
			6:  {"heater output", UnitVolt},
			7:  {"gas flow output", UnitPercent},
			8:  {"proportional band", UnitKelvin},
			9:  {"integral action time", UnitMinute},
			10: {"derivative action time", UnitMinute},
		},
		Status: []StatusGroup{
			{Letter: 'X', Digits: []StatusDigit{{"X", 1}}},
			{Letter: 'A', Digits: []StatusDigit{{"A", 1}}},
			{Letter: 'C', Digits: []StatusDigit{{"C", 1}}},
			{Letter: 'S', Digits: []StatusDigit{{"S", 2}}},
			{Letter: 'H', Digits: []StatusDigit{{"H", 1}}},
			{Letter: 'L', Digits: []StatusDigit{{"L", 1}}},
		},
		Classify:        classifyITC,
		Describe:        describeITC,
		MeasuredChannel: 1,
		SetpointChannel: 0,
		Shutdown: []Command{
			SetControlMode(false, false),
			SetTemperature(0),
			SetHeaterOutput(0),
			SetGasFlow(0),
			SetRemote(false, false),
		},
	})
}

func classifyITC(st *Status) StatusFlags {
	f := st.Fields
	flags := StatusFlags{
		Sweeping: f["S"]%2 == 1,
		Driving:  f["A"]&1 == 1,
		Remote:   f["C"] == 1 || f["C"] == 3,
		Heater:   HeaterNotApplicable,
	}
	if x := f["X"]; x != 0 {
		flags.Fault = true
		flags.FaultReason = fmt.Sprintf("system status %d", x)
	}

	return flags
}

func describeITC(st *Status) []string {
	f := st.Fields
	modes := map[int]string{
		0: "Heater MANUAL, gas flow MANUAL.",
		1: "Heater AUTO, gas flow MANUAL.",
		2: "Heater MANUAL, gas flow AUTO.",
		3: "Heater AUTO, gas flow AUTO.",
	}

	system := "System normal."
	if f["X"] != 0 {
		system = fmt.Sprintf("System status %d.", f["X"])
	}

	sweep := "Sweep not active."
	switch s := f["S"]; {
	case s == 0:
	case s%2 == 1:
		sweep = fmt.Sprintf("Sweeping to step %d set temperature.", (s+1)/2)
	default:
		sweep = fmt.Sprintf("Holding step %d set temperature.", s/2)
	}

	pid := "Auto PIDs disabled."
	if f["L"] == 1 {
		pid = "Auto PIDs enabled."
	}

	return []string{
		system,
		lookup(modes, f["A"]),
		"Control: " + controlText(f["C"]) + ".",
		sweep,
		fmt.Sprintf("Controlled by sensor %d.", f["H"]),
		pid,
	}
}
