package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// ILM211 low level thresholds, in percent.
const (
	ILMLowHelium   = 20.0
	ILMLowNitrogen = 10.0
	ILMChannels    = 3
	// ILMNeedleValveChannel reads the needle valve position.
	ILMNeedleValveChannel = 10
)

// LevelUse is how a level meter channel is configured. The values are the
// channel's digit in the status word.
type LevelUse int

const (
	LevelUnused           LevelUse = 0
	LevelNitrogen         LevelUse = 1
	LevelHeliumPulsed     LevelUse = 2
	LevelHeliumContinuous LevelUse = 3
	LevelError            LevelUse = 9
)

func (u LevelUse) String() string {
	switch u {
	case LevelUnused:
		return "not in use"
	case LevelNitrogen:
		return "nitrogen"
	case LevelHeliumPulsed:
		return "pulsed helium"
	case LevelHeliumContinuous:
		return "continuous helium"
	case LevelError:
		return "error"
	default:
		return "LevelUse(" + strconv.Itoa(int(u)) + ")"
	}
}

// Helium reports whether the channel meters liquid helium.
func (u LevelUse) Helium() bool { return u == LevelHeliumPulsed || u == LevelHeliumContinuous }

// Low reports whether percent is at or below the alarm threshold of the
// cryogen the channel meters.
func (u LevelUse) Low(percent float64) bool {
	switch {
	case u.Helium():
		return percent <= ILMLowHelium
	case u == LevelNitrogen:
		return percent <= ILMLowNitrogen
	default:
		return false
	}
}

// LevelUseOf returns the configuration of level meter channel n from a
// status word, and false when the status has no such channel.
func LevelUseOf(st Status, n int) (LevelUse, bool) {
	v, ok := st.Field("X" + strconv.Itoa(n))
	return LevelUse(v), ok
}

// Per-channel bits of the ILM channel status bytes.
const (
	levelCurrent  = 1 << 0
	levelFast     = 1 << 1
	levelSlow     = 1 << 2
	levelLow      = 1 << 5
	levelAlarm    = 1 << 6
	levelPrePulse = 1 << 7
)

// ILM211 returns the grammar of the ILM200 series intelligent level meter.
// Levels and the needle valve position travel in tenths of a percent.
//
// Status word: XabcSuuvvwwRzz, with hexadecimal S and R bytes.
func ILM211() *Grammar {
	rules := commonRules([]int{0, 2})

	channel := func() []ParamSpec {
		return []ParamSpec{{Name: "channel", Kind: KindInt, Min: 1, Max: ILMChannels}}
	}

	rules[OpSetGasFlow] = Rule{Letter: 'G', Reply: ReplyAck, Params: []ParamSpec{{
		Name: "needle valve", Kind: KindFloat, Min: 0, Max: 100, Scale: 10, Format: "%.0f",
	}}}
	rules[OpSetDisplay] = Rule{Letter: 'F', Reply: ReplyAck, Params: []ParamSpec{{
		Name: "reading", Kind: KindInt, Allowed: []int{1, 2, 3, ILMNeedleValveChannel},
	}}}
	rules[OpSetSampleSlow] = Rule{Letter: 'S', Reply: ReplyAck, Params: channel()}
	rules[OpSetSampleFast] = Rule{Letter: 'T', Reply: ReplyAck, Params: channel()}

	return mustGrammar(GrammarSpec{
		Model:      "ILM211",
		Identities: []string{"ILM"},
		Rules:      rules,
		Channels: map[int]Channel{
			1:                     {"channel 1 level", UnitPercent},
			2:                     {"channel 2 level", UnitPercent},
			3:                     {"channel 3 level", UnitPercent},
			ILMNeedleValveChannel: {"needle valve position", UnitPercent},
		},
		Scales: map[int]float64{1: 10, 2: 10, 3: 10, ILMNeedleValveChannel: 10},
		Status: []StatusGroup{
			{Letter: 'X', Digits: []StatusDigit{{"X1", 1}, {"X2", 1}, {"X3", 1}}},
			{Letter: 'S', Digits: []StatusDigit{{"S1", 2}, {"S2", 2}, {"S3", 2}}, Hex: true},
			{Letter: 'R', Digits: []StatusDigit{{"R", 2}}, Hex: true},
		},
		Classify: classifyILM,
		Describe: describeILM,
		// a level meter has no setpoint; its level doubles as one so the
		// state machine sees it at rest
		MeasuredChannel: 1,
		SetpointChannel: 1,
		Shutdown: []Command{
			SetGasFlow(0),
			SetRemote(false, false),
		},
	})
}

var ilmRelayText = []string{
	"In SHUT DOWN state.",
	"Alarm is SOUNDING.",
	"In ALARM state.",
	"Alarm SILENCING is prohibited.",
	"RELAY 1 is active.",
	"RELAY 2 is active.",
	"RELAY 3 is active.",
	"RELAY 4 is active.",
}

func classifyILM(st *Status) StatusFlags {
	flags := StatusFlags{Heater: HeaterNotApplicable}

	var broken []string
	for n := 1; n <= ILMChannels; n++ {
		if use, _ := LevelUseOf(*st, n); use == LevelError {
			broken = append(broken, strconv.Itoa(n))
		}
	}
	switch {
	case len(broken) > 0:
		flags.Fault = true
		flags.FaultReason = "error on level channel " + strings.Join(broken, ", ")
	case st.Fields["R"]&1 != 0:
		flags.Fault = true
		flags.FaultReason = "level meter shut down"
	}

	return flags
}

func describeILM(st *Status) []string {
	fill := map[int]string{
		0: "END FILLING.",
		1: "NOT FILLING.",
		2: "FILLING.",
		3: "START FILLING.",
	}

	var lines []string
	for n := 1; n <= ILMChannels; n++ {
		use, _ := LevelUseOf(*st, n)
		switch use {
		case LevelUnused:
			lines = append(lines, fmt.Sprintf("Channel %d not in use.", n))
			continue
		case LevelNitrogen, LevelHeliumPulsed, LevelHeliumContinuous:
			lines = append(lines, fmt.Sprintf("Channel %d used for %s level metering.", n, use))
		case LevelError:
			lines = append(lines, fmt.Sprintf("Error on channel %d.", n))
			continue
		default:
			lines = append(lines, fmt.Sprintf("Channel %d in unknown state %d.", n, use))
			continue
		}

		s := st.Fields["S"+strconv.Itoa(n)]
		parts := []string{fmt.Sprintf("Channel %d:", n)}
		for _, bit := range []struct {
			mask int
			text string
		}{
			{levelCurrent, "CURRENT FLOWING in helium sensor."},
			{levelFast, "Helium sensor in FAST rate."},
			{levelSlow, "Helium sensor in SLOW rate."},
		} {
			if s&bit.mask != 0 {
				parts = append(parts, bit.text)
			}
		}
		parts = append(parts, fill[(s>>3&1)<<1|s>>4&1])
		for _, bit := range []struct {
			mask int
			text string
		}{
			{levelLow, "LOW STATE is active."},
			{levelAlarm, "ALARM requested."},
			{levelPrePulse, "PRE-PULSE CURRENT is flowing."},
		} {
			if s&bit.mask != 0 {
				parts = append(parts, bit.text)
			}
		}
		lines = append(lines, strings.Join(parts, " "))
	}

	r := st.Fields["R"]
	for i, text := range ilmRelayText {
		if r&(1<<i) != 0 {
			lines = append(lines, text)
		}
	}

	return lines
}

// SamplesFast reports whether the helium sensor of channel n samples at the fast
// rate.
func SamplesFast(st Status, n int) bool { return st.Fields["S"+strconv.Itoa(n)]&levelFast != 0 }

// SamplesSlow reports whether the helium sensor of channel n samples at the slow
// rate.
func SamplesSlow(st Status, n int) bool { return st.Fields["S"+strconv.Itoa(n)]&levelSlow != 0 }
