package state

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode is the inferred operating mode of an instrument.
type Mode uint8

const (
	// ModeUnknown is the mode before the first status and whenever the last
	// status is older than the staleness window.
	ModeUnknown Mode = iota
	// ModeIdle means no target is being pursued.
	ModeIdle
	// ModeRamping means the output is moving toward a new target.
	ModeRamping
	// ModeHolding means the output has settled at its target.
	ModeHolding
	// ModePersistentTransition means a switch heater change is settling.
	ModePersistentTransition
	// ModeFault is entered on a status fault or loss of communication and
	// left only by an accepted fault-clear command.
	ModeFault
)

var modeNames = []string{"Unknown", "Idle", "Ramping", "Holding", "PersistentTransition", "Fault"}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}

	return "Mode(" + strconv.Itoa(int(m)) + ")"
}

// ParseMode parses a mode name, ignoring case. "persistent" is accepted for
// ModePersistentTransition.
func ParseMode(s string) (Mode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "persistent" {
		return ModePersistentTransition, nil
	}
	for i, n := range modeNames {
		if strings.ToLower(n) == name {
			return Mode(i), nil
		}
	}

	return ModeUnknown, fmt.Errorf("state: unknown mode %q", s)
}
