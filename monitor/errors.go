package monitor

import "errors"

var (
	// ErrCommunicationLost is reported by Err once consecutive poll failures
	// reached the failure threshold.
	ErrCommunicationLost = errors.New("monitor: communication lost")
	// ErrInstrumentFault is reported by Err while the instrument status
	// reports a fault.
	ErrInstrumentFault = errors.New("monitor: instrument fault")
	// ErrNotRunning is returned when waiting on a monitor that is stopped or
	// was never started.
	ErrNotRunning = errors.New("monitor: not running")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("monitor: already started")
)
