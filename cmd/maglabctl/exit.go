package main

import (
	"errors"

	"github.com/arloliu/go-maglab/codec"
	"github.com/arloliu/go-maglab/engine"
	"github.com/arloliu/go-maglab/monitor"
)

// Exit codes.
const (
	exitOK            = 0
	exitFailure       = 1
	exitUsage         = 2
	exitInvalid       = 3
	exitCommunication = 4
	exitRejected      = 5
	exitFault         = 6
)

// exitCode maps an error to the exit code that distinguishes its cause.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage):
		return exitUsage
	case codec.IsValidation(err):
		return exitInvalid
	case engine.IsTimeout(err), errors.Is(err, monitor.ErrCommunicationLost):
		return exitCommunication
	case engine.IsRejected(err):
		return exitRejected
	case errors.Is(err, monitor.ErrInstrumentFault):
		return exitFault
	default:
		return exitFailure
	}
}
