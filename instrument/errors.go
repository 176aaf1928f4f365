package instrument

import "errors"

var (
	// ErrModelMismatch is returned by Open when the version reply does not
	// identify the configured model.
	ErrModelMismatch = errors.New("instrument: identity does not match model")
	// ErrReadbackMismatch is returned by the verified setters when the
	// instrument reports a setpoint other than the one written.
	ErrReadbackMismatch = errors.New("instrument: setpoint readback mismatch")
	// ErrNoSwitchHeater is returned by persistent mode operations on a magnet
	// without a persistent switch.
	ErrNoSwitchHeater = errors.New("instrument: no switch heater fitted")
	// ErrLevelChannelUnused is returned when reading a level meter channel
	// that is not configured for a cryogen.
	ErrLevelChannelUnused = errors.New("instrument: level channel not in use")
	// ErrClosed is returned by operations on a closed Instrument.
	ErrClosed = errors.New("instrument: closed")
)
