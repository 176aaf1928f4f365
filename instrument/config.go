package instrument

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-maglab/codec"
	"github.com/arloliu/go-maglab/engine"
	"github.com/arloliu/go-maglab/logger"
	"github.com/arloliu/go-maglab/monitor"
	"github.com/arloliu/go-maglab/state"
)

// Defaults for the optional settings.
const (
	DefaultPollInterval = 1 * time.Second
)

// Config represents the settings of one instrument session.
type Config struct {
	// model is the grammar to use. When empty the model is detected from the
	// version reply.
	model string

	// address is the ISOBUS address commands are prefixed with, or -1 for a
	// directly connected instrument.
	address int

	// extended selects the extended resolution protocol (Q4) on open.
	extended bool

	// timeout is the reply timeout of every exchange.
	// Defaults to engine.DefaultTimeout.
	timeout time.Duration

	// maxRetries is how many times an idempotent command is retried after a
	// timeout or malformed reply. Required.
	maxRetries int

	// turnaround is the minimum quiet time between a reply and the next
	// command. Defaults to engine.DefaultTurnaround.
	turnaround time.Duration

	// pollInterval is the period of the background status poll.
	// Defaults to 1 second.
	pollInterval time.Duration

	// tolerance and convergencePolls decide when a ramp has settled. Required.
	tolerance        float64
	convergencePolls int

	// staleness is how long a status may go without a successful poll before
	// the mode is reported Unknown. Required.
	staleness time.Duration

	// failureThreshold is the number of consecutive failed polls treated as
	// communication loss. Defaults to state.DefaultFailureThreshold.
	failureThreshold int

	// settle is how long the persistent switch heater needs after a change.
	// Defaults to state.DefaultSettleTime.
	settle time.Duration

	// safeShutdown runs the model's shutdown sequence on Close.
	// Defaults to true.
	safeShutdown bool

	logger logger.Logger
}

// NewConfig creates a Config. maxRetries, tolerance, polls and staleness have
// no defaults because the right values depend on the magnet or cryostat the
// controller drives.
func NewConfig(maxRetries int, tolerance float64, polls int, staleness time.Duration, opts ...Option) (*Config, error) {
	cfg := &Config{
		address:          -1,
		timeout:          engine.DefaultTimeout,
		maxRetries:       maxRetries,
		turnaround:       engine.DefaultTurnaround,
		pollInterval:     DefaultPollInterval,
		tolerance:        tolerance,
		convergencePolls: polls,
		staleness:        staleness,
		failureThreshold: state.DefaultFailureThreshold,
		settle:           state.DefaultSettleTime,
		safeShutdown:     true,
		logger:           logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	// validate the required settings by building the component configs once
	if _, err := cfg.engineConfig(); err != nil {
		return nil, err
	}
	if _, err := cfg.stateConfig(cfg.logger); err != nil {
		return nil, err
	}
	if _, err := cfg.monitorConfig(cfg.logger); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Model returns the configured model, or "" when it is detected.
func (cfg *Config) Model() string { return cfg.model }

// Address returns the ISOBUS address, or -1.
func (cfg *Config) Address() int { return cfg.address }

// ExtendedResolution reports whether extended resolution is requested.
func (cfg *Config) ExtendedResolution() bool { return cfg.extended }

// Timeout returns the reply timeout.
func (cfg *Config) Timeout() time.Duration { return cfg.timeout }

// MaxRetries returns the retry limit for idempotent commands.
func (cfg *Config) MaxRetries() int { return cfg.maxRetries }

// PollInterval returns the background poll period.
func (cfg *Config) PollInterval() time.Duration { return cfg.pollInterval }

// SettleTime returns the switch heater settle time.
func (cfg *Config) SettleTime() time.Duration { return cfg.settle }

// SafeShutdown reports whether Close runs the shutdown sequence.
func (cfg *Config) SafeShutdown() bool { return cfg.safeShutdown }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

func (cfg *Config) engineConfig() ([]engine.Option, error) {
	opts := []engine.Option{
		engine.WithTimeout(cfg.timeout),
		engine.WithMaxRetries(cfg.maxRetries),
		engine.WithTurnaround(cfg.turnaround),
		engine.WithLogger(cfg.logger),
	}
	if _, err := engine.NewConfig(opts...); err != nil {
		return nil, err
	}

	return opts, nil
}

func (cfg *Config) stateConfig(l logger.Logger) (*state.Config, error) {
	return state.NewConfig(cfg.tolerance, cfg.convergencePolls,
		state.WithFailureThreshold(cfg.failureThreshold),
		state.WithStaleness(cfg.staleness),
		state.WithSettleTime(cfg.settle),
		state.WithLogger(l),
	)
}

func (cfg *Config) monitorConfig(l logger.Logger) (*monitor.Config, error) {
	return monitor.NewConfig(cfg.pollInterval,
		monitor.WithTimeout(cfg.timeout),
		monitor.WithLogger(l),
	)
}

// Option configures an Instrument.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithModel selects the grammar by model name instead of detecting it. The
// version reply must still identify the same model.
func WithModel(model string) Option {
	return optFunc(func(cfg *Config) error {
		if _, err := codec.Lookup(model); err != nil {
			return fmt.Errorf("instrument: %w", err)
		}
		cfg.model = model

		return nil
	})
}

// WithAddress sets the ISOBUS address, in [0, 8]. A negative address talks
// to a directly connected instrument.
func WithAddress(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n > codec.MaxAddress {
			return fmt.Errorf("instrument: ISOBUS address %d out of range [0, %d]", n, codec.MaxAddress)
		}
		cfg.address = max(n, -1)

		return nil
	})
}

// WithExtendedResolution selects the extended resolution protocol.
func WithExtendedResolution(on bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.extended = on
		return nil
	})
}

// WithTimeout sets the reply timeout.
func WithTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		cfg.timeout = d
		return nil
	})
}

// WithTurnaround sets the minimum gap between exchanges.
func WithTurnaround(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		cfg.turnaround = d
		return nil
	})
}

// WithPollInterval sets the background poll period.
func WithPollInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		cfg.pollInterval = d
		return nil
	})
}

// WithFailureThreshold sets the consecutive poll failures treated as
// communication loss.
func WithFailureThreshold(n int) Option {
	return optFunc(func(cfg *Config) error {
		cfg.failureThreshold = n
		return nil
	})
}

// WithSettleTime sets the switch heater settle time.
func WithSettleTime(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		cfg.settle = d
		return nil
	})
}

// WithSafeShutdown enables or disables the shutdown sequence on Close.
// A command line tool that only changes one setting disables it so the
// instrument keeps running after the tool exits.
func WithSafeShutdown(on bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.safeShutdown = on
		return nil
	})
}

// WithLogger sets the logger shared by every component.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("instrument: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
