package state

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/arloliu/go-maglab/logger"
)

// Defaults for the optional Machine settings.
const (
	DefaultFailureThreshold = 3
	DefaultStaleness        = 10 * time.Second
	DefaultSettleTime       = 20 * time.Second
)

// Config holds the convergence and fault settings of a Machine.
type Config struct {
	tolerance        float64
	convergencePolls int
	failureThreshold int
	staleness        time.Duration
	settle           time.Duration
	logger           logger.Logger
}

// NewConfig returns a Config. tolerance and polls have no defaults: a poll
// converges when the measured value is within tolerance of the target, and
// polls consecutive converged polls are needed before Holding.
func NewConfig(tolerance float64, polls int, opts ...Option) (*Config, error) {
	if math.IsNaN(tolerance) || math.IsInf(tolerance, 0) || tolerance <= 0 {
		return nil, fmt.Errorf("state: convergence tolerance %v must be positive", tolerance)
	}
	if polls < 1 {
		return nil, fmt.Errorf("state: convergence polls %d must be at least 1", polls)
	}

	cfg := &Config{
		tolerance:        tolerance,
		convergencePolls: polls,
		failureThreshold: DefaultFailureThreshold,
		staleness:        DefaultStaleness,
		settle:           DefaultSettleTime,
		logger:           logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Tolerance returns the convergence tolerance in the instrument's unit.
func (cfg *Config) Tolerance() float64 { return cfg.tolerance }

// ConvergencePolls returns the number of consecutive converged polls that
// complete a ramp.
func (cfg *Config) ConvergencePolls() int { return cfg.convergencePolls }

// FailureThreshold returns the consecutive failures that mean communication
// is lost.
func (cfg *Config) FailureThreshold() int { return cfg.failureThreshold }

// Staleness returns how old the last status may be before the mode is Unknown.
func (cfg *Config) Staleness() time.Duration { return cfg.staleness }

// SettleTime returns the switch heater settle time.
func (cfg *Config) SettleTime() time.Duration { return cfg.settle }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// Option configures a Machine.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithFailureThreshold sets how many consecutive failed polls mean
// communication is lost.
func WithFailureThreshold(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 {
			return fmt.Errorf("state: failure threshold %d must be at least 1", n)
		}
		cfg.failureThreshold = n

		return nil
	})
}

// WithStaleness sets the staleness window.
func WithStaleness(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("state: staleness must be positive")
		}
		cfg.staleness = d

		return nil
	})
}

// WithSettleTime sets how long a switch heater change must settle.
func WithSettleTime(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("state: settle time must not be negative")
		}
		cfg.settle = d

		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("state: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
