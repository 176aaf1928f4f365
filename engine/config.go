package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-maglab/logger"
)

// Defaults used when the corresponding option is not given.
const (
	DefaultTimeout    = 1 * time.Second
	DefaultMaxRetries = 2
	DefaultTurnaround = 10 * time.Millisecond
)

// Option limits.
const (
	MaxRetryLimit = 10
	MaxTurnaround = 1 * time.Second
)

// Config holds the settings of an Engine.
type Config struct {
	timeout    time.Duration
	maxRetries int
	turnaround time.Duration
	logger     logger.Logger
}

// NewConfig returns a Config with defaults overridden by opts.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
		turnaround: DefaultTurnaround,
		logger:     logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Timeout returns the reply timeout used when Execute is given none.
func (cfg *Config) Timeout() time.Duration { return cfg.timeout }

// MaxRetries returns how many times an idempotent command is retried.
func (cfg *Config) MaxRetries() int { return cfg.maxRetries }

// Turnaround returns the minimum gap between the end of one exchange and the
// next write.
func (cfg *Config) Turnaround() time.Duration { return cfg.turnaround }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// Option configures an Engine.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithTimeout sets the default reply timeout.
func WithTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("engine: timeout must be positive")
		}
		cfg.timeout = d

		return nil
	})
}

// WithMaxRetries sets the retry limit for idempotent commands, in [0, 10].
func WithMaxRetries(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 0 || n > MaxRetryLimit {
			return fmt.Errorf("engine: max retries %d out of range [0, %d]", n, MaxRetryLimit)
		}
		cfg.maxRetries = n

		return nil
	})
}

// WithTurnaround sets the minimum quiet time the instrument needs between a
// reply and the next command.
func WithTurnaround(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 || d > MaxTurnaround {
			return fmt.Errorf("engine: turnaround %v out of range [0, %v]", d, MaxTurnaround)
		}
		cfg.turnaround = d

		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("engine: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
