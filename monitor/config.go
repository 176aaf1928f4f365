package monitor

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-maglab/logger"
)

// Defaults for the optional Monitor settings.
const (
	DefaultSubscriberBuffer = 16
	MinInterval             = 10 * time.Millisecond
)

// Config holds the Monitor settings.
type Config struct {
	interval  time.Duration
	timeout   time.Duration
	subBuffer int
	logger    logger.Logger
}

// NewConfig returns a Config polling every interval.
func NewConfig(interval time.Duration, opts ...Option) (*Config, error) {
	if interval < MinInterval {
		return nil, fmt.Errorf("monitor: poll interval %v below minimum %v", interval, MinInterval)
	}

	cfg := &Config{
		interval:  interval,
		subBuffer: DefaultSubscriberBuffer,
		logger:    logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Interval returns the poll interval.
func (cfg *Config) Interval() time.Duration { return cfg.interval }

// Timeout returns the per-exchange timeout; zero means the engine default.
func (cfg *Config) Timeout() time.Duration { return cfg.timeout }

// SubscriberBuffer returns the channel capacity given to subscribers.
func (cfg *Config) SubscriberBuffer() int { return cfg.subBuffer }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// Option configures a Monitor.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithTimeout sets the reply timeout used for poll exchanges.
func WithTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("monitor: timeout must not be negative")
		}
		cfg.timeout = d

		return nil
	})
}

// WithSubscriberBuffer sets the channel capacity of Subscribe.
func WithSubscriberBuffer(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 {
			return fmt.Errorf("monitor: subscriber buffer %d must be at least 1", n)
		}
		cfg.subBuffer = n

		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("monitor: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
