// Package config loads instrument settings from a YAML file.
//
// A minimal file names the resource and the four settings that have no
// defaults:
//
//	resource_id: GPIB0::25::INSTR
//	max_retries: 2
//	convergence_tolerance: 0.001
//	convergence_polls: 3
//	staleness_threshold_ms: 10000
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-maglab/instrument"
	"github.com/arloliu/go-maglab/logger"
)

// Log output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config is the content of a configuration file. Pointer fields are unset
// when the key is absent.
type Config struct {
	ResourceID           string   `yaml:"resource_id"`
	Model                string   `yaml:"model"`
	TimeoutMS            *int     `yaml:"timeout_ms"`
	PollIntervalMS       *int     `yaml:"poll_interval_ms"`
	MaxRetries           *int     `yaml:"max_retries"`
	ConvergenceTolerance *float64 `yaml:"convergence_tolerance"`
	ConvergencePolls     *int     `yaml:"convergence_polls"`
	StalenessThresholdMS *int     `yaml:"staleness_threshold_ms"`
	FailureThreshold     *int     `yaml:"failure_threshold"`
	TurnaroundMS         *int     `yaml:"turnaround_ms"`
	SwitchHeaterSettleMS *int     `yaml:"switch_heater_settle_ms"`
	ISOBUSAddress        *int     `yaml:"isobus_address"`
	ExtendedResolution   bool     `yaml:"extended_resolution"`
	LogLevel             string   `yaml:"log_level"`
	LogFormat            string   `yaml:"log_format"`
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Read decodes the file at path without validating it, for callers that
// complete the settings from another source first.
func Read(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes and validates a configuration.
func Parse(r io.Reader) (*Config, error) {
	cfg, err := Decode(r)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Decode decodes a configuration. Unknown keys are an error; an empty
// document yields an empty Config.
func Decode(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

// Validate reports every missing required key and malformed value.
func (cfg *Config) Validate() error {
	var err error
	required := func(key string, set bool) {
		if !set {
			err = multierr.Append(err, fmt.Errorf("config: %s is required", key))
		}
	}
	nonNegative := func(key string, v *int) {
		if v != nil && *v < 0 {
			err = multierr.Append(err, fmt.Errorf("config: %s must not be negative, got %d", key, *v))
		}
	}

	required("resource_id", cfg.ResourceID != "")
	required("max_retries", cfg.MaxRetries != nil)
	required("convergence_tolerance", cfg.ConvergenceTolerance != nil)
	required("convergence_polls", cfg.ConvergencePolls != nil)
	required("staleness_threshold_ms", cfg.StalenessThresholdMS != nil)

	nonNegative("timeout_ms", cfg.TimeoutMS)
	nonNegative("poll_interval_ms", cfg.PollIntervalMS)
	nonNegative("staleness_threshold_ms", cfg.StalenessThresholdMS)
	nonNegative("turnaround_ms", cfg.TurnaroundMS)
	nonNegative("switch_heater_settle_ms", cfg.SwitchHeaterSettleMS)

	if cfg.LogLevel != "" {
		if _, e := logger.ParseLevel(cfg.LogLevel); e != nil {
			err = multierr.Append(err, fmt.Errorf("config: log_level: %w", e))
		}
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "", FormatJSON, FormatConsole:
	default:
		err = multierr.Append(err, fmt.Errorf("config: log_format %q is not %s or %s", cfg.LogFormat, FormatJSON, FormatConsole))
	}

	return err
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// Instrument converts the file into instrument settings logging to l. The
// extra options are applied last.
func (cfg *Config) Instrument(l logger.Logger, extra ...instrument.Option) (*instrument.Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []instrument.Option{instrument.WithLogger(l)}
	if cfg.Model != "" {
		opts = append(opts, instrument.WithModel(cfg.Model))
	}
	if cfg.TimeoutMS != nil {
		opts = append(opts, instrument.WithTimeout(ms(*cfg.TimeoutMS)))
	}
	if cfg.PollIntervalMS != nil {
		opts = append(opts, instrument.WithPollInterval(ms(*cfg.PollIntervalMS)))
	}
	if cfg.FailureThreshold != nil {
		opts = append(opts, instrument.WithFailureThreshold(*cfg.FailureThreshold))
	}
	if cfg.TurnaroundMS != nil {
		opts = append(opts, instrument.WithTurnaround(ms(*cfg.TurnaroundMS)))
	}
	if cfg.SwitchHeaterSettleMS != nil {
		opts = append(opts, instrument.WithSettleTime(ms(*cfg.SwitchHeaterSettleMS)))
	}
	if cfg.ISOBUSAddress != nil {
		opts = append(opts, instrument.WithAddress(*cfg.ISOBUSAddress))
	}
	opts = append(opts, instrument.WithExtendedResolution(cfg.ExtendedResolution))
	opts = append(opts, extra...)

	return instrument.NewConfig(
		*cfg.MaxRetries,
		*cfg.ConvergenceTolerance,
		*cfg.ConvergencePolls,
		ms(*cfg.StalenessThresholdMS),
		opts...,
	)
}

// Logger builds the logger the file asks for. Console output uses the
// console-slog handler.
func (cfg *Config) Logger() (logger.Logger, error) {
	level := logger.InfoLevel
	if cfg.LogLevel != "" {
		var err error
		if level, err = logger.ParseLevel(cfg.LogLevel); err != nil {
			return nil, fmt.Errorf("config: log_level: %w", err)
		}
	}

	return logger.NewSlogWithOptions(logger.SlogOptions{
		Level:   level,
		Console: strings.EqualFold(cfg.LogFormat, FormatConsole),
	}), nil
}
