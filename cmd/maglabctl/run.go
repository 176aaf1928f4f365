package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.uber.org/multierr"

	"github.com/arloliu/go-maglab/config"
	"github.com/arloliu/go-maglab/instrument"
	"github.com/arloliu/go-maglab/internal/sim"
	"github.com/arloliu/go-maglab/logger"
	"github.com/arloliu/go-maglab/transport"
	"github.com/arloliu/go-maglab/transport/prologix"
	"github.com/arloliu/go-maglab/transport/serialport"
	"github.com/arloliu/go-maglab/transport/tcpip"
)

// errUsage marks command line mistakes.
var errUsage = errors.New("usage")

func usagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

// simOptions configures the simulator behind SIM:: resources.
var simOptions []sim.Option

type options struct {
	configPath  string
	adapterPort string
	wait        bool
	watchFor    time.Duration
}

// newRouter wires every resource family to its transport.
func newRouter(adapterPort string, l logger.Logger) *transport.Router {
	r := transport.NewRouter()
	r.Handle(transport.KindSim, sim.Opener(simOptions...))
	r.Handle(transport.KindTCPIP, tcpip.NewOpener(l))
	r.Handle(transport.KindSerial, serialport.NewOpener(serialport.WithLogger(l)))
	if adapterPort != "" {
		r.Handle(transport.KindGPIB, prologix.NewOpener(adapterPort, prologix.WithLogger(l)))
	}

	return r
}

// parseFlags loads the config file and applies the flags set on the command
// line over it.
func parseFlags(args []string, stderr io.Writer) (*config.Config, *options, []string, error) {
	fs := flag.NewFlagSet("maglabctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(stderr, fs) }

	opts := &options{}
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&opts.adapterPort, "adapter", "", "serial port of the Prologix GPIB-USB adapter for GPIB resources")
	fs.BoolVar(&opts.wait, "wait", false, "wait until the output settled after a control command")
	fs.DurationVar(&opts.watchFor, "for", 0, "how long watch runs; 0 runs until interrupted")

	resource := fs.String("resource", "", "resource id, e.g. GPIB0::25::INSTR or SIM::IPS120")
	model := fs.String("model", "", "expected model, IPS120, ITC503 or ILM211; detected when empty")
	timeout := fs.Duration("timeout", 0, "reply timeout")
	poll := fs.Duration("poll", 0, "status poll interval")
	retries := fs.Int("retries", 0, "retries of idempotent commands after a timeout")
	tolerance := fs.Float64("tolerance", 0, "convergence tolerance in the output unit")
	polls := fs.Int("polls", 0, "consecutive converged polls before Holding")
	staleness := fs.Duration("staleness", 0, "age after which the state is stale")
	address := fs.Int("address", -1, "ISOBUS address, 0 to 8")
	extended := fs.Bool("extended", false, "use extended resolution")
	level := fs.String("log-level", "", "log level")
	format := fs.String("log-format", "", "log format, json or console")

	if err := fs.Parse(args); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %w", errUsage, err)
	}

	cfg := &config.Config{}
	if opts.configPath != "" {
		loaded, err := config.Read(opts.configPath)
		if err != nil {
			return nil, nil, nil, err
		}
		cfg = loaded
	}

	ms := func(d time.Duration) *int { v := int(d / time.Millisecond); return &v }
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "resource":
			cfg.ResourceID = *resource
		case "model":
			cfg.Model = *model
		case "timeout":
			cfg.TimeoutMS = ms(*timeout)
		case "poll":
			cfg.PollIntervalMS = ms(*poll)
		case "retries":
			cfg.MaxRetries = retries
		case "tolerance":
			cfg.ConvergenceTolerance = tolerance
		case "polls":
			cfg.ConvergencePolls = polls
		case "staleness":
			cfg.StalenessThresholdMS = ms(*staleness)
		case "address":
			cfg.ISOBUSAddress = address
		case "extended":
			cfg.ExtendedResolution = *extended
		case "log-level":
			cfg.LogLevel = *level
		case "log-format":
			cfg.LogFormat = *format
		}
	})

	return cfg, opts, fs.Args(), nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	err := execute(ctx, args, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "maglabctl: %v\n", err)
	}

	return exitCode(err)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, opts, rest, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return usagef("missing command")
	}
	name, rest := rest[0], rest[1:]

	cmd, ok := commands[name]
	if !ok {
		return usagef("unknown command %q", name)
	}
	if cmd.offline != nil {
		return cmd.offline(stdout)
	}
	if err := cmd.check(rest); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	l, err := cfg.Logger()
	if err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	// a one-shot command leaves the output where it put it
	icfg, err := cfg.Instrument(l, instrument.WithSafeShutdown(false))
	if err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	inst, err := instrument.Open(ctx, newRouter(opts.adapterPort, l), cfg.ResourceID, icfg)
	if err != nil {
		return err
	}

	e := &env{inst: inst, opts: opts, out: stdout}
	err = cmd.run(ctx, e, rest)
	if err == nil && opts.wait && cmd.settles {
		err = e.waitSettled(ctx)
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	return multierr.Append(err, inst.Close(closeCtx))
}

func parseFloatArg(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, usagef("%s: %q is not a number", name, s)
	}

	return v, nil
}
