package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/go-maglab/codec"
	"github.com/arloliu/go-maglab/instrument"
	"github.com/arloliu/go-maglab/state"
)

type env struct {
	inst *instrument.Instrument
	opts *options
	out  io.Writer
}

type command struct {
	args    string
	summary string
	// nargs is the argument count, or -1 when run checks the arguments.
	nargs int
	// settles is set for commands that -wait applies to.
	settles bool
	offline func(out io.Writer) error
	run     func(ctx context.Context, e *env, args []string) error
}

func (c command) check(args []string) error {
	if c.nargs >= 0 && len(args) != c.nargs {
		return usagef("expected %d argument(s): %s", c.nargs, c.args)
	}

	return nil
}

var commands = map[string]command{
	"status": {
		summary: "print the identity, mode, readings and decoded status",
		run:     runStatus,
	},
	"set-field": {
		args: "<tesla>", nargs: 1, settles: true,
		summary: "set the target field and sweep to it",
		run: func(ctx context.Context, e *env, args []string) error {
			v, err := parseFloatArg("field", args[0])
			if err != nil {
				return err
			}
			return e.inst.SetField(ctx, v)
		},
	},
	"set-temp": {
		args: "<kelvin>", nargs: 1, settles: true,
		summary: "set the temperature set point and regulate to it",
		run: func(ctx context.Context, e *env, args []string) error {
			v, err := parseFloatArg("temperature", args[0])
			if err != nil {
				return err
			}
			if err := e.inst.SetTemperature(ctx, v); err != nil {
				return err
			}
			return e.autoHeater(ctx)
		},
	},
	"sweep": {
		args: "start <step> | stop", nargs: -1, settles: true,
		summary: "run the sweep program from a step, or stop it",
		run:     runSweep,
	},
	"hold": {
		summary: "stop the output where it is",
		run:     func(ctx context.Context, e *env, _ []string) error { return e.inst.Stop(ctx) },
	},
	"heater": {
		args: "on|off", nargs: 1, settles: true,
		summary: "switch the persistent switch heater",
		run: func(ctx context.Context, e *env, args []string) error {
			switch args[0] {
			case "on":
				return e.inst.SetSwitchHeater(ctx, true)
			case "off":
				return e.inst.SetSwitchHeater(ctx, false)
			default:
				return usagef("heater: %q is not on or off", args[0])
			}
		},
	},
	"clear-fault": {
		summary: "clear a latched fault and return to remote control",
		run:     func(ctx context.Context, e *env, _ []string) error { return e.inst.ClearFault(ctx) },
	},
	"level": {
		args: "<channel>", nargs: 1,
		summary: "print the cryogen level of a level meter channel",
		run: func(ctx context.Context, e *env, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return usagef("level: channel %q is not an integer", args[0])
			}
			level, err := e.inst.Level(ctx, n)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(e.out, "channel %d: %s\n", n, level)
			return err
		},
	},
	"needle-valve": {
		args: "<percent>", nargs: 1,
		summary: "move the level meter needle valve",
		run: func(ctx context.Context, e *env, args []string) error {
			v, err := parseFloatArg("needle valve", args[0])
			if err != nil {
				return err
			}
			return e.inst.SetNeedleValve(ctx, v)
		},
	},
	"watch": {
		summary: "print mode transitions until interrupted or -for elapsed",
		run:     runWatch,
	},
	"version": {
		summary: "print the version",
		offline: func(out io.Writer) error {
			_, err := fmt.Fprintf(out, "maglabctl version %s\n", version)
			return err
		},
	},
}

func runSweep(ctx context.Context, e *env, args []string) error {
	switch {
	case len(args) == 1 && args[0] == "stop":
		return e.inst.Stop(ctx)
	case len(args) == 2 && args[0] == "start":
		step, err := strconv.Atoi(args[1])
		if err != nil {
			return usagef("sweep: step %q is not an integer", args[1])
		}
		return e.inst.StartSweep(ctx, step)
	default:
		return usagef("sweep: expected start <step> or stop")
	}
}

func runStatus(ctx context.Context, e *env, _ []string) error {
	snap, err := e.inst.Monitor().Refresh(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(e.out, "instrument: %s\n", e.inst.Identity())
	fmt.Fprintf(e.out, "resource:   %s\n", e.inst.Resource())
	fmt.Fprintf(e.out, "mode:       %s\n", snap.Mode)
	fmt.Fprintf(e.out, "measured:   %s\n", optional(snap.Measured))
	fmt.Fprintf(e.out, "setpoint:   %s\n", optional(snap.Setpoint))
	if snap.Fault != "" {
		fmt.Fprintf(e.out, "fault:      %s\n", snap.Fault)
	}
	if snap.LastStatus != nil {
		for _, line := range e.inst.Describe(*snap.LastStatus) {
			fmt.Fprintf(e.out, "  %s\n", line)
		}
	}

	return e.inst.Err()
}

func runWatch(ctx context.Context, e *env, _ []string) error {
	if e.opts.watchFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.watchFor)
		defer cancel()
	}

	events, cancel := e.inst.Monitor().Subscribe()
	defer cancel()

	snap := e.inst.Snapshot()
	printSnapshot(e.out, snap.LastUpdated, "", snap)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return e.inst.Err()
			}
			printSnapshot(e.out, ev.Snapshot.LastUpdated, ev.From.String()+" -> ", ev.Snapshot)
		}
	}
}

// autoHeater puts the heater under automatic control so the set point is
// regulated, keeping the gas setting.
func (e *env) autoHeater(ctx context.Context) error {
	st, err := e.inst.Status(ctx)
	if err != nil {
		return err
	}
	mode, _ := st.Field("A")
	if mode&1 == 1 {
		return nil
	}
	_, err = e.inst.Execute(ctx, codec.SetControlMode(true, mode&2 != 0))

	return err
}

func (e *env) waitSettled(ctx context.Context) error {
	snap, err := e.inst.WaitSettled(ctx)
	if err != nil {
		return err
	}
	printSnapshot(e.out, snap.LastUpdated, "", snap)

	return nil
}

func printSnapshot(out io.Writer, at time.Time, prefix string, snap state.Snapshot) {
	fmt.Fprintf(out, "%s %s%s measured=%s target=%s\n",
		at.Format(time.TimeOnly), prefix, snap.Mode, optional(snap.Measured), optional(snap.Target))
}

func optional(v *float64) string {
	if v == nil {
		return "-"
	}

	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, "Usage: maglabctl [flags] <command> [args]\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		c := commands[name]
		fmt.Fprintf(w, "  %-24s %s\n", strings.TrimSpace(name+" "+c.args), c.summary)
	}
	fmt.Fprintf(w, "\nModels: %s\n\nFlags:\n", strings.Join(codec.Models(), ", "))
	fs.PrintDefaults()
}
