// Command maglabctl controls an Oxford IPS120 magnet supply, ITC503
// temperature controller or ILM211 level meter from the command line.
//
// Usage:
//
//	maglabctl [flags] <command> [args]
//
// Settings come from the YAML file named by -config; flags given on the
// command line override it. Retries, convergence tolerance, convergence polls
// and staleness must be set by one or the other.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
