package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-maglab/codec"
	"github.com/arloliu/go-maglab/engine"
	"github.com/arloliu/go-maglab/internal/sim"
	"github.com/arloliu/go-maglab/monitor"
)

func fastSim(t *testing.T) {
	t.Helper()
	prev := simOptions
	simOptions = []sim.Option{sim.WithSpeed(600)}
	t.Cleanup(func() { simOptions = prev })
}

func simArgs(model string, args ...string) []string {
	base := []string{
		"-resource", "SIM::" + model,
		"-retries", "1",
		"-tolerance", "0.001",
		"-polls", "2",
		"-staleness", "2s",
		"-timeout", "50ms",
		"-poll", "15ms",
		"-log-level", "error",
	}

	return append(base, args...)
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	code := run(ctx, args, &stdout, &stderr)

	return code, stdout.String(), stderr.String()
}

func TestRun_Version(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "maglabctl version "+version+"\n", out)
}

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"explode"}},
		{"unknown flag", []string{"-baud", "9600", "status"}},
		{"missing required settings", []string{"-resource", "SIM::IPS120", "status"}},
		{"bad number", simArgs("IPS120", "set-field", "strong")},
		{"missing argument", simArgs("IPS120", "set-temp")},
		{"bad heater state", simArgs("IPS120", "heater", "warm")},
		{"bad sweep", simArgs("ITC503", "sweep", "sideways")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fastSim(t)
			code, _, stderr := runCLI(t, tt.args...)
			assert.Equal(t, exitUsage, code, stderr)
		})
	}
}

func TestRun_Status(t *testing.T) {
	fastSim(t)

	code, out, stderr := runCLI(t, simArgs("IPS120", "status")...)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "IPS120")
	assert.Contains(t, out, "resource:   SIM::IPS120")
	assert.Contains(t, out, "mode:       ")
	assert.NotContains(t, out, "Unknown")
}

func TestRun_SetFieldWait(t *testing.T) {
	fastSim(t)

	code, out, stderr := runCLI(t, simArgs("IPS120", "-wait", "set-field", "0.5")...)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "Holding")
	assert.Contains(t, out, "target=0.5")
}

func TestRun_SetTempWait(t *testing.T) {
	fastSim(t)

	code, out, stderr := runCLI(t, simArgs("ITC503", "-wait", "set-temp", "6")...)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "Holding")
}

func TestRun_LevelMeter(t *testing.T) {
	fastSim(t)

	code, out, stderr := runCLI(t, simArgs("ILM211", "level", "2")...)
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "channel 2: 62 %\n", out)

	code, _, stderr = runCLI(t, simArgs("ILM211", "needle-valve", "40")...)
	assert.Equal(t, exitOK, code, stderr)

	code, _, stderr = runCLI(t, simArgs("ILM211", "needle-valve", "140")...)
	assert.Equal(t, exitInvalid, code, stderr)

	code, _, _ = runCLI(t, simArgs("ILM211", "level", "x")...)
	assert.Equal(t, exitUsage, code)
}

func TestRun_ValidationExitCode(t *testing.T) {
	fastSim(t)

	code, _, stderr := runCLI(t, simArgs("IPS120", "set-field", "9")...)
	assert.Equal(t, exitInvalid, code, stderr)

	code, _, stderr = runCLI(t, simArgs("ITC503", "heater", "on")...)
	assert.Equal(t, exitInvalid, code, stderr)
}

func TestRun_ModelMismatch(t *testing.T) {
	fastSim(t)

	code, _, stderr := runCLI(t, simArgs("ITC503", "-model", "IPS120", "status")...)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "maglabctl:")
}

func TestRun_Watch(t *testing.T) {
	fastSim(t)

	code, out, stderr := runCLI(t, simArgs("IPS120", "-for", "60ms", "watch")...)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "measured=0")
}

func TestRun_ConfigFile(t *testing.T) {
	fastSim(t)

	path := filepath.Join(t.TempDir(), "maglab.yaml")
	doc := `
resource_id: SIM::ITC503
max_retries: 1
convergence_tolerance: 0.01
convergence_polls: 2
staleness_threshold_ms: 2000
timeout_ms: 50
poll_interval_ms: 15
log_level: error
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	code, out, stderr := runCLI(t, "-config", path, "status")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "ITC503")

	// flags override the file
	code, out, stderr = runCLI(t, "-config", path, "-resource", "SIM::IPS120", "status")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "IPS120")

	code, _, _ = runCLI(t, "-config", filepath.Join(t.TempDir(), "missing.yaml"), "status")
	assert.Equal(t, exitFailure, code)
}

func TestExitCode(t *testing.T) {
	invalid := &codec.ValidationError{Model: "IPS120", Op: codec.OpSetField, Reason: "out of range", Err: codec.ErrOutOfRange}
	timeout := &engine.ProtocolError{Model: "IPS120", Attempts: 2, Err: engine.ErrCommunicationTimeout, Cause: errors.New("read timeout")}
	rejected := &engine.InstrumentRejected{Model: "IPS120", Code: "J"}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"usage", usagef("missing command"), exitUsage},
		{"validation", fmt.Errorf("set field: %w", invalid), exitInvalid},
		{"timeout", timeout, exitCommunication},
		{"communication lost", fmt.Errorf("%w after 3 consecutive failures", monitor.ErrCommunicationLost), exitCommunication},
		{"rejected", rejected, exitRejected},
		{"fault", fmt.Errorf("%w: magnet quenched", monitor.ErrInstrumentFault), exitFault},
		{"other", errors.New("boom"), exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
