package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/arloliu/go-maglab/logger"
)

const minimal = `
resource_id: GPIB0::25::INSTR
max_retries: 2
convergence_tolerance: 0.001
convergence_polls: 3
staleness_threshold_ms: 10000
`

func TestParse_Minimal(t *testing.T) {
	cfg, err := Parse(strings.NewReader(minimal))
	require.NoError(t, err)

	assert.Equal(t, "GPIB0::25::INSTR", cfg.ResourceID)
	assert.Equal(t, 2, *cfg.MaxRetries)
	assert.InDelta(t, 0.001, *cfg.ConvergenceTolerance, 1e-12)
	assert.Nil(t, cfg.TimeoutMS)

	ic, err := cfg.Instrument(logger.NewPermissiveMockLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, ic.MaxRetries())
	assert.Equal(t, -1, ic.Address())
	assert.Empty(t, ic.Model())
	assert.True(t, ic.SafeShutdown())
}

func TestParse_AllKeys(t *testing.T) {
	doc := minimal + `
model: ITC503
timeout_ms: 250
poll_interval_ms: 500
failure_threshold: 4
turnaround_ms: 5
switch_heater_settle_ms: 20000
isobus_address: 3
extended_resolution: true
log_level: debug
log_format: console
`
	cfg, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)

	ic, err := cfg.Instrument(logger.NewPermissiveMockLogger())
	require.NoError(t, err)
	assert.Equal(t, "ITC503", ic.Model())
	assert.Equal(t, 250*time.Millisecond, ic.Timeout())
	assert.Equal(t, 500*time.Millisecond, ic.PollInterval())
	assert.Equal(t, 20*time.Second, ic.SettleTime())
	assert.Equal(t, 3, ic.Address())
	assert.True(t, ic.ExtendedResolution())

	l, err := cfg.Logger()
	require.NoError(t, err)
	assert.Equal(t, logger.DebugLevel, l.Level())
}

func TestParse_MissingRequired(t *testing.T) {
	_, err := Parse(strings.NewReader("resource_id: SIM::IPS120\n"))
	require.Error(t, err)

	errs := multierr.Errors(err)
	require.Len(t, errs, 4)
	for i, key := range []string{"max_retries", "convergence_tolerance", "convergence_polls", "staleness_threshold_ms"} {
		assert.Contains(t, errs[i].Error(), key)
	}
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse(strings.NewReader(""))
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 5)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown key", minimal + "baud: 9600\n", "baud"},
		{"negative timeout", minimal + "timeout_ms: -1\n", "timeout_ms"},
		{"bad level", minimal + "log_level: loud\n", "log_level"},
		{"bad format", minimal + "log_format: xml\n", "log_format"},
		{"wrong type", strings.Replace(minimal, "max_retries: 2", "max_retries: two", 1), "two"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInstrument_RejectsOutOfRange(t *testing.T) {
	cfg, err := Parse(strings.NewReader(minimal + "model: MERCURY\n"))
	require.NoError(t, err)

	_, err = cfg.Instrument(logger.NewPermissiveMockLogger())
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maglab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "GPIB0::25::INSTR", cfg.ResourceID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
