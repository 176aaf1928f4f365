package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogWithOptions(SlogOptions{Output: &buf, Level: InfoLevel})

	l.Debug("hidden")
	require.Zero(t, buf.Len())

	l.With("model", "IPS120").Info("engine: exchange", "cmd", "R7")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "engine: exchange", rec["msg"])
	assert.Equal(t, "IPS120", rec["model"])
	assert.Equal(t, "R7", rec["cmd"])
	assert.Contains(t, rec, "ts")
}

func TestSlogLogger_SetLevelSharedWithChild(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogWithOptions(SlogOptions{Output: &buf, Level: ErrorLevel})
	child := l.With("k", "v")

	assert.Equal(t, ErrorLevel, child.Level())
	l.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, child.Level())

	child.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestSlogLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogWithOptions(SlogOptions{Output: &buf, Level: DebugLevel, Console: true})
	l.Warn("monitor: stale status", "age", "3s")

	assert.Contains(t, buf.String(), "monitor: stale status")
	assert.Contains(t, buf.String(), "age")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"fatal", FatalLevel, false},
		{"verbose", InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, got.String(), got.String())
	}
}
