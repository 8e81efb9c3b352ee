package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
		ok   bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, true},
		{" WARNING ", zerolog.WarnLevel, true},
		{"error", zerolog.ErrorLevel, true},
		{"off", zerolog.Disabled, true},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		assert.Equal(t, tt.want, got, "ParseLevel(%q)", tt.in)
		assert.Equal(t, tt.ok, ok, "ParseLevel(%q) ok", tt.in)
	}
}

func TestNew_JSONFormat(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	var buf bytes.Buffer
	logger := New("supervisor", Options{Level: "info", Format: "json", Out: &buf})

	logger.Debug().Msg("hidden")
	logger.Info().Str("agent", "W").Msg("registered")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "supervisor", line["app"])
	assert.Equal(t, "W", line["agent"])
	assert.Equal(t, "registered", line["message"])
}

func TestNew_EnvOverridesLevel(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	var buf bytes.Buffer
	logger := New("worker", Options{Level: "debug", Format: "json", Out: &buf})

	logger.Warn().Msg("dropped")
	assert.Zero(t, buf.Len())
}
