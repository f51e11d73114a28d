package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger(level LogLevel) (Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return NewZerologLogger(&Config{
		Level:   level,
		Format:  JSONFormat,
		Outputs: []io.Writer{buf},
	}), buf
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"trace", TraceLevel},
		{"debug", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"err", ErrorLevel},
		{"fatal", FatalLevel},
		{"ERROR", ErrorLevel},
		{"unknown", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLogLevel(tt.input))
		})
	}
}

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "trace", TraceLevel.String())
	assert.Equal(t, "debug", DebugLevel.String())
	assert.Equal(t, "info", InfoLevel.String())
	assert.Equal(t, "warn", WarnLevel.String())
	assert.Equal(t, "error", ErrorLevel.String())
	assert.Equal(t, "fatal", FatalLevel.String())
}

func TestParseOutputFormat(t *testing.T) {
	assert.Equal(t, JSONFormat, ParseOutputFormat("json"))
	assert.Equal(t, ConsoleFormat, ParseOutputFormat("console"))
	assert.Equal(t, ConsoleFormat, ParseOutputFormat(""))
}

func TestZerologLogger_JSONOutput(t *testing.T) {
	log, buf := newBufferedLogger(InfoLevel)

	log.Info("token saved",
		String("key", "access"),
		Int("attempt", 2),
		Bool("durable", true),
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "token saved", entry["message"])
	assert.Equal(t, "access", entry["key"])
	assert.Equal(t, float64(2), entry["attempt"])
	assert.Equal(t, true, entry["durable"])
	assert.Equal(t, "info", entry["level"])
}

func TestZerologLogger_LevelFiltering(t *testing.T) {
	log, buf := newBufferedLogger(WarnLevel)

	log.Debug("hidden")
	log.Info("hidden too")
	assert.Empty(t, buf.String())

	log.Warn("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestZerologLogger_ErrField(t *testing.T) {
	log, buf := newBufferedLogger(InfoLevel)

	log.Error("operation failed", Err(errors.New("disk full")))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "disk full", entry["error"])
}

func TestZerologLogger_WithSubsystem(t *testing.T) {
	log, buf := newBufferedLogger(InfoLevel)

	log.WithSubsystem("gateway").Info("cache installed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "gateway", entry["subsystem"])
}

func TestZerologLogger_WithFields(t *testing.T) {
	log, buf := newBufferedLogger(InfoLevel)

	derived := log.WithFields(String("generation", "donantes-v1"))
	derived.Info("activated")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "donantes-v1", entry["generation"])
}

func TestZerologLogger_IsLevelEnabled(t *testing.T) {
	log, _ := newBufferedLogger(InfoLevel)

	assert.False(t, log.IsLevelEnabled(TraceLevel))
	assert.False(t, log.IsLevelEnabled(DebugLevel))
	assert.True(t, log.IsLevelEnabled(InfoLevel))
	assert.True(t, log.IsLevelEnabled(ErrorLevel))
}
