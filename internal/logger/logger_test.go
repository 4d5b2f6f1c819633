package logger_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/sensorstream/internal/errors"
	"codeberg.org/mutker/sensorstream/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in    string
		want  logger.LogLevel
		valid bool
	}{
		{"debug", logger.DebugLevel, true},
		{"INFO", logger.InfoLevel, true},
		{"", logger.InfoLevel, true},
		{"warning", logger.WarnLevel, true},
		{"warn", logger.WarnLevel, true},
		{"error", logger.ErrorLevel, true},
		{"verbose", logger.InfoLevel, false},
	}

	for _, tt := range tests {
		got, ok := logger.ParseLevel(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.valid, ok, tt.in)
	}
}

func TestErrorWithCode(t *testing.T) {
	logger.SetLogLevel(logger.DebugLevel)

	var buf bytes.Buffer
	log := logger.New(&buf).With("collector")

	err := errors.New().New(errors.ErrFragmentOverflow)
	log.ErrorWithCode(err).Msg("session ended")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "fragment_overflow", line["error_code"])
	assert.Equal(t, "collector", line["component"])
	assert.Equal(t, "session ended", line["message"])
}

func TestInitWritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "sensorstream.log")

	closer := logger.Init(logger.Options{
		Level:     logger.InfoLevel,
		IsService: true,
		File:      path,
		Console:   &console,
	})

	logger.Info().Msg("listening")
	logger.Debug().Msg("hidden")
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), "listening")
	assert.NotContains(t, console.String(), "hidden")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"listening"`)
}
