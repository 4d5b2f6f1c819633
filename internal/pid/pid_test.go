package pid_test

import (
	"os"
	"strconv"
	"testing"

	"codeberg.org/mutker/sensorstream/internal/errors"
	"codeberg.org/mutker/sensorstream/internal/pid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRemove(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	require.NoError(t, pid.Write("collector"))

	data, err := os.ReadFile(pid.Path("collector"))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	require.NoError(t, pid.Remove("collector"))
	assert.NoFileExists(t, pid.Path("collector"))

	// removing twice is fine
	assert.NoError(t, pid.Remove("collector"))
}

func TestWriteAlreadyRunning(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	require.NoError(t, pid.Write("collector"))

	err := pid.Write("collector")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

func TestWriteOverwritesStale(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"dead process", "999999999"},
		{"garbage", "not-a-pid"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TMPDIR", t.TempDir())
			require.NoError(t, os.WriteFile(pid.Path("collector"), []byte(tt.content), 0o600))

			require.NoError(t, pid.Write("collector"))

			data, err := os.ReadFile(pid.Path("collector"))
			require.NoError(t, err)
			assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
		})
	}
}
