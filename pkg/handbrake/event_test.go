package handbrake

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyLog(t *testing.T) {
	tests := []struct {
		line string
		want LogLevel
	}{
		{"[10:00:00] scan: 1 title(s)", LogInfo},
		{"[10:00:00] Warning: audio track dropped", LogWarning},
		{"[10:00:00] ERROR: decoder failed", LogError},
		{"error while opening", LogError},
		{"no timestamp here", LogUnknown},
		{"", LogUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyLog(tt.line), "line %q", tt.line)
	}
}

func TestEventKinds(t *testing.T) {
	assert.Equal(t, KindConfig, JobConfig{}.Kind())
	assert.Equal(t, KindProgress, Progress{}.Kind())
	assert.Equal(t, KindLog, Log{}.Kind())
	assert.Equal(t, KindFragment, Fragment(nil).Kind())
	assert.Equal(t, KindDone, Done{}.Kind())
}

func TestNewDone_WaitFailure(t *testing.T) {
	done := newDone(nil, errors.New("pipe closed"), 0)

	assert.False(t, done.Success())
	require.Error(t, done.Err())
	assert.Equal(t, "waiting for HandBrakeCLI: pipe closed", done.Failure.Message)
	assert.Nil(t, done.Failure.ExitCode)
}
