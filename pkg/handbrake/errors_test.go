package handbrake

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_MatchesKindAndCause(t *testing.T) {
	err := controlError(ActionKill, os.ErrProcessDone)

	assert.ErrorIs(t, err, ErrControlFailed)
	assert.ErrorIs(t, err, os.ErrProcessDone)
	assert.NotErrorIs(t, err, ErrUnknown)
	assert.True(t, IsControlFailure(err))
	assert.Equal(t, ActionKill, ActionOf(err))
	assert.Equal(t, "process control failed (kill): os: process already finished", err.Error())
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "invalid executable with reason",
			err:  invalidExecutableError("/bin/hb", "'--version' command returned empty output", nil),
			want: "invalid HandBrakeCLI executable at /bin/hb: '--version' command returned empty output",
		},
		{
			name: "spawn with cause",
			err:  spawnError("/bin/hb", errors.New("permission denied")),
			want: "failed to spawn HandBrakeCLI process at /bin/hb: permission denied",
		},
		{
			name: "not found without path",
			err:  notFoundError("", "searched PATH", nil),
			want: "HandBrakeCLI executable not found: searched PATH",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestActionOf_NonControlError(t *testing.T) {
	assert.Empty(t, ActionOf(spawnError("x", nil)))
	assert.Empty(t, ActionOf(errors.New("plain")))
	assert.Empty(t, ActionOf(nil))
}
