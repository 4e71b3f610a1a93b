package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunStatus(t *testing.T) {
	tests := []struct {
		status   RunStatus
		valid    bool
		terminal bool
	}{
		{RunStatusPending, true, false},
		{RunStatusRunning, true, false},
		{RunStatusSucceeded, true, true},
		{RunStatusFailed, true, true},
		{RunStatusCancelled, true, true},
		{RunStatus("paused"), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.status.Valid())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestEncodeRun_Validate(t *testing.T) {
	tests := []struct {
		name    string
		run     EncodeRun
		wantErr error
	}{
		{"valid", EncodeRun{Input: "in.mkv", Output: "out.mp4"}, nil},
		{"valid with status", EncodeRun{Input: "in.mkv", Output: "out.mp4", Status: RunStatusRunning}, nil},
		{"missing input", EncodeRun{Output: "out.mp4"}, ErrInputRequired},
		{"missing output", EncodeRun{Input: "in.mkv"}, ErrOutputRequired},
		{"bad status", EncodeRun{Input: "in.mkv", Output: "out.mp4", Status: "paused"}, ErrInvalidStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEncodeRun_Lifecycle(t *testing.T) {
	run := EncodeRun{Input: "in.mkv", Output: "out.mp4", Status: RunStatusPending}
	assert.Zero(t, run.Duration())

	start := time.Now().Add(-time.Minute)
	run.MarkStarted(4242, start)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.Equal(t, 4242, run.PID)
	assert.GreaterOrEqual(t, run.Duration(), time.Minute)

	eta := int64(30)
	run.Percent = 87.5
	run.ETASeconds = &eta

	code := 0
	run.MarkFinished(RunStatusSucceeded, &code, "", start.Add(90*time.Second))
	assert.Equal(t, RunStatusSucceeded, run.Status)
	assert.Equal(t, 90*time.Second, run.Duration())
	assert.InDelta(t, 100.0, run.Percent, 0.001)
	assert.Nil(t, run.ETASeconds)
	assert.Equal(t, 0, *run.ExitCode)
}

func TestEncodeRun_MarkFinishedFailureKeepsProgress(t *testing.T) {
	run := EncodeRun{Percent: 42}
	run.MarkFinished(RunStatusCancelled, nil, "HandBrakeCLI terminated: signal: killed", time.Now())

	assert.Equal(t, RunStatusCancelled, run.Status)
	assert.Nil(t, run.ExitCode)
	assert.InDelta(t, 42.0, run.Percent, 0.001)
	assert.Contains(t, run.Error, "killed")
}
