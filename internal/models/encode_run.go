package models

import (
	"errors"
	"time"
)

// RunStatus is the lifecycle state of an encode run.
type RunStatus string

const (
	// RunStatusPending indicates the run is recorded but HandBrakeCLI has not started.
	RunStatusPending RunStatus = "pending"
	// RunStatusRunning indicates HandBrakeCLI is running.
	RunStatusRunning RunStatus = "running"
	// RunStatusSucceeded indicates HandBrakeCLI exited with status zero.
	RunStatusSucceeded RunStatus = "succeeded"
	// RunStatusFailed indicates a spawn failure or a non-zero exit.
	RunStatusFailed RunStatus = "failed"
	// RunStatusCancelled indicates the run ended after a cancel or kill request.
	RunStatusCancelled RunStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions can happen.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// Validation errors for EncodeRun.
var (
	ErrInputRequired  = errors.New("input is required")
	ErrOutputRequired = errors.New("output is required")
	ErrInvalidStatus  = errors.New("invalid run status")
)

// EncodeRun is the persisted record of one HandBrakeCLI job.
type EncodeRun struct {
	BaseModel

	// Name is a free-form label, e.g. the manifest entry the run came from.
	Name   string   `gorm:"size:255" json:"name,omitempty"`
	Input  string   `gorm:"not null;size:4096" json:"input"`
	Output string   `gorm:"not null;size:4096" json:"output"`
	Args   []string `gorm:"serializer:json;type:text" json:"args"`

	Status RunStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`

	Percent    float64  `json:"percent"`
	FPS        float64  `gorm:"column:fps" json:"fps"`
	AvgFPS     *float64 `gorm:"column:avg_fps" json:"avg_fps,omitempty"`
	ETASeconds *int64   `gorm:"column:eta_seconds" json:"eta_seconds,omitempty"`

	ExitCode *int   `json:"exit_code,omitempty"`
	Error    string `gorm:"size:4096" json:"error,omitempty"`

	HandBrakeVersion string `gorm:"column:handbrake_version;size:100" json:"handbrake_version,omitempty"`
	PID              int    `gorm:"column:pid" json:"pid,omitempty"`

	// Filled from the job configuration echo.
	SourceTitle  int    `json:"source_title,omitempty"`
	VideoEncoder string `gorm:"size:50" json:"video_encoder,omitempty"`
	Container    string `gorm:"size:50" json:"container,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `gorm:"index" json:"finished_at,omitempty"`
}

// TableName returns the table name for EncodeRun.
func (EncodeRun) TableName() string {
	return "encode_runs"
}

// Validate checks the fields required before a run is stored.
func (r *EncodeRun) Validate() error {
	if r.Input == "" {
		return ErrInputRequired
	}
	if r.Output == "" {
		return ErrOutputRequired
	}
	if r.Status != "" && !r.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// Duration returns the wall time between start and finish. Runs that are
// still going are measured up to now; runs that never started return zero.
func (r *EncodeRun) Duration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	if r.FinishedAt == nil {
		return time.Since(*r.StartedAt)
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// MarkStarted records a successful spawn.
func (r *EncodeRun) MarkStarted(pid int, at time.Time) {
	r.Status = RunStatusRunning
	r.PID = pid
	r.StartedAt = &at
}

// MarkFinished records a terminal status. exitCode may be nil when the
// process was killed by a signal or never spawned.
func (r *EncodeRun) MarkFinished(status RunStatus, exitCode *int, errMsg string, at time.Time) {
	r.Status = status
	r.ExitCode = exitCode
	r.Error = errMsg
	r.FinishedAt = &at
	if status == RunStatusSucceeded {
		r.Percent = 100
		r.ETASeconds = nil
	}
}
