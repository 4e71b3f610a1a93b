package encode

import (
	"context"
	"time"

	"github.com/superyu1337/handbrake-go/internal/models"
)

// UpdateType names what changed in an Update.
type UpdateType string

// Update types.
const (
	UpdateQueued   UpdateType = "queued"
	UpdateStarted  UpdateType = "started"
	UpdateConfig   UpdateType = "config"
	UpdateProgress UpdateType = "progress"
	UpdateLog      UpdateType = "log"
	UpdateFinished UpdateType = "finished"
)

// Update is a status snapshot of one run. It is what subscribers, the live
// tracker and the status publisher receive.
type Update struct {
	RunID  string           `json:"run_id"`
	Seq    uint64           `json:"seq"`
	Type   UpdateType       `json:"type"`
	Status models.RunStatus `json:"status"`

	Percent    float64  `json:"percent"`
	FPS        float64  `json:"fps"`
	AvgFPS     *float64 `json:"avg_fps,omitempty"`
	ETASeconds *int64   `json:"eta_seconds,omitempty"`

	// Level and Message carry a log line for UpdateLog and the failure
	// reason for UpdateFinished.
	Level    string `json:"level,omitempty"`
	Message  string `json:"message,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether this is the last update of its run.
func (u Update) Terminal() bool {
	return u.Type == UpdateFinished
}

// Sink receives run updates outside the process, e.g. Redis or Kafka.
// Publish is called from the run's goroutine and should not block for long.
type Sink interface {
	Publish(ctx context.Context, u Update) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, u Update) error

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, u Update) error {
	return f(ctx, u)
}

// Subscriber receives updates in process, e.g. for server-sent events.
type Subscriber struct {
	ID string
	// RunID restricts the subscription to one run; zero means every run.
	RunID  models.ULID
	Events chan Update
}

func (s *Subscriber) matches(u Update) bool {
	return s.RunID.IsZero() || s.RunID.String() == u.RunID
}

// snapshot builds an update from the current state of run.
func snapshot(run *models.EncodeRun, typ UpdateType, seq uint64) Update {
	return Update{
		RunID:      run.ID.String(),
		Seq:        seq,
		Type:       typ,
		Status:     run.Status,
		Percent:    run.Percent,
		FPS:        run.FPS,
		AvgFPS:     run.AvgFPS,
		ETASeconds: run.ETASeconds,
		ExitCode:   run.ExitCode,
		Timestamp:  time.Now().UTC(),
	}
}
