// Package handlers provides the HTTP API handlers for hbctl.
package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/superyu1337/handbrake-go/internal/models"
	"github.com/superyu1337/handbrake-go/internal/repository"
	"github.com/superyu1337/handbrake-go/internal/service/encode"
	"github.com/superyu1337/handbrake-go/pkg/handbrake"
)

// EncodeService is the part of *encode.Service the API uses.
type EncodeService interface {
	Submit(ctx context.Context, req encode.Request) (*models.EncodeRun, error)
	Get(ctx context.Context, id models.ULID) (*models.EncodeRun, error)
	List(ctx context.Context, filter repository.RunFilter) ([]*models.EncodeRun, error)
	Active() []*models.EncodeRun
	Cancel(ctx context.Context, id models.ULID) error
	Kill(ctx context.Context, id models.ULID) error
	Stats(ctx context.Context, id models.ULID) (handbrake.ProcessStats, error)
	Subscribe(runID models.ULID) *encode.Subscriber
	Unsubscribe(id string)
}

// RunResponse represents an encode run in API responses.
type RunResponse struct {
	ID               string           `json:"id"`
	Name             string           `json:"name,omitempty"`
	Input            string           `json:"input"`
	Output           string           `json:"output"`
	Args             []string         `json:"args"`
	Status           models.RunStatus `json:"status" enum:"pending,running,succeeded,failed,cancelled"`
	Percent          float64          `json:"percent"`
	FPS              float64          `json:"fps"`
	AvgFPS           *float64         `json:"avg_fps,omitempty"`
	ETASeconds       *int64           `json:"eta_seconds,omitempty"`
	ExitCode         *int             `json:"exit_code,omitempty"`
	Error            string           `json:"error,omitempty"`
	HandBrakeVersion string           `json:"handbrake_version,omitempty"`
	PID              int              `json:"pid,omitempty"`
	SourceTitle      int              `json:"source_title,omitempty"`
	VideoEncoder     string           `json:"video_encoder,omitempty"`
	Container        string           `json:"container,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	StartedAt        *time.Time       `json:"started_at,omitempty"`
	FinishedAt       *time.Time       `json:"finished_at,omitempty"`
	DurationSeconds  float64          `json:"duration_seconds,omitempty"`
}

// RunFromModel converts a run to its API form.
func RunFromModel(r *models.EncodeRun) RunResponse {
	args := r.Args
	if args == nil {
		args = []string{}
	}
	return RunResponse{
		ID:               r.ID.String(),
		Name:             r.Name,
		Input:            r.Input,
		Output:           r.Output,
		Args:             args,
		Status:           r.Status,
		Percent:          r.Percent,
		FPS:              r.FPS,
		AvgFPS:           r.AvgFPS,
		ETASeconds:       r.ETASeconds,
		ExitCode:         r.ExitCode,
		Error:            r.Error,
		HandBrakeVersion: r.HandBrakeVersion,
		PID:              r.PID,
		SourceTitle:      r.SourceTitle,
		VideoEncoder:     r.VideoEncoder,
		Container:        r.Container,
		CreatedAt:        r.CreatedAt,
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
		DurationSeconds:  r.Duration().Seconds(),
	}
}

// parseRunID parses a path id, answering 400 for malformed ids.
func parseRunID(s string) (models.ULID, error) {
	id, err := models.ParseULID(s)
	if err != nil {
		return models.ULID{}, huma.Error400BadRequest("invalid run id", err)
	}
	return id, nil
}

// serviceError maps encode service errors to HTTP errors.
func serviceError(err error) error {
	switch {
	case errors.Is(err, encode.ErrRunNotFound):
		return huma.Error404NotFound("run not found")
	case errors.Is(err, encode.ErrRunNotActive):
		return huma.Error409Conflict("run is not active")
	case errors.Is(err, encode.ErrInvalidRequest):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, encode.ErrShuttingDown):
		return huma.Error503ServiceUnavailable("service is shutting down")
	case errors.Is(err, handbrake.ErrControlFailed):
		return huma.Error409Conflict("process control failed", err)
	default:
		return huma.Error500InternalServerError("internal error", err)
	}
}
