// Package repository provides persistence for encode history.
package repository

import (
	"context"
	"time"

	"github.com/superyu1337/handbrake-go/internal/models"
)

// RunFilter narrows EncodeRunRepository.List. Zero values mean no constraint.
type RunFilter struct {
	Status models.RunStatus
	// Limit caps the number of rows returned, newest first.
	Limit int
}

// EncodeRunRepository defines operations for encode run persistence.
type EncodeRunRepository interface {
	// Create stores a new run and assigns its ID.
	Create(ctx context.Context, run *models.EncodeRun) error
	// Update saves every field of an existing run.
	Update(ctx context.Context, run *models.EncodeRun) error
	// GetByID returns the run, or nil when it does not exist.
	GetByID(ctx context.Context, id models.ULID) (*models.EncodeRun, error)
	// List returns runs newest first.
	List(ctx context.Context, filter RunFilter) ([]*models.EncodeRun, error)
	// DeleteFinishedBefore removes terminal runs that finished before t.
	DeleteFinishedBefore(ctx context.Context, t time.Time) (int64, error)
	// FailUnfinished marks pending and running runs as failed. Used at
	// startup, when no process from an earlier instance can still be tracked.
	FailUnfinished(ctx context.Context, reason string) (int64, error)
}
