package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/superyu1337/handbrake-go/internal/models"
)

// encodeRunRepo implements EncodeRunRepository using GORM.
type encodeRunRepo struct {
	db *gorm.DB
}

// NewEncodeRunRepository creates a new EncodeRunRepository.
func NewEncodeRunRepository(db *gorm.DB) EncodeRunRepository {
	return &encodeRunRepo{db: db}
}

var terminalStatuses = []models.RunStatus{
	models.RunStatusSucceeded,
	models.RunStatusFailed,
	models.RunStatusCancelled,
}

// Create stores a new run.
func (r *encodeRunRepo) Create(ctx context.Context, run *models.EncodeRun) error {
	if run.Status == "" {
		run.Status = models.RunStatusPending
	}
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validating encode run: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("creating encode run: %w", err)
	}
	return nil
}

// Update saves an existing run.
func (r *encodeRunRepo) Update(ctx context.Context, run *models.EncodeRun) error {
	if run.ID.IsZero() {
		return fmt.Errorf("updating encode run: missing id")
	}
	if err := r.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("updating encode run: %w", err)
	}
	return nil
}

// GetByID retrieves a run by ID.
func (r *encodeRunRepo) GetByID(ctx context.Context, id models.ULID) (*models.EncodeRun, error) {
	var run models.EncodeRun
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting encode run by ID: %w", err)
	}
	return &run, nil
}

// List retrieves runs, newest first. ULIDs sort by creation time.
func (r *encodeRunRepo) List(ctx context.Context, filter RunFilter) ([]*models.EncodeRun, error) {
	query := r.db.WithContext(ctx).Order("id DESC")
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var runs []*models.EncodeRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing encode runs: %w", err)
	}
	return runs, nil
}

// DeleteFinishedBefore removes terminal runs that finished before t.
func (r *encodeRunRepo) DeleteFinishedBefore(ctx context.Context, t time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN ? AND finished_at < ?", terminalStatuses, t).
		Delete(&models.EncodeRun{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting finished encode runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// FailUnfinished marks every pending or running run as failed.
func (r *encodeRunRepo) FailUnfinished(ctx context.Context, reason string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.EncodeRun{}).
		Where("status IN ?", []models.RunStatus{models.RunStatusPending, models.RunStatusRunning}).
		Updates(map[string]any{
			"status":      models.RunStatusFailed,
			"error":       reason,
			"finished_at": time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failing unfinished encode runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
