package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/superyu1337/handbrake-go/internal/manifest"
	"github.com/superyu1337/handbrake-go/internal/models"
	"github.com/superyu1337/handbrake-go/internal/service/encode"
)

// Submitter runs encode requests. *encode.Service satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req encode.Request) (*models.EncodeRun, error)
	Wait(ctx context.Context, id models.ULID) (*models.EncodeRun, error)
}

// Pruner deletes finished runs. *encode.Service satisfies it.
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// ManifestTask submits every job of the manifest at path and waits for the
// runs to finish. The file is read on each activation, so edits apply to
// the next one.
func ManifestTask(svc Submitter, path string, logger *slog.Logger) TaskFunc {
	return func(ctx context.Context) error {
		m, err := manifest.Load(path)
		if err != nil {
			return err
		}
		reqs, err := m.Requests()
		if err != nil {
			return err
		}

		runs := make([]*models.EncodeRun, 0, len(reqs))
		for _, req := range reqs {
			run, err := svc.Submit(ctx, req)
			if err != nil {
				return fmt.Errorf("submitting %s: %w", req.Input, err)
			}
			runs = append(runs, run)
		}

		var failed int
		for _, run := range runs {
			final, err := svc.Wait(ctx, run.ID)
			if err != nil {
				return fmt.Errorf("waiting for run %s: %w", run.ID, err)
			}
			if final != nil && final.Status != models.RunStatusSucceeded {
				failed++
				logger.Warn("batch run did not succeed",
					slog.String("job_id", run.ID.String()),
					slog.String("status", string(final.Status)),
					slog.String("error", final.Error))
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d runs did not succeed", failed, len(runs))
		}
		return nil
	}
}

// PruneTask deletes runs that finished more than retention ago. A zero
// retention keeps everything.
func PruneTask(p Pruner, retention time.Duration) TaskFunc {
	return func(ctx context.Context) error {
		if retention <= 0 {
			return nil
		}
		_, err := p.Prune(ctx, retention)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}
