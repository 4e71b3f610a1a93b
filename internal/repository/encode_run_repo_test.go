package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/superyu1337/handbrake-go/internal/models"
)

func setupRunTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.EncodeRun{}))
	return db
}

func newRun(name string) *models.EncodeRun {
	return &models.EncodeRun{
		Name:   name,
		Input:  name + ".mkv",
		Output: name + ".mp4",
		Args:   []string{"-i", name + ".mkv", "-o", name + ".mp4"},
	}
}

func TestEncodeRunRepo_Create(t *testing.T) {
	repo := NewEncodeRunRepository(setupRunTestDB(t))
	ctx := context.Background()

	run := newRun("movie")
	require.NoError(t, repo.Create(ctx, run))
	assert.False(t, run.ID.IsZero())
	assert.Equal(t, models.RunStatusPending, run.Status)

	found, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "movie", found.Name)
	assert.Equal(t, run.Args, found.Args)
	assert.Equal(t, models.RunStatusPending, found.Status)
}

func TestEncodeRunRepo_Create_Invalid(t *testing.T) {
	repo := NewEncodeRunRepository(setupRunTestDB(t))

	err := repo.Create(context.Background(), &models.EncodeRun{Output: "x.mp4"})
	assert.ErrorIs(t, err, models.ErrInputRequired)
}

func TestEncodeRunRepo_GetByID_NotFound(t *testing.T) {
	repo := NewEncodeRunRepository(setupRunTestDB(t))

	found, err := repo.GetByID(context.Background(), models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestEncodeRunRepo_Update(t *testing.T) {
	repo := NewEncodeRunRepository(setupRunTestDB(t))
	ctx := context.Background()

	run := newRun("movie")
	require.NoError(t, repo.Create(ctx, run))

	start := time.Now().Add(-time.Minute).UTC()
	run.MarkStarted(1234, start)
	avg := 41.5
	eta := int64(90)
	run.Percent = 55.25
	run.FPS = 40.1
	run.AvgFPS = &avg
	run.ETASeconds = &eta
	run.VideoEncoder = "x265"
	run.Container = "av_mkv"
	require.NoError(t, repo.Update(ctx, run))

	found, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, models.RunStatusRunning, found.Status)
	assert.Equal(t, 1234, found.PID)
	assert.InDelta(t, 55.25, found.Percent, 0.001)
	require.NotNil(t, found.AvgFPS)
	assert.InDelta(t, 41.5, *found.AvgFPS, 0.001)
	require.NotNil(t, found.ETASeconds)
	assert.Equal(t, int64(90), *found.ETASeconds)
	assert.Equal(t, "x265", found.VideoEncoder)
	require.NotNil(t, found.StartedAt)
	assert.WithinDuration(t, start, *found.StartedAt, time.Second)

	code := 2
	found.MarkFinished(models.RunStatusFailed, &code, "HandBrakeCLI exited with status 2", time.Now())
	require.NoError(t, repo.Update(ctx, found))

	again, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, again.Status)
	require.NotNil(t, again.ExitCode)
	assert.Equal(t, 2, *again.ExitCode)
	assert.Equal(t, "HandBrakeCLI exited with status 2", again.Error)
}

func TestEncodeRunRepo_Update_MissingID(t *testing.T) {
	repo := NewEncodeRunRepository(setupRunTestDB(t))

	err := repo.Update(context.Background(), newRun("x"))
	assert.Error(t, err)
}

func TestEncodeRunRepo_List(t *testing.T) {
	repo := NewEncodeRunRepository(setupRunTestDB(t))
	ctx := context.Background()

	var ids []models.ULID
	for i, status := range []models.RunStatus{
		models.RunStatusSucceeded,
		models.RunStatusFailed,
		models.RunStatusSucceeded,
		models.RunStatusRunning,
	} {
		run := newRun("run" + string(rune('a'+i)))
		run.Status = status
		require.NoError(t, repo.Create(ctx, run))
		ids = append(ids, run.ID)
		// ULIDs created in the same millisecond are not ordered
		time.Sleep(2 * time.Millisecond)
	}

	t.Run("all newest first", func(t *testing.T) {
		runs, err := repo.List(ctx, RunFilter{})
		require.NoError(t, err)
		require.Len(t, runs, 4)
		assert.Equal(t, ids[3], runs[0].ID)
		assert.Equal(t, ids[0], runs[3].ID)
	})

	t.Run("by status", func(t *testing.T) {
		runs, err := repo.List(ctx, RunFilter{Status: models.RunStatusSucceeded})
		require.NoError(t, err)
		require.Len(t, runs, 2)
		for _, r := range runs {
			assert.Equal(t, models.RunStatusSucceeded, r.Status)
		}
	})

	t.Run("limit", func(t *testing.T) {
		runs, err := repo.List(ctx, RunFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, ids[3], runs[0].ID)
	})
}

func TestEncodeRunRepo_DeleteFinishedBefore(t *testing.T) {
	repo := NewEncodeRunRepository(setupRunTestDB(t))
	ctx := context.Background()
	now := time.Now()

	old := newRun("old")
	old.MarkFinished(models.RunStatusSucceeded, nil, "", now.Add(-48*time.Hour))
	require.NoError(t, repo.Create(ctx, old))

	oldFailed := newRun("old-failed")
	oldFailed.MarkFinished(models.RunStatusFailed, nil, "boom", now.Add(-72*time.Hour))
	require.NoError(t, repo.Create(ctx, oldFailed))

	recent := newRun("recent")
	recent.MarkFinished(models.RunStatusSucceeded, nil, "", now.Add(-time.Hour))
	require.NoError(t, repo.Create(ctx, recent))

	running := newRun("running")
	running.MarkStarted(1, now.Add(-96*time.Hour))
	require.NoError(t, repo.Create(ctx, running))

	deleted, err := repo.DeleteFinishedBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	runs, err := repo.List(ctx, RunFilter{})
	require.NoError(t, err)
	names := make([]string, 0, len(runs))
	for _, r := range runs {
		names = append(names, r.Name)
	}
	assert.ElementsMatch(t, []string{"recent", "running"}, names)
}

func TestEncodeRunRepo_FailUnfinished(t *testing.T) {
	repo := NewEncodeRunRepository(setupRunTestDB(t))
	ctx := context.Background()

	pending := newRun("pending")
	require.NoError(t, repo.Create(ctx, pending))

	running := newRun("running")
	running.MarkStarted(99, time.Now())
	require.NoError(t, repo.Create(ctx, running))

	done := newRun("done")
	done.MarkFinished(models.RunStatusSucceeded, nil, "", time.Now())
	require.NoError(t, repo.Create(ctx, done))

	n, err := repo.FailUnfinished(ctx, "interrupted by restart")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, id := range []models.ULID{pending.ID, running.ID} {
		r, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusFailed, r.Status)
		assert.Equal(t, "interrupted by restart", r.Error)
		assert.NotNil(t, r.FinishedAt)
	}

	r, err := repo.GetByID(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, r.Status)
}
