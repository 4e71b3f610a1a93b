//go:build unix

package encode

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/superyu1337/handbrake-go/internal/models"
	"github.com/superyu1337/handbrake-go/internal/repository"
	"github.com/superyu1337/handbrake-go/pkg/handbrake"
)

// fakeCLI behaves like HandBrakeCLI, keyed on the preset name:
// "Fail" exits 3, "Slow" runs until interrupted, anything else encodes.
const fakeCLI = `#!/bin/sh
if [ "$1" = "--version" ]; then echo "HandBrake 1.7.2"; exit 0; fi
case "$*" in
*"--preset Fail"*)
	echo "[12:00:00] ERROR: preset not found" >&2
	exit 3
	;;
*"--preset Slow"*)
	trap 'exit 130' INT
	printf 'Encoding: task 1 of 1, 1.00 %%\r'
	while true; do sleep 0.1; done
	;;
esac
echo "[12:00:00] hb_init: starting libhb thread" >&2
echo "[12:00:00] json job:" >&2
cat >&2 <<'EOF'
{
    "Source": {"Path": "in.mkv", "Title": 1},
    "Destination": {"File": "out.mp4", "Mux": "av_mp4"},
    "Video": {"Encoder": "x264", "Quality": 22.0}
}
EOF
printf 'Encoding: task 1 of 1, 50.00 %% (30.00 fps, avg 31.00 fps, ETA 00h00m10s)\r'
printf 'Encoding: task 1 of 1, 99.50 %% (30.00 fps, avg 31.00 fps, ETA 00h00m00s)\r'
echo "[12:00:10] Finished work" >&2
exit 0
`

type recordingSink struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recordingSink) Publish(_ context.Context, u Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return nil
}

func (r *recordingSink) types() []UpdateType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]UpdateType, 0, len(r.updates))
	for _, u := range r.updates {
		out = append(out, u.Type)
	}
	return out
}

type fixture struct {
	svc  *Service
	repo repository.EncodeRunRepository
	sink *recordingSink
}

func newFixture(t *testing.T, maxConcurrent int) *fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), handbrake.BinaryName)
	require.NoError(t, os.WriteFile(path, []byte(fakeCLI), 0o755))

	quiet := slog.New(slog.DiscardHandler)
	hb, err := handbrake.NewWithPath(context.Background(), path, handbrake.WithLogger(quiet))
	require.NoError(t, err)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.EncodeRun{}))

	repo := repository.NewEncodeRunRepository(db)
	sink := &recordingSink{}
	svc := NewService(hb, repo, Options{MaxConcurrent: maxConcurrent}).
		WithLogger(quiet).
		WithSink(sink)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	return &fixture{svc: svc, repo: repo, sink: sink}
}

func waitRun(t *testing.T, svc *Service, id models.ULID) *models.EncodeRun {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run, err := svc.Wait(ctx, id)
	require.NoError(t, err)
	return run
}

// waitRunning polls until the run has a live process.
func waitRunning(t *testing.T, svc *Service, id models.ULID) {
	t.Helper()
	require.Eventually(t, func() bool {
		run, err := svc.Get(context.Background(), id)
		return err == nil && run.Status == models.RunStatusRunning
	}, 5*time.Second, 10*time.Millisecond)
}

func TestService_SubmitSucceeds(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	run, err := f.svc.Submit(ctx, Request{Name: "movie", Input: "in.mkv", Output: "out.mp4", Encoder: "x264"})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, run.Status)
	assert.Equal(t, "HandBrake 1.7.2", run.HandBrakeVersion)
	assert.Equal(t, []string{"-i", "in.mkv", "-o", "out.mp4", "--encoder", "x264"}, run.Args)

	final := waitRun(t, f.svc, run.ID)
	assert.Equal(t, models.RunStatusSucceeded, final.Status)
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, 0, *final.ExitCode)
	assert.InDelta(t, 100.0, final.Percent, 0.001)
	assert.Equal(t, 1, final.SourceTitle)
	assert.Equal(t, "x264", final.VideoEncoder)
	assert.Equal(t, "av_mp4", final.Container)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.FinishedAt)

	stored, err := f.repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.RunStatusSucceeded, stored.Status)
	assert.Equal(t, "av_mp4", stored.Container)

	types := f.sink.types()
	require.NotEmpty(t, types)
	assert.Equal(t, UpdateQueued, types[0])
	assert.Equal(t, UpdateStarted, types[1])
	assert.Equal(t, UpdateFinished, types[len(types)-1])
	assert.Contains(t, types, UpdateConfig)
	assert.Contains(t, types, UpdateProgress)
	assert.NotContains(t, types, UpdateLog, "log lines stay in process")

	assert.Empty(t, f.svc.Active())
}

func TestService_SubmitFails(t *testing.T) {
	f := newFixture(t, 1)

	run, err := f.svc.Submit(context.Background(), Request{Input: "in.mkv", Output: "out.mp4", Preset: "Fail"})
	require.NoError(t, err)

	final := waitRun(t, f.svc, run.ID)
	assert.Equal(t, models.RunStatusFailed, final.Status)
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, 3, *final.ExitCode)
	assert.Equal(t, "HandBrakeCLI exited with status 3", final.Error)
}

func TestService_SubmitInvalid(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.svc.Submit(context.Background(), Request{Input: "in.mkv"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorIs(t, err, ErrOutputRequired)
}

func TestService_SubscribeSeesEveryUpdate(t *testing.T) {
	f := newFixture(t, 1)

	sub := f.svc.Subscribe(models.ULID{})
	defer f.svc.Unsubscribe(sub.ID)

	run, err := f.svc.Submit(context.Background(), Request{Input: "in.mkv", Output: "out.mp4"})
	require.NoError(t, err)

	var got []Update
	timeout := time.After(10 * time.Second)
	for done := false; !done; {
		select {
		case u := <-sub.Events:
			assert.Equal(t, run.ID.String(), u.RunID)
			got = append(got, u)
			done = u.Terminal()
		case <-timeout:
			t.Fatal("no terminal update")
		}
	}

	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Seq, got[i-1].Seq, "sequence numbers increase")
	}

	var logs, progress int
	for _, u := range got {
		switch u.Type {
		case UpdateLog:
			logs++
		case UpdateProgress:
			progress++
		}
	}
	assert.Equal(t, 2, progress)
	assert.GreaterOrEqual(t, logs, 2)
	assert.Equal(t, models.RunStatusSucceeded, got[len(got)-1].Status)
}

func TestService_SubscribeFiltersByRun(t *testing.T) {
	f := newFixture(t, 2)

	other := models.NewULID()
	sub := f.svc.Subscribe(other)
	defer f.svc.Unsubscribe(sub.ID)

	run, err := f.svc.Submit(context.Background(), Request{Input: "in.mkv", Output: "out.mp4"})
	require.NoError(t, err)
	waitRun(t, f.svc, run.ID)

	assert.Empty(t, sub.Events)
}

func TestService_CancelRunning(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	run, err := f.svc.Submit(ctx, Request{Input: "in.mkv", Output: "out.mp4", Preset: "Slow"})
	require.NoError(t, err)
	waitRunning(t, f.svc, run.ID)

	active := f.svc.Active()
	require.Len(t, active, 1)
	assert.Equal(t, run.ID, active[0].ID)
	assert.NotZero(t, active[0].PID)

	require.NoError(t, f.svc.Cancel(ctx, run.ID))

	final := waitRun(t, f.svc, run.ID)
	assert.Equal(t, models.RunStatusCancelled, final.Status)
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, 130, *final.ExitCode)
}

func TestService_KillRunningAndCancelPending(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	slow, err := f.svc.Submit(ctx, Request{Input: "a.mkv", Output: "a.mp4", Preset: "Slow"})
	require.NoError(t, err)
	waitRunning(t, f.svc, slow.ID)

	queued, err := f.svc.Submit(ctx, Request{Input: "b.mkv", Output: "b.mp4"})
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, got.Status, "the only slot is taken")

	require.NoError(t, f.svc.Cancel(ctx, queued.ID))
	final := waitRun(t, f.svc, queued.ID)
	assert.Equal(t, models.RunStatusCancelled, final.Status)
	assert.Equal(t, stoppedBeforeRun, final.Error)
	assert.Nil(t, final.StartedAt)

	require.NoError(t, f.svc.Kill(ctx, slow.ID))
	final = waitRun(t, f.svc, slow.ID)
	assert.Equal(t, models.RunStatusCancelled, final.Status)
	assert.Nil(t, final.ExitCode, "killed by a signal")
	assert.Contains(t, final.Error, "killed")
}

func TestService_ControlErrors(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	missing := models.NewULID()
	_, err := f.svc.Get(ctx, missing)
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, f.svc.Cancel(ctx, missing), ErrRunNotFound)
	assert.ErrorIs(t, f.svc.Kill(ctx, missing), ErrRunNotFound)

	run, err := f.svc.Submit(ctx, Request{Input: "in.mkv", Output: "out.mp4"})
	require.NoError(t, err)
	waitRun(t, f.svc, run.ID)

	assert.ErrorIs(t, f.svc.Cancel(ctx, run.ID), ErrRunNotActive)
	_, err = f.svc.Stats(ctx, run.ID)
	assert.ErrorIs(t, err, ErrRunNotActive)

	// a finished run is served from the repository
	final, err := f.svc.Wait(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, final.Status)
}

func TestService_Stats(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	run, err := f.svc.Submit(ctx, Request{Input: "in.mkv", Output: "out.mp4", Preset: "Slow"})
	require.NoError(t, err)
	waitRunning(t, f.svc, run.ID)

	stats, err := f.svc.Stats(ctx, run.ID)
	require.NoError(t, err)
	assert.NotZero(t, stats.PID)
	assert.NotZero(t, stats.RSSBytes)

	require.NoError(t, f.svc.Kill(ctx, run.ID))
	waitRun(t, f.svc, run.ID)
}

func TestService_Shutdown(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	sub := f.svc.Subscribe(models.ULID{})

	run, err := f.svc.Submit(ctx, Request{Input: "in.mkv", Output: "out.mp4", Preset: "Slow"})
	require.NoError(t, err)
	waitRunning(t, f.svc, run.ID)

	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Shutdown(sctx))

	stored, err := f.repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, stored.Status)

	_, err = f.svc.Submit(ctx, Request{Input: "in.mkv", Output: "out.mp4"})
	assert.ErrorIs(t, err, ErrShuttingDown)

	// the subscriber channel is drained and closed
	for range sub.Events {
	}
}

func TestService_Prune(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	old := &models.EncodeRun{Input: "old.mkv", Output: "old.mp4"}
	old.MarkFinished(models.RunStatusSucceeded, nil, "", time.Now().UTC().Add(-48*time.Hour))
	require.NoError(t, f.repo.Create(ctx, old))

	recent := &models.EncodeRun{Input: "new.mkv", Output: "new.mp4"}
	recent.MarkFinished(models.RunStatusSucceeded, nil, "", time.Now().UTC())
	require.NoError(t, f.repo.Create(ctx, recent))

	deleted, err := f.svc.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = f.svc.Get(ctx, old.ID)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestService_Recover(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	stale := &models.EncodeRun{Input: "in.mkv", Output: "out.mp4"}
	stale.MarkStarted(12345, time.Now().UTC())
	require.NoError(t, f.repo.Create(ctx, stale))

	require.NoError(t, f.svc.Recover(ctx))

	got, err := f.svc.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	assert.Equal(t, interruptedReason, got.Error)
}
