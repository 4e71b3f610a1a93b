// Package encode runs HandBrakeCLI jobs on behalf of the CLI, the HTTP API
// and the queue worker. It records every run in the history repository and
// fans run updates out to in-process subscribers and external sinks.
package encode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/superyu1337/handbrake-go/internal/models"
	"github.com/superyu1337/handbrake-go/internal/observability"
	"github.com/superyu1337/handbrake-go/internal/repository"
	"github.com/superyu1337/handbrake-go/pkg/handbrake"
)

// Service errors.
var (
	ErrRunNotFound    = errors.New("encode run not found")
	ErrRunNotActive   = errors.New("encode run is not active")
	ErrInvalidRequest = errors.New("invalid encode request")
	ErrShuttingDown   = errors.New("encode service is shutting down")
)

const (
	storeTimeout      = 10 * time.Second
	sinkTimeout       = 5 * time.Second
	killGrace         = 5 * time.Second
	subscriberBuffer  = 100
	stoppedBeforeRun  = "stopped before HandBrakeCLI was started"
	interruptedReason = "interrupted: hbctl stopped while the run was active"
)

// Launcher creates job builders for a validated HandBrakeCLI.
// *handbrake.HandBrake implements it.
type Launcher interface {
	Job(in handbrake.InputSource, out handbrake.OutputDestination) *handbrake.JobBuilder
	Version() string
}

// Options tunes a Service.
type Options struct {
	// MaxConcurrent caps the number of HandBrakeCLI processes; extra runs wait as pending.
	MaxConcurrent int
	// ProgressInterval throttles how often progress is written to the
	// repository and sinks. Subscribers see every progress event.
	ProgressInterval time.Duration
}

// Service owns the active runs.
type Service struct {
	launcher Launcher
	repo     repository.EncodeRunRepository
	sinks    []Sink
	logger   *slog.Logger
	opts     Options

	slots chan struct{}
	wg    sync.WaitGroup

	mu          sync.RWMutex
	active      map[models.ULID]*activeRun
	subscribers map[string]*Subscriber
	closing     bool
}

// NewService creates a Service.
func NewService(launcher Launcher, repo repository.EncodeRunRepository, opts Options) *Service {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &Service{
		launcher:    launcher,
		repo:        repo,
		logger:      observability.WithComponent(slog.Default(), "encode"),
		opts:        opts,
		slots:       make(chan struct{}, opts.MaxConcurrent),
		active:      make(map[models.ULID]*activeRun),
		subscribers: make(map[string]*Subscriber),
	}
}

// WithLogger sets a custom logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = observability.WithComponent(logger, "encode")
	return s
}

// WithSink adds an external update sink.
func (s *Service) WithSink(sink Sink) *Service {
	s.sinks = append(s.sinks, sink)
	return s
}

// activeRun is a run between Submit and its terminal update. The run
// goroutine owns run; mu guards it against concurrent snapshots and
// control calls.
type activeRun struct {
	mu     sync.Mutex
	run    models.EncodeRun
	seq    uint64
	handle *handbrake.JobHandle
	// stop is the strongest control action requested so far.
	stop string

	abort     chan struct{}
	abortOnce sync.Once
	done      chan struct{}
}

func (ar *activeRun) snapshot() *models.EncodeRun {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	run := ar.run
	return &run
}

// update mutates the run with fn, if any, and returns the resulting update.
func (ar *activeRun) update(typ UpdateType, fn func(*models.EncodeRun)) Update {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	if fn != nil {
		fn(&ar.run)
	}
	ar.seq++
	return snapshot(&ar.run, typ, ar.seq)
}

// Submit records a run and starts it as soon as a slot is free. The returned
// run is pending; use Wait or Subscribe to follow it.
func (s *Service) Submit(ctx context.Context, req Request) (*models.EncodeRun, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	s.mu.RLock()
	closing := s.closing
	s.mu.RUnlock()
	if closing {
		return nil, ErrShuttingDown
	}

	b := req.Configure(s.launcher.Job(handbrake.FileInput(req.Input), handbrake.FileOutput(req.Output)))
	run := &models.EncodeRun{
		Name:             req.Name,
		Input:            req.Input,
		Output:           req.Output,
		Args:             b.BuildArgs(),
		Status:           models.RunStatusPending,
		HandBrakeVersion: s.launcher.Version(),
	}
	if err := s.repo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("recording encode run: %w", err)
	}

	ar := &activeRun{
		run:   *run,
		abort: make(chan struct{}),
		done:  make(chan struct{}),
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		run.MarkFinished(models.RunStatusCancelled, nil, stoppedBeforeRun, time.Now().UTC())
		s.store(ctx, run)
		return nil, ErrShuttingDown
	}
	s.active[run.ID] = ar
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "encode run queued",
		slog.String("job_id", run.ID.String()),
		slog.String("name", req.label()),
	)
	s.publish(ctx, ar.update(UpdateQueued, nil), true)

	// the run outlives the request that submitted it
	go s.execute(context.WithoutCancel(ctx), ar, b)

	return ar.snapshot(), nil
}

func (s *Service) execute(ctx context.Context, ar *activeRun, b *handbrake.JobBuilder) {
	defer s.wg.Done()
	defer s.release(ar)

	logger := observability.WithJobID(s.logger, ar.run.ID.String())

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ar.abort:
		s.finish(ctx, ar, models.RunStatusCancelled, nil, stoppedBeforeRun)
		return
	}

	h, err := b.Start()
	if err != nil {
		logger.ErrorContext(ctx, "starting HandBrakeCLI failed", slog.String("error", err.Error()))
		s.finish(ctx, ar, models.RunStatusFailed, nil, err.Error())
		return
	}

	ar.mu.Lock()
	ar.handle = h
	stop := ar.stop
	ar.mu.Unlock()

	// a control call that raced the spawn saw no handle
	if stop != "" {
		_ = signal(h, stop)
	}

	u := ar.update(UpdateStarted, func(run *models.EncodeRun) {
		run.MarkStarted(h.PID(), h.StartedAt().UTC())
	})
	s.persist(ctx, ar)
	s.publish(ctx, u, true)

	var lastFlush time.Time
	for ev := range h.Events() {
		switch e := ev.(type) {
		case handbrake.JobConfig:
			u := ar.update(UpdateConfig, func(run *models.EncodeRun) {
				run.SourceTitle = e.Source.Title
				run.VideoEncoder = e.Video.Encoder
				run.Container = string(e.Destination.Mux)
			})
			s.persist(ctx, ar)
			s.publish(ctx, u, true)

		case handbrake.Progress:
			u := ar.update(UpdateProgress, func(run *models.EncodeRun) {
				applyProgress(run, e)
			})
			flush := time.Since(lastFlush) >= s.opts.ProgressInterval
			if flush {
				lastFlush = time.Now()
				s.persist(ctx, ar)
			}
			s.publish(ctx, u, flush)

		case handbrake.Log:
			logger.Log(ctx, observability.LevelTrace, "handbrake output",
				slog.String("level", string(e.Level)),
				slog.String("line", e.Message),
			)
			u := ar.update(UpdateLog, nil)
			u.Level = string(e.Level)
			u.Message = e.Message
			s.publish(ctx, u, false)

		case handbrake.Fragment:
			// output goes to a file, so stdout only carries stray text
			logger.Log(ctx, observability.LevelTrace, "handbrake stdout",
				slog.String("data", strings.TrimSpace(string(e))),
			)

		case handbrake.Done:
			ar.mu.Lock()
			stopped := ar.stop != ""
			ar.mu.Unlock()
			s.finish(ctx, ar, statusFor(e, stopped), exitCodeOf(e), failureMessage(e))
		}
	}
}

func applyProgress(run *models.EncodeRun, p handbrake.Progress) {
	run.Percent = p.Percent
	run.FPS = p.FPS
	run.AvgFPS = nil
	if p.AvgFPS != nil {
		avg := *p.AvgFPS
		run.AvgFPS = &avg
	}
	run.ETASeconds = nil
	if p.ETA != nil {
		eta := int64(p.ETA.Seconds())
		run.ETASeconds = &eta
	}
}

func statusFor(done handbrake.Done, stopped bool) models.RunStatus {
	switch {
	case done.Success():
		return models.RunStatusSucceeded
	case stopped:
		return models.RunStatusCancelled
	default:
		return models.RunStatusFailed
	}
}

func exitCodeOf(done handbrake.Done) *int {
	if done.Failure != nil {
		return done.Failure.ExitCode
	}
	code := 0
	if done.State != nil {
		code = done.State.ExitCode()
	}
	return &code
}

func failureMessage(done handbrake.Done) string {
	if done.Failure == nil {
		return ""
	}
	return done.Failure.Message
}

// finish records the terminal status and sends the final update.
func (s *Service) finish(ctx context.Context, ar *activeRun, status models.RunStatus, exitCode *int, msg string) {
	u := ar.update(UpdateFinished, func(run *models.EncodeRun) {
		run.MarkFinished(status, exitCode, msg, time.Now().UTC())
	})
	u.Message = msg
	s.persist(ctx, ar)
	s.publish(ctx, u, true)

	attrs := []any{
		slog.String("job_id", u.RunID),
		slog.String("status", string(status)),
	}
	if msg != "" {
		attrs = append(attrs, slog.String("reason", msg))
	}
	if status == models.RunStatusFailed {
		s.logger.WarnContext(ctx, "encode run finished", attrs...)
	} else {
		s.logger.InfoContext(ctx, "encode run finished", attrs...)
	}
}

func (s *Service) release(ar *activeRun) {
	s.mu.Lock()
	delete(s.active, ar.run.ID)
	s.mu.Unlock()
	close(ar.done)
}

func (s *Service) persist(ctx context.Context, ar *activeRun) {
	s.store(ctx, ar.snapshot())
}

func (s *Service) store(ctx context.Context, run *models.EncodeRun) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := s.repo.Update(ctx, run); err != nil {
		s.logger.WarnContext(ctx, "saving encode run failed",
			slog.String("job_id", run.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// publish broadcasts u to subscribers and, when external is set, to the sinks.
func (s *Service) publish(ctx context.Context, u Update, external bool) {
	s.broadcast(u)
	if !external {
		return
	}
	for _, sink := range s.sinks {
		sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		err := sink.Publish(sctx, u)
		cancel()
		if err != nil {
			s.logger.WarnContext(ctx, "publishing run update failed",
				slog.String("job_id", u.RunID),
				slog.String("update", string(u.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *Service) broadcast(u Update) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscribers {
		if !sub.matches(u) {
			continue
		}
		select {
		case sub.Events <- u:
			continue
		default:
		}
		if !u.Terminal() {
			s.logger.Warn("subscriber event channel full, dropping update",
				slog.String("subscriber_id", sub.ID),
				slog.String("job_id", u.RunID),
			)
			continue
		}
		// the final update must get through: make room for it
		select {
		case <-sub.Events:
		default:
		}
		select {
		case sub.Events <- u:
		default:
		}
	}
}

// Subscribe registers a subscriber for the given run, or for every run when
// runID is zero. The caller must Unsubscribe.
func (s *Service) Subscribe(runID models.ULID) *Subscriber {
	sub := &Subscriber{
		ID:     models.NewULID().String(),
		RunID:  runID,
		Events: make(chan Update, subscriberBuffer),
	}

	s.mu.Lock()
	s.subscribers[sub.ID] = sub
	s.mu.Unlock()

	s.logger.Debug("subscriber added", slog.String("subscriber_id", sub.ID))
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Service) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subscribers[id]; ok {
		close(sub.Events)
		delete(s.subscribers, id)
		s.logger.Debug("subscriber removed", slog.String("subscriber_id", id))
	}
}

func (s *Service) lookup(id models.ULID) *activeRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active[id]
}

// Get returns a run. Active runs are served from memory so that progress is
// current; finished runs come from the repository.
func (s *Service) Get(ctx context.Context, id models.ULID) (*models.EncodeRun, error) {
	if ar := s.lookup(id); ar != nil {
		return ar.snapshot(), nil
	}
	run, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// List returns runs from the repository, newest first.
func (s *Service) List(ctx context.Context, filter repository.RunFilter) ([]*models.EncodeRun, error) {
	return s.repo.List(ctx, filter)
}

// Active returns the runs that are pending or running in this process,
// oldest first.
func (s *Service) Active() []*models.EncodeRun {
	s.mu.RLock()
	runs := make([]*models.EncodeRun, 0, len(s.active))
	for _, ar := range s.active {
		runs = append(runs, ar.snapshot())
	}
	s.mu.RUnlock()

	slices.SortFunc(runs, func(a, b *models.EncodeRun) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return runs
}

// Wait blocks until the run has finished and returns its final state.
// Runs that are not active are returned as stored.
func (s *Service) Wait(ctx context.Context, id models.ULID) (*models.EncodeRun, error) {
	ar := s.lookup(id)
	if ar == nil {
		return s.Get(ctx, id)
	}
	select {
	case <-ar.done:
		return ar.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats samples resource usage of a running job.
func (s *Service) Stats(ctx context.Context, id models.ULID) (handbrake.ProcessStats, error) {
	ar, err := s.activeOrErr(ctx, id)
	if err != nil {
		return handbrake.ProcessStats{}, err
	}
	ar.mu.Lock()
	h := ar.handle
	ar.mu.Unlock()
	if h == nil {
		return handbrake.ProcessStats{}, ErrRunNotActive
	}
	return h.Stats(ctx)
}

// Cancel asks the run's HandBrakeCLI to stop gracefully. A pending run is
// cancelled without being started.
func (s *Service) Cancel(ctx context.Context, id models.ULID) error {
	ar, err := s.activeOrErr(ctx, id)
	if err != nil {
		return err
	}
	return s.stopRun(ar, handbrake.ActionCancel)
}

// Kill terminates the run's HandBrakeCLI immediately.
func (s *Service) Kill(ctx context.Context, id models.ULID) error {
	ar, err := s.activeOrErr(ctx, id)
	if err != nil {
		return err
	}
	return s.stopRun(ar, handbrake.ActionKill)
}

func (s *Service) activeOrErr(ctx context.Context, id models.ULID) (*activeRun, error) {
	if ar := s.lookup(id); ar != nil {
		return ar, nil
	}
	run, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	return nil, ErrRunNotActive
}

func (s *Service) stopRun(ar *activeRun, action string) error {
	ar.mu.Lock()
	if ar.stop != handbrake.ActionKill {
		ar.stop = action
	}
	h := ar.handle
	ar.mu.Unlock()

	if h == nil {
		ar.abortOnce.Do(func() { close(ar.abort) })
		return nil
	}
	return signal(h, action)
}

func signal(h *handbrake.JobHandle, action string) error {
	if action == handbrake.ActionKill {
		return h.Kill()
	}
	return h.Cancel()
}

// Prune deletes finished runs older than retention.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (deleted int64, err error) {
	done := observability.TimedOperationWithError(ctx, s.logger, "prune_history", &err)
	defer done()

	deleted, err = s.repo.DeleteFinishedBefore(ctx, time.Now().UTC().Add(-retention))
	if err == nil && deleted > 0 {
		s.logger.InfoContext(ctx, "pruned encode history", slog.Int64("deleted", deleted))
	}
	return deleted, err
}

// Recover fails runs left pending or running by an earlier process. Only
// call it when no other instance shares the repository.
func (s *Service) Recover(ctx context.Context) error {
	n, err := s.repo.FailUnfinished(ctx, interruptedReason)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.WarnContext(ctx, "marked interrupted encode runs as failed", slog.Int64("count", n))
	}
	return nil
}

// Shutdown stops accepting runs, cancels the active ones and waits for them
// to finish. When ctx expires first the remaining processes are killed.
// Subscribers are closed once every run has finished.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	runs := make([]*activeRun, 0, len(s.active))
	for _, ar := range s.active {
		runs = append(runs, ar)
	}
	s.mu.Unlock()

	for _, ar := range runs {
		if err := s.stopRun(ar, handbrake.ActionCancel); err != nil {
			s.logger.DebugContext(ctx, "cancel during shutdown failed", slog.String("error", err.Error()))
		}
	}

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-ctx.Done():
		err = ctx.Err()
		for _, ar := range runs {
			_ = s.stopRun(ar, handbrake.ActionKill)
		}
		select {
		case <-finished:
		case <-time.After(killGrace):
			s.logger.Error("encode runs still active after kill")
		}
	}

	s.mu.Lock()
	for id, sub := range s.subscribers {
		close(sub.Events)
		delete(s.subscribers, id)
	}
	s.mu.Unlock()

	return err
}
