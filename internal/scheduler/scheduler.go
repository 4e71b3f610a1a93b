// Package scheduler runs recurring hbctl tasks on cron expressions: batch
// manifests and history pruning.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/superyu1337/handbrake-go/internal/observability"
)

// ErrAlreadyStarted is returned when tasks are added to, or Start is called
// on, a running scheduler.
var ErrAlreadyStarted = errors.New("scheduler already started")

// TaskFunc is the body of a scheduled task. ctx is cancelled by Stop.
type TaskFunc func(ctx context.Context) error

// Entry describes a registered task.
type Entry struct {
	Name string
	Spec string
	// Next is the next activation; zero until the scheduler is started.
	Next time.Time
	Prev time.Time
}

type task struct {
	name string
	spec string
	fn   TaskFunc
	id   cron.EntryID
}

// Scheduler fires tasks on cron expressions. Expressions take five fields
// or six with leading seconds, plus descriptors such as @daily and
// @every 1h. A task whose previous activation is still running is skipped.
type Scheduler struct {
	mu sync.RWMutex

	cron   *cron.Cron
	parser cron.Parser
	tasks  []*task
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates an idle scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger: observability.WithComponent(slog.Default(), "scheduler"),
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = observability.WithComponent(logger, "scheduler")
	return s
}

// Add registers a task. It must be called before Start.
func (s *Scheduler) Add(name, spec string, fn TaskFunc) error {
	if err := s.ValidateCron(spec); err != nil {
		return fmt.Errorf("task %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return ErrAlreadyStarted
	}
	s.tasks = append(s.tasks, &task{name: name, spec: spec, fn: fn})
	return nil
}

// Start schedules every registered task. Activations stop when ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return ErrAlreadyStarted
	}

	cl := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, t := range s.tasks {
		id, err := c.AddFunc(t.spec, s.wrap(t))
		if err != nil {
			s.cancel()
			s.ctx, s.cancel = nil, nil
			return fmt.Errorf("scheduling task %s: %w", t.name, err)
		}
		t.id = id
	}
	s.cron = c
	c.Start()

	s.logger.Info("scheduler started", slog.Int("tasks", len(s.tasks)))
	for _, e := range s.entriesLocked() {
		s.logger.Debug("task scheduled",
			slog.String("task", e.Name),
			slog.String("cron", e.Spec),
			slog.Time("next", e.Next))
	}
	return nil
}

// wrap turns a task into a cron job bound to the scheduler context.
func (s *Scheduler) wrap(t *task) func() {
	ctx := s.ctx
	return func() {
		if ctx.Err() != nil {
			return
		}
		s.wg.Add(1)
		defer s.wg.Done()

		var err error
		done := observability.TimedOperationWithError(ctx, s.logger.With(slog.String("task", t.name)), t.name, &err)
		err = t.fn(ctx)
		done()
	}
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.ctx, s.cancel, s.cron = nil, nil, nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// Entries lists registered tasks with their next activation.
func (s *Scheduler) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entriesLocked()
}

func (s *Scheduler) entriesLocked() []Entry {
	entries := make([]Entry, 0, len(s.tasks))
	for _, t := range s.tasks {
		e := Entry{Name: t.name, Spec: t.spec}
		if s.cron != nil {
			ce := s.cron.Entry(t.id)
			e.Next, e.Prev = ce.Next, ce.Prev
		}
		entries = append(entries, e)
	}
	return entries
}

// ParseCron validates a cron expression and returns the next run time.
func (s *Scheduler) ParseCron(expr string) (time.Time, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(time.Now()), nil
}

// ValidateCron validates a cron expression.
func (s *Scheduler) ValidateCron(expr string) error {
	if _, err := s.parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
