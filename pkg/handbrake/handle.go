package handbrake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"sync"
	"time"
)

// process is the OS process shared by the job's background goroutine and
// the handle's control methods. mu serialises every touch of the handle.
type process struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	exited bool
}

// control runs fn against the live process, failing once it has been reaped.
func (p *process) control(action string, fn func(*os.Process) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exited {
		return controlError(action, os.ErrProcessDone)
	}
	if err := fn(p.cmd.Process); err != nil {
		return controlError(action, err)
	}
	return nil
}

// pid returns the process id while the process is still live.
func (p *process) pid(action string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exited {
		return 0, controlError(action, os.ErrProcessDone)
	}
	return p.cmd.Process.Pid, nil
}

// wait reaps the process. The blocking wait happens outside the lock so that
// cancel and kill stay usable while the process runs; the lock covers the
// transition to exited.
func (p *process) wait() (*os.ProcessState, error) {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()

	return p.cmd.ProcessState, err
}

// JobHandle controls a job started in monitored mode and carries its events.
type JobHandle struct {
	proc    *process
	pid     int
	args    []string
	started time.Time
	logger  *slog.Logger

	events    chan Event
	abandoned chan struct{}
	closeOnce sync.Once
}

func newJobHandle(cmd *exec.Cmd, args []string, s settings) *JobHandle {
	return &JobHandle{
		proc:      &process{cmd: cmd},
		pid:       cmd.Process.Pid,
		args:      args,
		started:   time.Now(),
		logger:    s.logger.With(slog.Int("pid", cmd.Process.Pid)),
		events:    make(chan Event, s.eventBuffer),
		abandoned: make(chan struct{}),
	}
}

// run demultiplexes the pipes, then waits on the process and sends Done.
// The events channel is closed after Done has been sent.
func (h *JobHandle) run(stdout, stderr io.Reader, maxBlock int) {
	defer close(h.events)

	d := newDemuxer(h.events, h.abandoned, maxBlock, h.logger)
	d.run(stdout, stderr)

	state, err := h.proc.wait()
	done := newDone(state, err, time.Since(h.started))

	if done.Success() {
		h.logger.Info("HandBrakeCLI finished", slog.Duration("elapsed", done.Elapsed))
	} else {
		h.logger.Warn("HandBrakeCLI failed",
			slog.String("reason", done.Failure.Message),
			slog.Duration("elapsed", done.Elapsed),
		)
	}

	d.emit(done)
}

// Events returns the job's event stream. It is closed after the Done event.
// The channel is shared: events read by one receiver are not seen by another.
func (h *JobHandle) Events() <-chan Event {
	return h.events
}

// Cancel asks HandBrakeCLI to stop gracefully (SIGINT, or CTRL_BREAK on Windows).
// The outcome arrives as the Done event.
func (h *JobHandle) Cancel() error {
	err := h.proc.control(ActionCancel, interrupt)
	h.logControl(ActionCancel, err)
	return err
}

// Kill terminates HandBrakeCLI immediately.
func (h *JobHandle) Kill() error {
	err := h.proc.control(ActionKill, (*os.Process).Kill)
	h.logControl(ActionKill, err)
	return err
}

func (h *JobHandle) logControl(action string, err error) {
	if err != nil {
		h.logger.Debug("control action failed",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("control action delivered", slog.String("action", action))
}

// Close abandons the event stream. The job keeps running and its remaining
// events are discarded; use Cancel or Kill to stop the process itself.
func (h *JobHandle) Close() {
	h.closeOnce.Do(func() {
		close(h.abandoned)
	})
}

// Wait consumes events until Done and returns it. Other events are discarded.
func (h *JobHandle) Wait(ctx context.Context) (Done, error) {
	for {
		select {
		case <-ctx.Done():
			return Done{}, ctx.Err()
		case ev, ok := <-h.events:
			if !ok {
				return Done{}, &Error{Kind: ErrUnknown, Reason: "event stream ended without a terminal event"}
			}
			if done, isDone := ev.(Done); isDone {
				return done, nil
			}
		}
	}
}

// PID returns the process id assigned at spawn.
func (h *JobHandle) PID() int {
	return h.pid
}

// Args returns the arguments the process was started with.
func (h *JobHandle) Args() []string {
	return slices.Clone(h.args)
}

// StartedAt returns the spawn time.
func (h *JobHandle) StartedAt() time.Time {
	return h.started
}

// IsControlFailure reports whether err came from a control action on a job.
func IsControlFailure(err error) bool {
	return errors.Is(err, ErrControlFailed)
}
