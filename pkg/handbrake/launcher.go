package handbrake

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// stdinWaitDelay bounds how long Wait lingers on a stdin copy after the
// process has exited, e.g. when the caller's reader never returns.
const stdinWaitDelay = 5 * time.Second

// Status runs the job to completion without parsing its output and returns
// the final process state. Stdin is piped only for a stdin source and stdout
// only for a stdout destination; everything else, stderr included, is
// inherited from the caller. A non-zero exit is not an error: inspect the
// returned state. Cancelling ctx interrupts the process and kills it if it
// has not exited after a grace period.
func (b *JobBuilder) Status(ctx context.Context) (*os.ProcessState, error) {
	args := b.BuildArgs()
	logger := b.settings.logger

	cmd := exec.CommandContext(ctx, b.path, args...)
	cmd.Cancel = func() error { return interrupt(cmd.Process) }
	cmd.WaitDelay = stdinWaitDelay

	if b.input.IsStdin() {
		cmd.Stdin = b.input.stdinReader()
	} else {
		cmd.Stdin = os.Stdin
	}
	if b.output.IsStdout() {
		cmd.Stdout = b.output.stdoutWriter()
	} else {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, spawnError(b.path, err)
	}

	logger.Info("HandBrakeCLI started",
		slog.Int("pid", cmd.Process.Pid),
		slog.Any("args", args),
	)

	err := cmd.Wait()
	if cmd.ProcessState == nil {
		return nil, &Error{Kind: ErrUnknown, Path: b.path, Err: err}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return cmd.ProcessState, ctxErr
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		// the process finished but stdio copying did not
		logger.Warn("HandBrakeCLI stdio copy failed", slog.String("error", err.Error()))
	}

	logger.Info("HandBrakeCLI exited",
		slog.Int("pid", cmd.Process.Pid),
		slog.Int("exit_code", cmd.ProcessState.ExitCode()),
	)
	return cmd.ProcessState, nil
}

// Start spawns the job in monitored mode. Stdout and stderr are always piped
// and parsed into events; stdin is piped only for a stdin source. The process
// gets its own process group so that it can be interrupted independently of
// the caller. The returned handle outlives any context: use Cancel or Kill to
// stop the job.
func (b *JobBuilder) Start() (*JobHandle, error) {
	args := b.BuildArgs()

	cmd := exec.Command(b.path, args...)
	setProcessGroup(cmd)
	cmd.WaitDelay = stdinWaitDelay

	if b.input.IsStdin() {
		cmd.Stdin = b.input.stdinReader()
	} else {
		cmd.Stdin = inheritedStdin()
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, spawnError(b.path, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		return nil, spawnError(b.path, err)
	}

	// Start closes both pipes itself when it fails.
	if err := cmd.Start(); err != nil {
		return nil, spawnError(b.path, err)
	}

	h := newJobHandle(cmd, args, b.settings)
	h.logger.Info("HandBrakeCLI started", slog.Any("args", args))

	go h.run(stdout, stderr, b.settings.maxConfigBlock)

	return h, nil
}
