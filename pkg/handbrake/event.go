package handbrake

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// EventKind names the variant of an Event.
type EventKind string

// Event kinds.
const (
	KindConfig   EventKind = "config"
	KindProgress EventKind = "progress"
	KindLog      EventKind = "log"
	KindFragment EventKind = "fragment"
	KindDone     EventKind = "done"
)

// Event is one item of a job's event stream. The dynamic type is always one
// of JobConfig, Progress, Log, Fragment or Done.
type Event interface {
	Kind() EventKind
	isEvent()
}

// Progress is a snapshot parsed from a HandBrakeCLI progress line.
type Progress struct {
	Task      int
	TaskCount int
	// Percent is 0-100 with two decimals, as reported.
	Percent float64
	// FPS is the instantaneous rate; zero when the line carried no rate section.
	FPS    float64
	AvgFPS *float64
	ETA    *time.Duration
}

// Kind implements Event.
func (Progress) Kind() EventKind { return KindProgress }
func (Progress) isEvent()        {}

// LogLevel is a coarse severity guessed from a diagnostic line.
type LogLevel string

// Log levels.
const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
	LogUnknown LogLevel = "unknown"
)

// Log is a single diagnostic line from stderr.
type Log struct {
	Level   LogLevel
	Message string
}

// Kind implements Event.
func (Log) Kind() EventKind { return KindLog }
func (Log) isEvent()        {}

// classifyLog guesses a level from libhb's line conventions.
func classifyLog(line string) LogLevel {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "error"):
		return LogError
	case strings.Contains(lower, "warning"):
		return LogWarning
	case strings.HasPrefix(line, "["):
		// libhb timestamps everything it logs: "[12:34:56] ..."
		return LogInfo
	}
	return LogUnknown
}

// Fragment is opaque stdout data that was not progress telemetry. When the
// output destination is standard output these are the encoded media bytes.
type Fragment []byte

// Kind implements Event.
func (Fragment) Kind() EventKind { return KindFragment }
func (Fragment) isEvent()        {}

// JobFailure describes an unsuccessful job.
type JobFailure struct {
	Message string
	// ExitCode is nil when the process did not exit normally (signal, wait error).
	ExitCode *int
}

// Error implements the error interface.
func (f *JobFailure) Error() string {
	return f.Message
}

// Done is the terminal event of every job. Exactly one is sent and it is always last.
type Done struct {
	// State is the reaped process state; nil when waiting itself failed.
	State   *os.ProcessState
	Failure *JobFailure
	Elapsed time.Duration
}

// Kind implements Event.
func (Done) Kind() EventKind { return KindDone }
func (Done) isEvent()        {}

// Success reports whether the process exited with status zero.
func (d Done) Success() bool {
	return d.Failure == nil
}

// Err returns the failure as an error, or nil on success.
func (d Done) Err() error {
	if d.Failure == nil {
		return nil
	}
	return d.Failure
}

// newDone converts the outcome of waiting on the process into a Done event.
func newDone(state *os.ProcessState, waitErr error, elapsed time.Duration) Done {
	done := Done{State: state, Elapsed: elapsed}

	switch {
	case state == nil:
		done.Failure = &JobFailure{Message: fmt.Sprintf("waiting for HandBrakeCLI: %v", waitErr)}
	case state.Success():
	default:
		done.Failure = failureFromState(state)
	}
	return done
}

func failureFromState(state *os.ProcessState) *JobFailure {
	code := state.ExitCode()
	if code < 0 {
		return &JobFailure{Message: "HandBrakeCLI terminated: " + state.String()}
	}
	return &JobFailure{
		Message:  fmt.Sprintf("HandBrakeCLI exited with status %d", code),
		ExitCode: &code,
	}
}
