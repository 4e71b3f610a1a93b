package handbrake

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds returned by this package. Match them with errors.Is.
var (
	// ErrExecutableNotFound indicates HandBrakeCLI could not be located.
	ErrExecutableNotFound = errors.New("HandBrakeCLI executable not found")

	// ErrInvalidExecutable indicates the executable did not report a usable version.
	ErrInvalidExecutable = errors.New("invalid HandBrakeCLI executable")

	// ErrProcessSpawnFailed indicates the operating system refused to start the process.
	ErrProcessSpawnFailed = errors.New("failed to spawn HandBrakeCLI process")

	// ErrControlFailed indicates a control action (cancel, kill, stats) could not be applied.
	ErrControlFailed = errors.New("process control failed")

	// ErrUnknown is the fallback kind for failures that fit no other category.
	ErrUnknown = errors.New("unknown handbrake error")
)

// Control action names carried by ErrControlFailed errors.
const (
	ActionCancel = "cancel"
	ActionKill   = "kill"
	ActionStats  = "stats"
)

// Error describes a failure together with the context it happened in.
// Kind is always one of the sentinel errors above.
type Error struct {
	Kind   error
	Path   string
	Action string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Action != "" {
		fmt.Fprintf(&b, " (%s)", e.Action)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " at %s", e.Path)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ActionOf returns the control action recorded on err, or "" when err is not a control failure.
func ActionOf(err error) string {
	var hbErr *Error
	if errors.As(err, &hbErr) && errors.Is(hbErr.Kind, ErrControlFailed) {
		return hbErr.Action
	}
	return ""
}

func notFoundError(path, reason string, err error) error {
	return &Error{Kind: ErrExecutableNotFound, Path: path, Reason: reason, Err: err}
}

func invalidExecutableError(path, reason string, err error) error {
	return &Error{Kind: ErrInvalidExecutable, Path: path, Reason: reason, Err: err}
}

func spawnError(path string, err error) error {
	return &Error{Kind: ErrProcessSpawnFailed, Path: path, Err: err}
}

func controlError(action string, err error) error {
	return &Error{Kind: ErrControlFailed, Action: action, Err: err}
}
