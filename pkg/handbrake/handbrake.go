// Package handbrake drives HandBrakeCLI as a subprocess.
//
// A HandBrake value is a validated executable. Jobs are described with a
// JobBuilder and either run to completion (Status) or started in monitored
// mode (Start), which returns a JobHandle streaming typed events parsed from
// the process's stdout and stderr.
package handbrake

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/superyu1337/handbrake-go/internal/util"
)

const (
	// BinaryName is the executable name searched for during discovery.
	BinaryName = "HandBrakeCLI"

	// BinaryEnvVar names an environment variable holding an explicit executable path.
	BinaryEnvVar = "HANDBRAKE_CLI"

	// DefaultEventBuffer is the capacity of a job's event channel.
	DefaultEventBuffer = 128

	// DefaultVersionTimeout bounds the `--version` probe.
	DefaultVersionTimeout = 10 * time.Second

	// DefaultMaxConfigBlock caps the size of a buffered job config block.
	DefaultMaxConfigBlock = 1 << 20
)

// settings are shared by a HandBrake value and every job it builds.
type settings struct {
	logger         *slog.Logger
	versionTimeout time.Duration
	eventBuffer    int
	maxConfigBlock int
}

func defaultSettings() settings {
	return settings{
		logger:         slog.Default(),
		versionTimeout: DefaultVersionTimeout,
		eventBuffer:    DefaultEventBuffer,
		maxConfigBlock: DefaultMaxConfigBlock,
	}
}

// Option customises discovery and the jobs created from the result.
type Option func(*settings)

// WithLogger sets the logger used for process lifecycle messages.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithVersionTimeout bounds how long the `--version` probe may run.
func WithVersionTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.versionTimeout = d
		}
	}
}

// WithEventBuffer sets the capacity of each job's event channel.
func WithEventBuffer(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.eventBuffer = n
		}
	}
}

// WithMaxConfigBlock caps how many bytes of an embedded job config block are
// buffered before the block is given up on and surfaced as a log line.
// Zero or negative disables the cap.
func WithMaxConfigBlock(n int) Option {
	return func(s *settings) {
		s.maxConfigBlock = n
	}
}

// HandBrake is a located and validated HandBrakeCLI executable.
type HandBrake struct {
	path     string
	version  string
	settings settings
}

// New locates HandBrakeCLI and validates it.
// Search order: $HANDBRAKE_CLI, ./HandBrakeCLI, then PATH.
func New(ctx context.Context, opts ...Option) (*HandBrake, error) {
	s := applyOptions(opts)

	path, err := util.FindBinary(BinaryName, BinaryEnvVar)
	if err != nil {
		return nil, notFoundError("", fmt.Sprintf("searched $%s, ./%s and PATH", BinaryEnvVar, BinaryName), err)
	}

	return newValidated(ctx, path, s)
}

// NewWithPath validates the executable at path.
func NewWithPath(ctx context.Context, path string, opts ...Option) (*HandBrake, error) {
	s := applyOptions(opts)

	info, err := os.Stat(path)
	if err != nil {
		return nil, notFoundError(path, "", err)
	}
	if info.IsDir() {
		return nil, notFoundError(path, "path is a directory", nil)
	}

	return newValidated(ctx, path, s)
}

func applyOptions(opts []Option) settings {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func newValidated(ctx context.Context, path string, s settings) (*HandBrake, error) {
	version, err := probeVersion(ctx, path, s.versionTimeout)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("HandBrakeCLI detected",
		slog.String("path", path),
		slog.String("version", version),
	)

	return &HandBrake{path: path, version: version, settings: s}, nil
}

// probeVersion runs `<path> --version` and returns the first non-empty stdout line.
func probeVersion(ctx context.Context, path string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "--version")
	cmd.Stdout = &stdout
	// libhb prints its init chatter on stderr
	cmd.Stderr = io.Discard

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", invalidExecutableError(path,
				fmt.Sprintf("'--version' command failed with exit code %d", exitErr.ExitCode()), nil)
		}
		return "", invalidExecutableError(path, "'--version' command could not be run", err)
	}

	out := stdout.Bytes()
	if !utf8.Valid(out) {
		return "", invalidExecutableError(path, "failed to parse version output as UTF-8", nil)
	}

	version := firstLine(string(out))
	if version == "" {
		return "", invalidExecutableError(path, "'--version' command returned empty output", nil)
	}
	return version, nil
}

func firstLine(s string) string {
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line
		}
	}
	return ""
}

// Path returns the executable path.
func (h *HandBrake) Path() string {
	return h.path
}

// Version returns the version line reported by the executable, e.g. "HandBrake 1.7.2".
func (h *HandBrake) Version() string {
	return h.version
}

// Job starts describing a job reading from in and writing to out.
func (h *HandBrake) Job(in InputSource, out OutputDestination) *JobBuilder {
	b := NewJobBuilder(h.path, in, out)
	b.settings = h.settings
	return b
}
