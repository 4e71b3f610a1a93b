package handbrake

import (
	"io"
	"os"
)

// Pipe arguments HandBrakeCLI accepts in place of file paths.
const (
	stdinArg  = "pipe:0"
	stdoutArg = "pipe:1"
)

// InputSource is where a job reads its media from: a file or standard input.
type InputSource struct {
	path   string
	reader io.Reader
	stdin  bool
}

// FileInput reads from the file at path.
func FileInput(path string) InputSource {
	return InputSource{path: path}
}

// StdinInput feeds r to the process's standard input.
// A nil reader means the caller's own standard input.
func StdinInput(r io.Reader) InputSource {
	return InputSource{reader: r, stdin: true}
}

// IsStdin reports whether the source is the standard input stream.
func (s InputSource) IsStdin() bool {
	return s.stdin
}

// Path returns the file path, or "" for standard input.
func (s InputSource) Path() string {
	return s.path
}

func (s InputSource) arg() string {
	if s.stdin {
		return stdinArg
	}
	return s.path
}

func (s InputSource) stdinReader() io.Reader {
	if s.reader != nil {
		return s.reader
	}
	return os.Stdin
}

// String returns the argument form of the source.
func (s InputSource) String() string {
	return s.arg()
}

// OutputDestination is where a job writes its media: a file or standard output.
type OutputDestination struct {
	path   string
	writer io.Writer
	stdout bool
}

// FileOutput writes to the file at path.
func FileOutput(path string) OutputDestination {
	return OutputDestination{path: path}
}

// StdoutOutput writes media to the process's standard output.
// In status mode the bytes are copied to w (nil means the caller's own
// standard output). In monitored mode they arrive as Fragment events and w is unused.
func StdoutOutput(w io.Writer) OutputDestination {
	return OutputDestination{writer: w, stdout: true}
}

// IsStdout reports whether the destination is the standard output stream.
func (d OutputDestination) IsStdout() bool {
	return d.stdout
}

// Path returns the file path, or "" for standard output.
func (d OutputDestination) Path() string {
	return d.path
}

func (d OutputDestination) arg() string {
	if d.stdout {
		return stdoutArg
	}
	return d.path
}

func (d OutputDestination) stdoutWriter() io.Writer {
	if d.writer != nil {
		return d.writer
	}
	return os.Stdout
}

// String returns the argument form of the destination.
func (d OutputDestination) String() string {
	return d.arg()
}
