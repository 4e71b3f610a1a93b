//go:build unix

package handbrake

import (
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"
)

// setProcessGroup puts the child in its own process group so a terminal
// Ctrl-C reaches only the caller, which decides whether to cancel the job.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// inheritedStdin returns the caller's stdin for a job in its own process
// group. A terminal is replaced by the null device: a background process
// group reading from it would be stopped with SIGTTIN.
func inheritedStdin() io.Reader {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		return nil
	}
	return os.Stdin
}

func interrupt(p *os.Process) error {
	return p.Signal(unix.SIGINT)
}
