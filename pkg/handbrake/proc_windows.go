//go:build windows

package handbrake

import (
	"io"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// setProcessGroup creates the child in a new process group, which is what
// GenerateConsoleCtrlEvent addresses.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

func inheritedStdin() io.Reader {
	return os.Stdin
}

// interrupt sends CTRL_BREAK to the child's process group. CTRL_C cannot be
// delivered to a group created with CREATE_NEW_PROCESS_GROUP.
func interrupt(p *os.Process) error {
	return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(p.Pid))
}
