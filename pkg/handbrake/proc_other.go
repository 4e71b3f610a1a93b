//go:build !unix && !windows

package handbrake

import (
	"errors"
	"io"
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

func inheritedStdin() io.Reader {
	return os.Stdin
}

func interrupt(*os.Process) error {
	return errors.ErrUnsupported
}
