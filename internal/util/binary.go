// Package util provides small helpers shared across packages.
package util

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrBinaryNotFound is returned by FindBinary when no candidate is executable.
var ErrBinaryNotFound = errors.New("binary not found")

// FindBinary locates an executable by name. Candidates, in order:
//  1. the path in envVar, when envVar is non-empty and set
//  2. ./name in the working directory
//  3. name on PATH
//
// On Windows ".exe" is appended to name when it has no extension.
func FindBinary(name string, envVar string) (string, error) {
	name = executableName(name)
	var searched []string

	if envVar != "" {
		if envPath := os.Getenv(envVar); envPath != "" {
			if IsExecutable(envPath) {
				return envPath, nil
			}
			searched = append(searched, envPath)
		}
	}

	localPath := "." + string(filepath.Separator) + name
	if IsExecutable(localPath) {
		return localPath, nil
	}
	searched = append(searched, localPath)

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	searched = append(searched, "$PATH")

	return "", fmt.Errorf("%w: %s (tried %s)", ErrBinaryNotFound, name, strings.Join(searched, ", "))
}

func executableName(name string) string {
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		return name + ".exe"
	}
	return name
}

// IsExecutable reports whether path is a regular file the current user may run.
// Windows has no executable bit, so any regular file qualifies there.
func IsExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}
