// Package version provides build-time version information for hbctl.
//
// Version, Commit, and Date are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/superyu1337/handbrake-go/internal/version.Version=x.y.z \
//	                   -X github.com/superyu1337/handbrake-go/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/superyu1337/handbrake-go/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
)

// Build-time variables injected via ldflags.
var (
	// Version is the semantic version. Prereleases look like "1.2.3-SNAPSHOT.abc1234".
	Version = "dev"

	// Commit is the full git commit SHA.
	Commit = "unknown"

	// Date is the build timestamp in RFC3339 format.
	Date = "unknown"
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "hbctl"

// Info contains structured version information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	// HandBrake is the version line of the detected HandBrakeCLI, when known.
	HandBrake string `json:"handbrake,omitempty"`
}

// GetInfo returns all version information as a structured type.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

func shortCommit() (string, bool) {
	if Commit != "unknown" && len(Commit) >= 8 {
		return Commit[:8], true
	}
	return "", false
}

// String returns a human-readable version string.
func String() string {
	info := GetInfo()
	if commit, ok := shortCommit(); ok {
		return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
			ApplicationName, info.Version, commit, info.Date, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, info.Version, info.GoVersion, info.Platform)
}

// Short returns a short version string suitable for CLI --version output.
func Short() string {
	if commit, ok := shortCommit(); ok {
		return fmt.Sprintf("%s (%s)", Version, commit)
	}
	return Version
}

// JSON returns the version information as indented JSON. handbrake may be empty.
func JSON(handbrake string) string {
	info := GetInfo()
	info.HandBrake = handbrake
	out, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(out)
}

// IsSnapshot returns true if this is a snapshot/prerelease build.
func IsSnapshot() bool {
	return Version == "dev" || strings.Contains(Version, "-SNAPSHOT")
}
