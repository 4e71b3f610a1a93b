// Package main is the entry point for hbctl.
package main

import (
	"os"

	"github.com/superyu1337/handbrake-go/cmd/hbctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
