package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/superyu1337/handbrake-go/pkg/handbrake"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Locate and validate HandBrakeCLI",
	Long: `Locate HandBrakeCLI and check that it runs.

The executable is taken from handbrake.binary_path (or --handbrake) when set.
Otherwise $HANDBRAKE_CLI, the working directory and PATH are searched in
that order. The executable must answer --version within
handbrake.version_timeout.`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	hb, err := newHandBrake(cmd.Context(), cfg.HandBrake, slog.Default())
	if err != nil {
		switch {
		case errors.Is(err, handbrake.ErrExecutableNotFound):
			return &exitError{code: 2, err: err}
		case errors.Is(err, handbrake.ErrInvalidExecutable):
			return &exitError{code: 3, err: err}
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "path:    %s\n", hb.Path())
	fmt.Fprintf(out, "version: %s\n", hb.Version())
	return nil
}
