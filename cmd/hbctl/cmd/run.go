package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runFlags jobFlags

var runCmd = &cobra.Command{
	Use:   "run INPUT OUTPUT",
	Short: "Run an encode with HandBrakeCLI's own output",
	Long: `Run HandBrakeCLI in the foreground. Its standard error is passed through
unparsed and hbctl exits with HandBrakeCLI's exit status. Use - for
standard input or standard output.

Use "hbctl encode" for parsed progress reporting.`,
	Args: cobra.ExactArgs(2),
	RunE: runRun,
}

func init() {
	runFlags.register(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	req, err := runFlags.request(cmd.Flags(), args[0], args[1])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hb, err := newHandBrake(ctx, cfg.HandBrake, slog.Default())
	if err != nil {
		return err
	}

	state, err := req.Configure(hb.Job(inputSource(req.Input), outputDestination(req.Output))).Status(ctx)
	if err != nil {
		if state != nil && errors.Is(err, ctx.Err()) {
			return &exitError{code: 130, err: fmt.Errorf("interrupted: %s", state)}
		}
		return err
	}
	if !state.Success() {
		return &exitError{code: state.ExitCode(), err: fmt.Errorf("HandBrakeCLI %s", state)}
	}
	return nil
}
