package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/superyu1337/handbrake-go/internal/manifest"
	"github.com/superyu1337/handbrake-go/internal/scheduler"
	"github.com/superyu1337/handbrake-go/pkg/handbrake"
)

// manifestSchedule is the value of a bare --cron flag.
const manifestSchedule = "manifest"

var (
	batchCron   string
	batchDryRun bool
)

var batchCmd = &cobra.Command{
	Use:   "batch MANIFEST",
	Short: "Encode every job of a manifest",
	Long: `Submit every job of a YAML manifest, wait for the encodes and exit
non-zero if any of them did not succeed. At most runner.max_concurrent
encodes run at once.

With --cron the manifest is run on a schedule until hbctl is interrupted.
A bare --cron uses the manifest's own schedule. The manifest is read again
on every run, so edits apply to the next one.

  hbctl batch nightly.yaml --cron "0 30 2 * * *"`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVar(&batchCron, "cron", "", "run the manifest on this cron schedule (seconds optional)")
	batchCmd.Flags().Lookup("cron").NoOptDefVal = manifestSchedule
	batchCmd.Flags().BoolVar(&batchDryRun, "dry-run", false, "print the HandBrakeCLI command lines and exit")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := args[0]

	// fail fast on a broken manifest; the task loads it again
	m, err := manifest.Load(path)
	if err != nil {
		return err
	}
	reqs, err := m.Requests()
	if err != nil {
		return err
	}

	if batchDryRun {
		bin := cfg.HandBrake.BinaryPath
		if bin == "" {
			bin = handbrake.BinaryName
		}
		for _, req := range reqs {
			b := req.Configure(handbrake.NewJobBuilder(bin, handbrake.FileInput(req.Input), handbrake.FileOutput(req.Output)))
			fmt.Fprintln(cmd.OutOrStdout(), shellQuote(append([]string{bin}, b.BuildArgs()...)))
		}
		return nil
	}

	spec := batchCron
	if spec == manifestSchedule {
		if m.Schedule == "" {
			return fmt.Errorf("--cron given without a schedule and %s has none", path)
		}
		spec = m.Schedule
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	e, err := newEngine(ctx, cfg, logger, engineOptions{})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := e.Close(shutdownCtx); err != nil {
			logger.Error("shutdown incomplete", slog.String("error", err.Error()))
		}
	}()

	task := scheduler.ManifestTask(e.svc, path, logger)
	if spec == "" {
		return task(ctx)
	}

	s := scheduler.NewScheduler().WithLogger(logger)
	if err := s.Add("batch", spec, task); err != nil {
		return err
	}
	if cfg.History.Retention > 0 {
		if err := s.Add("prune-history", cfg.History.PruneCron, scheduler.PruneTask(e.svc, cfg.History.Retention)); err != nil {
			return err
		}
	}
	if err := s.Start(ctx); err != nil {
		return err
	}
	for _, entry := range s.Entries() {
		if entry.Name == "batch" {
			logger.Info("batch scheduled", slog.String("manifest", path), slog.String("cron", spec), slog.Time("next", entry.Next))
		}
	}

	<-ctx.Done()
	s.Stop()
	return nil
}
