package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	internalhttp "github.com/superyu1337/handbrake-go/internal/http"
	"github.com/superyu1337/handbrake-go/internal/http/handlers"
	"github.com/superyu1337/handbrake-go/internal/scheduler"
	"github.com/superyu1337/handbrake-go/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hbctl HTTP API",
	Long: `Start the HTTP API for submitting, monitoring and controlling encodes.

The server provides:
- REST API under /api/v1/jobs
- Server-sent run updates at /api/v1/events and /api/v1/jobs/{id}/events
- Health check at /api/v1/health
- OpenAPI documentation at /docs

Finished runs are pruned on history.prune_cron. When redis.enabled is set,
live run state is mirrored to Redis; when kafka.enabled is set, run
updates are published to kafka.status_topic.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "host to bind to")
	serveCmd.Flags().Int("port", 8080, "port to listen on")
	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEngine(ctx, cfg, logger, engineOptions{recover: true})
	if err != nil {
		return err
	}

	srv := internalhttp.NewServer(cfg.Server, logger, version.Version)
	handlers.NewJobHandler(e.svc).Register(srv.API())
	handlers.NewEventsHandler(e.svc).RegisterSSE(srv.Router())

	health := handlers.NewHealthHandler(version.Short(), e.svc).WithHandBrake(e.hb.Path(), e.hb.Version())
	for name, check := range e.checks {
		health.WithCheck(name, check)
	}
	health.Register(srv.API())

	sched := scheduler.NewScheduler().WithLogger(logger)
	if cfg.History.Retention > 0 {
		if err := sched.Add("prune-history", cfg.History.PruneCron, scheduler.PruneTask(e.svc, cfg.History.Retention)); err != nil {
			_ = e.Close(ctx)
			return err
		}
	}
	if err := sched.Start(ctx); err != nil {
		_ = e.Close(ctx)
		return err
	}

	serveErr := srv.ListenAndServe(ctx)
	stop()

	sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := e.Close(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", slog.String("error", err.Error()))
	}

	logger.Info("hbctl stopped")
	return serveErr
}
