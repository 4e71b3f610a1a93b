package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/superyu1337/handbrake-go/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run encodes requested on Kafka",
	Long: `Consume encode requests from kafka.request_topic as members of
kafka.group_id and run them. A request is committed once its run has been
recorded; at most runner.max_concurrent runs are in flight.

Run status is published to kafka.status_topic. Requests can be produced
with "hbctl enqueue".`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// the worker always publishes status, whether or not serve would
	cfg.Kafka.Enabled = true
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEngine(ctx, cfg, logger, engineOptions{recover: true})
	if err != nil {
		return err
	}

	consumer := queue.NewConsumer(cfg.Kafka, e.svc, cfg.Runner.MaxConcurrent).WithLogger(logger)
	logger.Info("worker started",
		slog.Any("brokers", cfg.Kafka.Brokers),
		slog.String("topic", cfg.Kafka.RequestTopic),
		slog.String("group_id", cfg.Kafka.GroupID),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- consumer.Run(ctx) }()

	var runErr error
	stopped := false
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		stopped = true
	}
	stop()

	// cancels the active runs, which lets Run release them and return
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := e.Close(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", slog.String("error", err.Error()))
	}
	if !stopped {
		runErr = <-errCh
	}
	if err := consumer.Close(); err != nil {
		logger.Warn("closing kafka reader", slog.String("error", err.Error()))
	}
	return runErr
}
