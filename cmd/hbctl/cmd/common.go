package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/superyu1337/handbrake-go/internal/config"
	"github.com/superyu1337/handbrake-go/internal/database"
	"github.com/superyu1337/handbrake-go/internal/observability"
	"github.com/superyu1337/handbrake-go/internal/queue"
	"github.com/superyu1337/handbrake-go/internal/repository"
	"github.com/superyu1337/handbrake-go/internal/service/encode"
	"github.com/superyu1337/handbrake-go/internal/tracker"
	"github.com/superyu1337/handbrake-go/pkg/handbrake"
)

const pingTimeout = 5 * time.Second

// handbrakeOptions maps the handbrake config section to client options.
func handbrakeOptions(cfg config.HandBrakeConfig, logger *slog.Logger) []handbrake.Option {
	return []handbrake.Option{
		handbrake.WithLogger(logger),
		handbrake.WithVersionTimeout(cfg.VersionTimeout),
		handbrake.WithEventBuffer(cfg.EventBuffer),
		handbrake.WithMaxConfigBlock(int(cfg.MaxConfigBlock)),
	}
}

// newHandBrake locates and validates HandBrakeCLI. A configured binary path
// disables discovery.
func newHandBrake(ctx context.Context, cfg config.HandBrakeConfig, logger *slog.Logger) (*handbrake.HandBrake, error) {
	opts := handbrakeOptions(cfg, logger)
	if cfg.BinaryPath != "" {
		return handbrake.NewWithPath(ctx, cfg.BinaryPath, opts...)
	}
	return handbrake.New(ctx, opts...)
}

// openHistory opens the database and applies pending migrations.
func openHistory(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*database.DB, repository.EncodeRunRepository, error) {
	db, err := database.New(cfg, observability.WithComponent(logger, "database"))
	if err != nil {
		return nil, nil, fmt.Errorf("initializing database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, repository.NewEncodeRunRepository(db.DB), nil
}

// engine is what the commands that run managed encodes share: HandBrakeCLI,
// the history database, the encode service and its sinks.
type engine struct {
	cfg    *config.Config
	logger *slog.Logger
	hb     *handbrake.HandBrake
	db     *database.DB
	svc    *encode.Service

	// checks are reported by the health endpoint.
	checks  map[string]func(context.Context) error
	closers []func() error
}

type engineOptions struct {
	// recover fails runs an earlier process left unfinished.
	recover bool
}

// newEngine wires the encode service to the configured history database and
// optional Redis and Kafka sinks.
func newEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts engineOptions) (*engine, error) {
	hb, err := newHandBrake(ctx, cfg.HandBrake, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("HandBrakeCLI found",
		slog.String("path", hb.Path()),
		slog.String("version", hb.Version()),
	)

	db, repo, err := openHistory(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	e := &engine{
		cfg:    cfg,
		logger: logger,
		hb:     hb,
		db:     db,
		checks: map[string]func(context.Context) error{"database": db.Ping},
	}
	e.svc = encode.NewService(hb, repo, encode.Options{
		MaxConcurrent:    cfg.Runner.MaxConcurrent,
		ProgressInterval: cfg.Runner.ProgressInterval,
	}).WithLogger(logger)

	if cfg.Redis.Enabled {
		tr := tracker.New(cfg.Redis, logger)
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := tr.Ping(pingCtx)
		cancel()
		if err != nil {
			// the tracker reconnects by itself; runs are still recorded
			logger.Warn("redis unavailable", slog.String("addr", cfg.Redis.Addr), slog.String("error", err.Error()))
		}
		e.svc.WithSink(tr)
		e.checks["redis"] = tr.Ping
		e.closers = append(e.closers, tr.Close)
	}

	if cfg.Kafka.Enabled {
		pub := queue.NewPublisher(cfg.Kafka)
		e.svc.WithSink(pub)
		e.closers = append(e.closers, pub.Close)
		logger.Info("publishing run status to kafka",
			slog.Any("brokers", cfg.Kafka.Brokers),
			slog.String("topic", cfg.Kafka.StatusTopic),
		)
	}

	if opts.recover {
		if db.Driver() != "sqlite" {
			logger.Debug("skipping recovery of unfinished runs on a shared database", slog.String("driver", db.Driver()))
		} else if err := e.svc.Recover(ctx); err != nil {
			_ = e.Close(ctx)
			return nil, fmt.Errorf("recovering unfinished runs: %w", err)
		}
	}

	return e, nil
}

// Close stops the encode service, waiting for active runs until ctx
// expires, then releases the sinks and the database.
func (e *engine) Close(ctx context.Context) error {
	errs := []error{e.svc.Shutdown(ctx)}
	for _, closeFn := range e.closers {
		errs = append(errs, closeFn())
	}
	errs = append(errs, e.db.Close())
	return errors.Join(errs...)
}
