// Package tracker mirrors encode run status into Redis so that other
// processes can follow runs without access to the history database.
//
// Each run has a hash at handbrake:job:<id> holding the latest status and
// progress, and every update is published as JSON on handbrake:events:<id>.
// Hashes expire a configurable time after the run finishes.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/superyu1337/handbrake-go/internal/config"
	"github.com/superyu1337/handbrake-go/internal/observability"
	"github.com/superyu1337/handbrake-go/internal/service/encode"
)

const (
	keyPrefix     = "handbrake:job:"
	channelPrefix = "handbrake:events:"
)

// ErrNotTracked is returned by Get when Redis has no hash for the run.
var ErrNotTracked = errors.New("run is not tracked")

// Key returns the hash key of a run.
func Key(runID string) string {
	return keyPrefix + runID
}

// Channel returns the pub/sub channel of a run.
func Channel(runID string) string {
	return channelPrefix + runID
}

// Tracker publishes encode updates to Redis. It implements encode.Sink.
type Tracker struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// New connects to the Redis server in cfg.
func New(cfg config.RedisConfig, logger *slog.Logger) *Tracker {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(client, cfg.TTL, logger)
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		client: client,
		ttl:    ttl,
		logger: observability.WithComponent(logger, "tracker"),
	}
}

// Ping checks the connection.
func (t *Tracker) Ping(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// Publish implements encode.Sink. Log updates are not mirrored.
func (t *Tracker) Publish(ctx context.Context, u encode.Update) error {
	if u.Type == encode.UpdateLog {
		return nil
	}

	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encoding update: %w", err)
	}

	key := Key(u.RunID)
	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, hashFields(u))
		if u.Terminal() && t.ttl > 0 {
			pipe.Expire(ctx, key, t.ttl)
		}
		pipe.Publish(ctx, Channel(u.RunID), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("tracking run %s: %w", u.RunID, err)
	}
	return nil
}

// hashFields flattens an update into hash fields. Optional values that are
// absent are written as empty strings so stale values do not linger.
func hashFields(u encode.Update) map[string]any {
	fields := map[string]any{
		"status":     string(u.Status),
		"seq":        u.Seq,
		"percent":    strconv.FormatFloat(u.Percent, 'f', 2, 64),
		"fps":        strconv.FormatFloat(u.FPS, 'f', 2, 64),
		"avg_fps":    "",
		"eta":        "",
		"updated_at": u.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if u.AvgFPS != nil {
		fields["avg_fps"] = strconv.FormatFloat(*u.AvgFPS, 'f', 2, 64)
	}
	if u.ETASeconds != nil {
		fields["eta"] = strconv.FormatInt(*u.ETASeconds, 10)
	}
	if u.Terminal() {
		fields["finished_at"] = u.Timestamp.UTC().Format(time.RFC3339Nano)
		if u.Message != "" {
			fields["error"] = u.Message
		}
		if u.ExitCode != nil {
			fields["exit_code"] = strconv.Itoa(*u.ExitCode)
		}
	}
	return fields
}

// Get returns the tracked fields of a run.
func (t *Tracker) Get(ctx context.Context, runID string) (map[string]string, error) {
	fields, err := t.client.HGetAll(ctx, Key(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", runID, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotTracked
	}
	return fields, nil
}

// Watch streams the updates of one run until ctx ends or the terminal
// update arrives. The returned channel is closed when watching stops.
func (t *Tracker) Watch(ctx context.Context, runID string) (<-chan encode.Update, error) {
	pubsub := t.client.Subscribe(ctx, Channel(runID))
	// wait for the subscription to be confirmed so no update is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribing to run %s: %w", runID, err)
	}

	out := make(chan encode.Update)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var u encode.Update
				if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
					t.logger.Warn("ignoring malformed update", slog.String("error", err.Error()))
					continue
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
				if u.Terminal() {
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the Redis client.
func (t *Tracker) Close() error {
	return t.client.Close()
}
