package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/superyu1337/handbrake-go/internal/config"
	"github.com/superyu1337/handbrake-go/internal/models"
	"github.com/superyu1337/handbrake-go/internal/observability"
	"github.com/superyu1337/handbrake-go/internal/service/encode"
)

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Submitter runs encode requests. *encode.Service satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req encode.Request) (*models.EncodeRun, error)
	Wait(ctx context.Context, id models.ULID) (*models.EncodeRun, error)
}

// Consumer reads encode requests from the request topic and submits them.
//
// A message is committed once its run has been recorded, so a crash
// before that point redelivers it. At most maxInFlight runs submitted by
// one consumer are unfinished at a time; the rest stay in Kafka.
type Consumer struct {
	reader      messageReader
	svc         Submitter
	maxInFlight int
	logger      *slog.Logger
}

// NewConsumer creates a consumer in cfg.GroupID reading cfg.RequestTopic.
func NewConsumer(cfg config.KafkaConfig, svc Submitter, maxInFlight int) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.RequestTopic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumer(reader, svc, maxInFlight)
}

func newConsumer(reader messageReader, svc Submitter, maxInFlight int) *Consumer {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Consumer{
		reader:      reader,
		svc:         svc,
		maxInFlight: maxInFlight,
		logger:      observability.WithComponent(slog.Default(), "queue"),
	}
}

// WithLogger sets the logger.
func (c *Consumer) WithLogger(logger *slog.Logger) *Consumer {
	c.logger = observability.WithComponent(logger, "queue")
	return c
}

// Run consumes until ctx is cancelled, then waits for the runs it submitted
// to be released by the service. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	slots := make(chan struct{}, c.maxInFlight)
	var wg sync.WaitGroup
	defer wg.Wait()

	c.logger.Info("consumer started", slog.Int("max_in_flight", c.maxInFlight))
	for {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			<-slots
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetching request: %w", err)
		}

		run := c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				<-slots
				return nil
			}
			c.logger.Error("committing request failed",
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}

		if run == nil {
			<-slots
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			// the service detaches runs from ctx, so wait for release
			// even when the consumer is stopping
			if _, err := c.svc.Wait(context.WithoutCancel(ctx), run.ID); err != nil && !errors.Is(err, encode.ErrRunNotFound) {
				c.logger.Warn("waiting for run failed", slog.String("job_id", run.ID.String()), slog.String("error", err.Error()))
			}
		}()
	}
}

// handle decodes and submits one message. Malformed or rejected requests
// are logged and skipped; it returns nil for them.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) *models.EncodeRun {
	logger := c.logger.With(
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
	)

	req, err := decodeRequest(msg)
	if err != nil {
		logger.Warn("skipping malformed request", slog.String("error", err.Error()))
		return nil
	}

	run, err := c.svc.Submit(ctx, req)
	if err != nil {
		logger.Warn("request rejected", slog.String("input", req.Input), slog.String("error", err.Error()))
		return nil
	}
	observability.WithJobID(logger, run.ID.String()).Info("request submitted", slog.String("input", req.Input))
	return run
}

// Close closes the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// decodeRequest parses a message value. Unknown fields are rejected and the
// message key names the run when the payload does not.
func decodeRequest(msg kafka.Message) (encode.Request, error) {
	var req encode.Request
	dec := json.NewDecoder(bytes.NewReader(msg.Value))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return encode.Request{}, fmt.Errorf("decoding request: %w", err)
	}
	if req.Name == "" && len(msg.Key) > 0 {
		req.Name = string(msg.Key)
	}
	return req, nil
}

// encodeRequest builds the message a producer sends for req.
func encodeRequest(req encode.Request) (kafka.Message, error) {
	value, err := json.Marshal(req)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding request: %w", err)
	}
	msg := kafka.Message{Value: value}
	if req.Name != "" {
		msg.Key = []byte(req.Name)
	}
	return msg, nil
}
