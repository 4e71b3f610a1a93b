// Package queue connects the encode service to Kafka: a consumer that
// submits encode requests read from a topic, and a publisher that emits run
// status updates to another.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/superyu1337/handbrake-go/internal/config"
	"github.com/superyu1337/handbrake-go/internal/service/encode"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes status updates to the status topic, keyed by run id so
// that the updates of one run stay ordered within a partition.
// It implements encode.Sink.
type Publisher struct {
	writer messageWriter
}

// NewPublisher creates a publisher for cfg.StatusTopic.
func NewPublisher(cfg config.KafkaConfig) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.StatusTopic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: cfg.BatchTimeout,
		},
	}
}

// Publish implements encode.Sink.
func (p *Publisher) Publish(ctx context.Context, u encode.Update) error {
	msg, err := encodeUpdate(u)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing update for run %s: %w", u.RunID, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func encodeUpdate(u encode.Update) (kafka.Message, error) {
	value, err := json.Marshal(u)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding update: %w", err)
	}
	return kafka.Message{
		Key:   []byte(u.RunID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(u.Type)},
		},
	}, nil
}

// RequestProducer writes encode requests to the request topic.
type RequestProducer struct {
	writer messageWriter
}

// NewRequestProducer creates a producer for cfg.RequestTopic.
func NewRequestProducer(cfg config.KafkaConfig) *RequestProducer {
	return &RequestProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.RequestTopic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: cfg.BatchTimeout,
		},
	}
}

// Enqueue validates and writes requests in one batch.
func (p *RequestProducer) Enqueue(ctx context.Context, reqs ...encode.Request) error {
	msgs := make([]kafka.Message, 0, len(reqs))
	for i := range reqs {
		if err := reqs[i].Validate(); err != nil {
			return fmt.Errorf("request %d: %w", i+1, err)
		}
		msg, err := encodeRequest(reqs[i])
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("enqueueing requests: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *RequestProducer) Close() error {
	return p.writer.Close()
}
