package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/el7lm/smartlogin/internal/config"
	"github.com/el7lm/smartlogin/internal/models"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes security events keyed by phone, so every event
// for one phone lands on the same partition in order. When disabled every
// call is a no-op.
type KafkaPublisher struct {
	writer  messageWriter
	logger  *slog.Logger
	enabled bool
}

// NewKafkaPublisher creates an asynchronous writer for cfg.Topic. Delivery
// failures are logged by the writer's completion callback, never returned
// to the login path.
func NewKafkaPublisher(cfg config.EventsConfig, logger *slog.Logger) *KafkaPublisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info("security event publisher disabled")
		return &KafkaPublisher{logger: logger}
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("failed to deliver security events",
					slog.Int("count", len(messages)),
					slog.Any("error", err))
			}
		},
	}

	logger.Info("security event publisher initialized",
		slog.Any("brokers", cfg.Brokers),
		slog.String("topic", cfg.Topic))
	return &KafkaPublisher{writer: w, logger: logger, enabled: true}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event models.SecurityEvent) error {
	if !p.enabled {
		return nil
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal security event: %w", err)
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Phone),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
}

// Close flushes pending messages and shuts down the writer.
func (p *KafkaPublisher) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
