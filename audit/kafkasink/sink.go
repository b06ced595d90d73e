// Package kafkasink publishes audit events to a Kafka topic.
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/pyroalert/authcore"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "authcore-audit"

// Sink is an authcore.AuditSink backed by a sarama SyncProducer. Events are
// keyed by user ID so one user's events stay ordered within a partition.
type Sink struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

var _ authcore.AuditSink = (*Sink)(nil)

// New connects a producer to brokers.
func New(brokers []string, topic string, logger *zap.Logger) (*Sink, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("kafkasink: create producer: %w", err)
	}
	return NewWithProducer(producer, topic, logger), nil
}

// NewWithProducer wraps an existing producer.
func NewWithProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *Sink {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{producer: producer, topic: topic, logger: logger}
}

// Emit publishes event. Failures are logged; the dispatcher never retries.
func (s *Sink) Emit(ctx context.Context, event authcore.AuditEvent) {
	if s == nil || s.producer == nil {
		return
	}
	if ctx.Err() != nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("audit event marshal failed", zap.String("event_type", event.EventType), zap.Error(err))
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.EventType)},
		},
	}
	if event.UserID != "" {
		msg.Key = sarama.StringEncoder(event.UserID)
	}

	if _, _, err := s.producer.SendMessage(msg); err != nil {
		s.logger.Warn("audit event publish failed",
			zap.String("event_type", event.EventType),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
	}
}

// Close flushes and closes the producer.
func (s *Sink) Close() error {
	if s == nil || s.producer == nil {
		return nil
	}
	return s.producer.Close()
}
