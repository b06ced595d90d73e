package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pyroalert/authcore"
)

func TestEmitPublishesJSON(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "audit-test" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil || string(key) != "u1" {
			return errors.New("expected user id as key")
		}
		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var event authcore.AuditEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return err
		}
		if event.EventType != "refresh_reuse_detected" || event.UserID != "u1" || event.Success {
			return errors.New("unexpected payload " + string(raw))
		}
		return nil
	})

	sink := NewWithProducer(producer, "audit-test", nil)
	sink.Emit(context.Background(), authcore.AuditEvent{
		ID:        "01J000000000000000000000000",
		Timestamp: time.Unix(1_700_000_000, 0).UTC(),
		EventType: "refresh_reuse_detected",
		UserID:    "u1",
		Success:   false,
	})

	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestEmitLogsPublishFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := NewWithProducer(producer, "", zap.New(core))
	if sink.topic != DefaultTopic {
		t.Fatalf("expected default topic, got %q", sink.topic)
	}
	sink.Emit(context.Background(), authcore.AuditEvent{EventType: "login_failure"})

	if logs.FilterMessage("audit event publish failed").Len() != 1 {
		t.Fatalf("expected one publish failure log, got %d", logs.Len())
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestEmitSkipsCancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	sink := NewWithProducer(producer, "audit-test", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Emit(ctx, authcore.AuditEvent{EventType: "login_success"})

	// Close fails the test if an unexpected message was sent.
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestNilSinkIsSafe(t *testing.T) {
	var sink *Sink
	sink.Emit(context.Background(), authcore.AuditEvent{})
	if err := sink.Close(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
