package authcore

import (
	"io"

	"go.uber.org/zap"

	internalaudit "github.com/pyroalert/authcore/internal/audit"
)

// AuditEvent is one security event delivered to an AuditSink.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers events in a channel, mostly for tests.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes newline delimited JSON.
type JSONWriterSink = internalaudit.JSONWriterSink

// ZapSink logs events through zap.
type ZapSink = internalaudit.ZapSink

// MultiSink fans out to several sinks.
type MultiSink = internalaudit.MultiSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	return internalaudit.NewZapSink(logger)
}
