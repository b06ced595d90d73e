package flows

import "context"

// AuditFunc emits one audit event. metadata is only called when the event
// is actually recorded.
type AuditFunc func(ctx context.Context, eventType string, success bool, userID string, err error, metadata func() map[string]string)

func noopAudit(context.Context, string, bool, string, error, func() map[string]string) {}

func noopMetric(int) {}

func noopWarn(string, ...any) {}
