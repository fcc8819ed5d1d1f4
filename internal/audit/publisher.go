// Package audit publishes authorization lifecycle events to a log or a Kafka
// topic.
package audit

import (
	"context"
	"log/slog"

	"classauth/internal/platform/logger"
	"classauth/pkg/requestcontext"
)

// Publisher accepts audit events. Implementations must not block the caller
// on a slow sink.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

// Enrich fills timestamp and request metadata the caller left empty.
func Enrich(ctx context.Context, e Event) Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = requestcontext.Now(ctx)
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.RequestID == "" {
		e.RequestID = requestcontext.RequestID(ctx)
	}
	if e.ClientIP == "" {
		e.ClientIP = requestcontext.ClientIP(ctx)
	}
	if e.Browser == "" {
		e.Browser = requestcontext.Browser(ctx)
	}
	return e
}

// LogPublisher writes events as structured log records.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(l *slog.Logger) *LogPublisher {
	if l == nil {
		l = logger.Discard()
	}
	return &LogPublisher{logger: l}
}

func (p *LogPublisher) Emit(ctx context.Context, event Event) error {
	e := Enrich(ctx, event)
	attrs := []any{
		"type", string(e.Type),
		"timestamp", e.Timestamp,
		"user_id", e.UserID,
	}
	if e.Flow != "" {
		attrs = append(attrs, "flow", e.Flow)
	}
	if e.Reason != "" {
		attrs = append(attrs, "reason", e.Reason)
	}
	if len(e.Scopes) > 0 {
		attrs = append(attrs, "scopes", e.Scopes)
	}
	if e.RequestID != "" {
		attrs = append(attrs, "request_id", e.RequestID)
	}
	if e.ClientIP != "" {
		attrs = append(attrs, "client_ip", e.ClientIP)
	}
	if e.Browser != "" {
		attrs = append(attrs, "browser", e.Browser)
	}
	p.logger.InfoContext(ctx, "audit", attrs...)
	return nil
}
