package events

import (
	"context"
	"log/slog"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (l *LogSink) Name() string { return "log" }

func (l *LogSink) Publish(ctx context.Context, event Event) error {
	attrs := []any{
		"event_id", event.ID,
		"sequence", event.Sequence,
		"type", event.Type,
		"fingerprint", event.Fingerprint,
		"issuer", event.Issuer,
		"timestamp", event.Timestamp.Unix(),
	}
	if event.Subject != nil {
		attrs = append(attrs, "subject", *event.Subject)
	}
	l.logger.InfoContext(ctx, "registry event", attrs...)
	return nil
}
