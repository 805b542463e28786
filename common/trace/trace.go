// Package trace generates per-message correlation IDs and carries them
// through a context so every log line for one chat message can be grouped.
package trace

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type traceKey struct{}

// GenerateID returns a new trace ID of the form "t_<uuid without dashes>".
func GenerateID() string {
	id := uuid.New()
	const hex = "0123456789abcdef"
	buf := make([]byte, 2, 2+32)
	buf[0], buf[1] = 't', '_'
	for _, b := range id {
		buf = append(buf, hex[b>>4], hex[b&0x0f])
	}
	return string(buf)
}

// WithTraceID returns a child context carrying id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext returns the trace ID in ctx, or "" if there is none.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// Attr returns a slog attribute for the trace ID in ctx. The attribute is
// empty (and dropped by slog) when ctx has no trace ID.
func Attr(ctx context.Context) slog.Attr {
	id := FromContext(ctx)
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("trace_id", id)
}
