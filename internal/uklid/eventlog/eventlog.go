// Package eventlog is the append-only record of what happened during
// cleaning sessions.
package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/uklid/common/trace"
	"github.com/bdobrica/uklid/internal/uklid/metrics"
	"github.com/bdobrica/uklid/internal/uklid/store"
)

// Store persists events.
type Store interface {
	InsertEvent(ctx context.Context, e *store.Event) error
	ListEventsForSession(ctx context.Context, sessionID string) ([]store.Event, error)
}

// Publisher forwards committed events to downstream consumers (reporting,
// dashboards).
type Publisher interface {
	Publish(ctx context.Context, e store.Event) error
}

// DefaultPublishTimeout bounds how long Append waits on the publisher.
const DefaultPublishTimeout = time.Second

// Log appends events and fans them out to an optional Publisher.
type Log struct {
	store          Store
	publisher      Publisher
	publishTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithPublisher fans every appended event out to p.
func WithPublisher(p Publisher) Option {
	return func(l *Log) { l.publisher = p }
}

// WithPublishTimeout caps the time Append spends publishing one event. A
// publisher that is still busy when d elapses is abandoned and the event
// counts as a publish failure. Non-positive values keep the default.
func WithPublishTimeout(d time.Duration) Option {
	return func(l *Log) {
		if d > 0 {
			l.publishTimeout = d
		}
	}
}

// WithClock overrides the clock used for events without a start time.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New returns a Log writing to s.
func New(s Store, logger *slog.Logger, opts ...Option) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Log{store: s, publishTimeout: DefaultPublishTimeout, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append stores e and returns its ID. A missing ID or start time is filled
// in. Publishing happens after the insert commits and is bounded by the
// publish timeout; a publish failure is logged and does not fail the append.
func (l *Log) Append(ctx context.Context, e store.Event) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = l.now()
	}
	e.StartedAt = e.StartedAt.UTC()
	if len(e.Payload) == 0 {
		e.Payload = []byte("{}")
	}

	if err := l.store.InsertEvent(ctx, &e); err != nil {
		return "", fmt.Errorf("eventlog: append %s: %w", e.Type, err)
	}
	metrics.EventsAppended.WithLabelValues(e.Type).Inc()

	if l.publisher != nil {
		l.publish(ctx, e)
	}
	return e.ID, nil
}

func (l *Log) publish(ctx context.Context, e store.Event) {
	ctx, cancel := context.WithTimeout(ctx, l.publishTimeout)
	defer cancel()
	if err := l.publisher.Publish(ctx, e); err != nil {
		metrics.EventsPublishFailed.Inc()
		l.logger.Warn("event publish failed", trace.Attr(ctx),
			"event_id", e.ID, "type", e.Type, "err", err)
	}
}

// ListForSession returns the session's events ordered by start time.
func (l *Log) ListForSession(ctx context.Context, sessionID string) ([]store.Event, error) {
	events, err := l.store.ListEventsForSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("eventlog: list session %s: %w", sessionID, err)
	}
	return events, nil
}
