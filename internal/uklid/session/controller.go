// Package session implements the cleaning session lifecycle.
//
// A worker is either idle or has exactly one open session per tenant. The
// rule is enforced by the store with a conditional insert; the Controller
// turns the storage rejection into the same ConflictError a pre-check
// produces, so callers cannot tell a race from a sequential conflict.
//
// All conversational failures implement Replier and carry a reply in the
// language found in the request context (see locale.WithLanguage).
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/uklid/internal/uklid/locale"
	"github.com/bdobrica/uklid/internal/uklid/metrics"
	"github.com/bdobrica/uklid/internal/uklid/nlp"
	"github.com/bdobrica/uklid/internal/uklid/observability"
	"github.com/bdobrica/uklid/internal/uklid/resolver"
	"github.com/bdobrica/uklid/internal/uklid/store"
)

// DefaultTTL is how long a session may stay open before the sweeper closes
// it with reason timeout.
const DefaultTTL = 4 * time.Hour

// SessionStore is the session persistence the Controller needs.
type SessionStore interface {
	CreateOpenSession(ctx context.Context, sess *store.Session) error
	GetOpenSession(ctx context.Context, tenantID, workerID string) (*store.Session, error)
	CloseSession(ctx context.Context, id, reason string, endedAt time.Time) error
	CloseExpiredSessions(ctx context.Context, now time.Time) ([]store.ExpiredSession, error)
}

// EventLog records session events.
type EventLog interface {
	Append(ctx context.Context, e store.Event) (string, error)
}

// PropertyResolver maps a hint to one property.
type PropertyResolver interface {
	Resolve(ctx context.Context, tenantID, hint string) (store.Property, error)
}

// Config holds the optional Controller settings.
type Config struct {
	// TTL defaults to DefaultTTL.
	TTL time.Duration
	// Now defaults to time.Now.
	Now     func() time.Time
	Catalog *locale.Catalog
	Logger  *slog.Logger
}

// Controller is safe for concurrent use. It holds no per-worker state; all
// coordination happens in the store.
type Controller struct {
	sessions SessionStore
	events   EventLog
	resolver PropertyResolver
	ttl      time.Duration
	now      func() time.Time
	catalog  *locale.Catalog
	logger   *slog.Logger
}

// NewController wires a Controller.
func NewController(sessions SessionStore, events EventLog, res PropertyResolver, cfg Config) *Controller {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Catalog == nil {
		cfg.Catalog = locale.MustLoad()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		sessions: sessions,
		events:   events,
		resolver: res,
		ttl:      cfg.TTL,
		now:      cfg.Now,
		catalog:  cfg.Catalog,
		logger:   cfg.Logger,
	}
}

// Opened is the result of a successful Open.
type Opened struct {
	SessionID    string
	PropertyID   string
	PropertyName string
}

// Appended is the result of a successful AppendEvent.
type Appended struct {
	SessionID string
	EventID   string
}

// Closed is the result of a successful Close.
type Closed struct {
	SessionID    string
	PropertyID   string
	PropertyName string
}

// ActiveSession describes a worker's open session.
type ActiveSession struct {
	SessionID     string
	PropertyID    string
	PropertyName  string
	StartedAt     time.Time
	ExpectedEndAt time.Time
}

// Open starts a session at the property named by hint.
//
// A blank hint is a ClarificationError. An existing open session is a
// ConflictError naming its property. Resolver failures come back as
// ResolveError. On success a session_start event is recorded.
func (c *Controller) Open(ctx context.Context, tenantID, workerID, hint string) (*Opened, error) {
	if strings.TrimSpace(hint) == "" {
		return nil, &ClarificationError{reply: c.catalog.FormatContext(ctx, locale.WhichProperty)}
	}

	// --- sequential conflict check ------------------------------------------
	current, err := c.sessions.GetOpenSession(ctx, tenantID, workerID)
	switch {
	case err == nil:
		return nil, c.conflict(ctx, current)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("session: read open session: %w", err)
	}

	// --- resolve property ---------------------------------------------------
	prop, err := c.resolver.Resolve(ctx, tenantID, hint)
	if err != nil {
		return nil, c.resolveError(ctx, err)
	}

	// --- conditional insert -------------------------------------------------
	now := c.now().UTC()
	sess := &store.Session{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		PropertyID:    prop.ID,
		PropertyName:  prop.Name,
		WorkerID:      workerID,
		StartedAt:     now,
		ExpectedEndAt: now.Add(c.ttl),
	}
	if err := c.sessions.CreateOpenSession(ctx, sess); err != nil {
		if !errors.Is(err, store.ErrOpenSessionExists) {
			return nil, fmt.Errorf("session: create: %w", err)
		}
		// Lost a race with a concurrent Open for the same worker.
		current, gerr := c.sessions.GetOpenSession(ctx, tenantID, workerID)
		if gerr != nil {
			current = &store.Session{}
		}
		return nil, c.conflict(ctx, current)
	}
	metrics.SessionsOpened.Inc()

	c.appendBestEffort(ctx, store.Event{
		TenantID:   tenantID,
		PropertyID: prop.ID,
		SessionID:  sess.ID,
		Type:       store.EventSessionStart,
		StartedAt:  now,
		Note:       hint,
	})

	c.log(ctx).Info("session opened", observability.Worker(workerID),
		"tenant", tenantID, "session_id", sess.ID, "property", prop.Name)

	return &Opened{SessionID: sess.ID, PropertyID: prop.ID, PropertyName: prop.Name}, nil
}

// AppendEvent records intent against the worker's open session. The event
// inherits the session's property; the intent's own hint is not resolved.
func (c *Controller) AppendEvent(ctx context.Context, tenantID, workerID string, intent nlp.ParsedIntent) (*Appended, error) {
	eventType, ok := eventTypeFor(intent.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedIntent, intent.Kind)
	}
	if intent.Payload != nil && intent.Payload.Kind() != intent.Kind {
		return nil, fmt.Errorf("%w: %s payload on %s intent", ErrUnsupportedIntent, intent.Payload.Kind(), intent.Kind)
	}

	sess, err := c.sessions.GetOpenSession(ctx, tenantID, workerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NoActiveSessionError{Op: "append", reply: c.catalog.FormatContext(ctx, locale.NoActiveSessionEvent)}
	}
	if err != nil {
		return nil, fmt.Errorf("session: read open session: %w", err)
	}

	payload, err := nlp.EncodePayload(intent.Payload)
	if err != nil {
		return nil, err
	}
	eventID, err := c.events.Append(ctx, store.Event{
		TenantID:   tenantID,
		PropertyID: sess.PropertyID,
		SessionID:  sess.ID,
		Type:       eventType,
		StartedAt:  c.now().UTC(),
		Note:       intent.Text,
		Payload:    payload,
	})
	if err != nil {
		return nil, fmt.Errorf("session: append event: %w", err)
	}
	return &Appended{SessionID: sess.ID, EventID: eventID}, nil
}

// Close ends the worker's open session. Reason done also records a done
// event; timeout and manual do not.
func (c *Controller) Close(ctx context.Context, tenantID, workerID, reason string) (*Closed, error) {
	switch reason {
	case store.CloseDone, store.CloseTimeout, store.CloseManual:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidCloseReason, reason)
	}

	noSession := &NoActiveSessionError{Op: "close", reply: c.catalog.FormatContext(ctx, locale.NoActiveSessionClose)}

	sess, err := c.sessions.GetOpenSession(ctx, tenantID, workerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, noSession
	}
	if err != nil {
		return nil, fmt.Errorf("session: read open session: %w", err)
	}

	now := c.now().UTC()
	if err := c.sessions.CloseSession(ctx, sess.ID, reason, now); err != nil {
		if errors.Is(err, store.ErrSessionNotOpen) {
			// closed by a concurrent Close or sweep
			return nil, noSession
		}
		return nil, fmt.Errorf("session: close: %w", err)
	}
	metrics.SessionsClosed.WithLabelValues(reason).Inc()

	if reason == store.CloseDone {
		c.appendBestEffort(ctx, store.Event{
			TenantID:   tenantID,
			PropertyID: sess.PropertyID,
			SessionID:  sess.ID,
			Type:       store.EventDone,
			StartedAt:  now,
		})
	}

	c.log(ctx).Info("session closed", observability.Worker(workerID),
		"tenant", tenantID, "session_id", sess.ID, "reason", reason,
		"duration", now.Sub(sess.StartedAt).Round(time.Second))

	return &Closed{SessionID: sess.ID, PropertyID: sess.PropertyID, PropertyName: sess.PropertyName}, nil
}

// AutoCloseExpiredSessions closes every open session past its expected end,
// across all tenants, with reason timeout. No events are recorded. Sessions
// already closed by a concurrent sweep or Close are not counted.
func (c *Controller) AutoCloseExpiredSessions(ctx context.Context) (int, error) {
	closed, err := c.sessions.CloseExpiredSessions(ctx, c.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("session: close expired: %w", err)
	}
	for _, s := range closed {
		c.log(ctx).Info("session timed out", observability.Worker(s.WorkerID),
			"tenant", s.TenantID, "session_id", s.ID)
	}
	if len(closed) > 0 {
		metrics.SessionsClosed.WithLabelValues(store.CloseTimeout).Add(float64(len(closed)))
	}
	return len(closed), nil
}

// GetActiveSession returns the worker's open session, or nil when there is
// none.
func (c *Controller) GetActiveSession(ctx context.Context, tenantID, workerID string) (*ActiveSession, error) {
	sess, err := c.sessions.GetOpenSession(ctx, tenantID, workerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read open session: %w", err)
	}
	return &ActiveSession{
		SessionID:     sess.ID,
		PropertyID:    sess.PropertyID,
		PropertyName:  sess.PropertyName,
		StartedAt:     sess.StartedAt,
		ExpectedEndAt: sess.ExpectedEndAt,
	}, nil
}

func (c *Controller) conflict(ctx context.Context, current *store.Session) *ConflictError {
	name := current.PropertyName
	if name == "" {
		name = "?"
	}
	return &ConflictError{
		SessionID:       current.ID,
		CurrentProperty: current.PropertyName,
		reply:           c.catalog.FormatContext(ctx, locale.Conflict, name),
	}
}

func (c *Controller) resolveError(ctx context.Context, err error) error {
	var nf *resolver.NotFoundError
	if errors.As(err, &nf) {
		return &ResolveError{err: err, reply: c.catalog.FormatContext(ctx, locale.PropertyNotFound, strings.TrimSpace(nf.Hint))}
	}
	var amb *resolver.AmbiguousError
	if errors.As(err, &amb) {
		return &ResolveError{err: err, reply: c.catalog.FormatContext(ctx, locale.Ambiguous, joinCandidates(amb.Candidates))}
	}
	return fmt.Errorf("session: resolve property: %w", err)
}

// appendBestEffort records a lifecycle event. The session row is the source
// of truth for the state change, so a failed write is logged, not returned.
func (c *Controller) appendBestEffort(ctx context.Context, e store.Event) {
	e.Payload = []byte("{}")
	if _, err := c.events.Append(ctx, e); err != nil {
		c.log(ctx).Error("failed to record lifecycle event", "type", e.Type, "session_id", e.SessionID, "err", err)
	}
}

func (c *Controller) log(ctx context.Context) *slog.Logger {
	return observability.WithTrace(ctx, c.logger)
}

// eventTypeFor maps intent kinds that AppendEvent accepts to event types.
func eventTypeFor(k nlp.Kind) (string, bool) {
	switch k {
	case nlp.KindSupplyOut:
		return store.EventSupplyOut, true
	case nlp.KindLinenUsed:
		return store.EventLinenUsed, true
	case nlp.KindNote:
		return store.EventNote, true
	case nlp.KindPhotoMeta:
		return store.EventPhotoMeta, true
	case nlp.KindDone:
		return store.EventDone, true
	default:
		return "", false
	}
}
