// Package dispatch turns one chat message into one reply.
//
// The Dispatcher is the only place that knows the mapping from intents to
// session operations. It is transport-agnostic; the Matrix gateway and the
// tests call HandleMessage the same way.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/bdobrica/uklid/common/trace"
	"github.com/bdobrica/uklid/internal/uklid/locale"
	"github.com/bdobrica/uklid/internal/uklid/metrics"
	"github.com/bdobrica/uklid/internal/uklid/nlp"
	"github.com/bdobrica/uklid/internal/uklid/observability"
	"github.com/bdobrica/uklid/internal/uklid/resolver"
	"github.com/bdobrica/uklid/internal/uklid/session"
	"github.com/bdobrica/uklid/internal/uklid/store"
)

// Message is an inbound chat message from a worker.
type Message struct {
	TenantID string
	WorkerID string
	Text     string
	// Language is an optional hint (e.g. the client locale). When empty the
	// language is detected from Text.
	Language string
}

// Classifier turns free text into an intent or a clarification.
type Classifier interface {
	Classify(ctx context.Context, text, languageHint string) nlp.Result
}

// Sessions is the session lifecycle the Dispatcher drives.
type Sessions interface {
	Open(ctx context.Context, tenantID, workerID, hint string) (*session.Opened, error)
	AppendEvent(ctx context.Context, tenantID, workerID string, intent nlp.ParsedIntent) (*session.Appended, error)
	Close(ctx context.Context, tenantID, workerID, reason string) (*session.Closed, error)
}

// Dispatcher routes classified messages to the session controller.
type Dispatcher struct {
	classifier Classifier
	sessions   Sessions
	limiter    nlp.Limiter
	catalog    *locale.Catalog
	logger     *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLimiter rejects messages from workers that exceed the limiter's rate.
func WithLimiter(l nlp.Limiter) Option {
	return func(d *Dispatcher) { d.limiter = l }
}

// WithCatalog overrides the embedded reply catalog.
func WithCatalog(c *locale.Catalog) Option {
	return func(d *Dispatcher) { d.catalog = c }
}

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New returns a Dispatcher.
func New(classifier Classifier, sessions Sessions, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		classifier: classifier,
		sessions:   sessions,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.catalog == nil {
		d.catalog = locale.MustLoad()
	}
	return d
}

// HandleMessage classifies msg, applies it and returns the reply for the
// worker. Conversational outcomes (conflict, unknown property, no session,
// clarification) are replies with a nil error; only infrastructure faults
// are returned as errors.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg Message) (string, error) {
	if trace.FromContext(ctx) == "" {
		ctx = trace.WithTraceID(ctx, trace.GenerateID())
	}
	log := observability.WithTrace(ctx, d.logger).With(
		observability.Worker(msg.WorkerID), "tenant", msg.TenantID)

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return "", nil
	}

	if d.limiter != nil && !d.limiter.Allow(ctx, msg.TenantID+"/"+msg.WorkerID) {
		lang := nlp.DetectLanguage(text)
		if msg.Language != "" {
			lang = nlp.NormalizeLanguage(msg.Language)
		}
		metrics.Conversational.WithLabelValues("rate_limited").Inc()
		log.Info("message rate limited")
		return d.catalog.Format(lang, locale.RateLimited), nil
	}

	res := d.classifier.Classify(ctx, text, msg.Language)
	if res.IsClarification() {
		metrics.Conversational.WithLabelValues("clarification").Inc()
		log.Info("asking for clarification", "reason", res.Clarification.Reason)
		return res.Clarification.Question, nil
	}
	intent := *res.Intent
	ctx = locale.WithLanguage(ctx, intent.Language)
	log = log.With("intent", string(intent.Kind), "language", intent.Language)

	reply, err := d.apply(ctx, msg, intent)
	if err != nil {
		var r session.Replier
		if errors.As(err, &r) {
			kind := conversationalKind(err)
			metrics.Conversational.WithLabelValues(kind).Inc()
			log.Info("conversational outcome", "kind", kind, "detail", err.Error())
			return r.Reply(), nil
		}
		log.Error("message handling failed", "err", err)
		return "", err
	}
	log.Debug("message handled")
	return reply, nil
}

func (d *Dispatcher) apply(ctx context.Context, msg Message, intent nlp.ParsedIntent) (string, error) {
	switch intent.Kind {
	case nlp.KindStartCleaning:
		opened, err := d.sessions.Open(ctx, msg.TenantID, msg.WorkerID, intent.PropertyHint)
		if err != nil {
			return "", err
		}
		return d.catalog.FormatContext(ctx, locale.SessionStarted, opened.PropertyName), nil

	case nlp.KindDone:
		closed, err := d.sessions.Close(ctx, msg.TenantID, msg.WorkerID, store.CloseDone)
		if err != nil {
			return "", err
		}
		return d.catalog.FormatContext(ctx, locale.SessionClosed, closed.PropertyName), nil

	default:
		if _, err := d.sessions.AppendEvent(ctx, msg.TenantID, msg.WorkerID, intent); err != nil {
			return "", err
		}
		return d.catalog.FormatContext(ctx, locale.EventRecorded), nil
	}
}

// conversationalKind labels a Replier error for metrics and logs.
func conversationalKind(err error) string {
	var (
		conflict *session.ConflictError
		noSess   *session.NoActiveSessionError
		clarify  *session.ClarificationError
		notFound *resolver.NotFoundError
		amb      *resolver.AmbiguousError
	)
	switch {
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &noSess):
		return "no_active_session"
	case errors.As(err, &clarify):
		return "clarification"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &amb):
		return "ambiguous"
	default:
		return "other"
	}
}
