package nlp

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/uklid/common/trace"
	"github.com/bdobrica/uklid/internal/uklid/locale"
	"github.com/bdobrica/uklid/internal/uklid/metrics"
)

const (
	// ConfidenceThreshold is the minimum model confidence for an intent to be
	// acted on. Anything below becomes a "please repeat" clarification.
	ConfidenceThreshold = 0.6

	// DegradedConfidence is assigned to the note intent produced when no
	// model is configured.
	DegradedConfidence = 0.5

	// DefaultTimeout bounds a single model call.
	DefaultTimeout = 10 * time.Second
)

// Completer sends a prompt to a language model and returns its raw answer.
// Implementations must be safe for concurrent use.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Classifier converts chat text into a ParsedIntent or a ClarificationRequest.
//
// A nil Completer is a supported deployment state: every message becomes a
// low-confidence note carrying the raw text, so nothing is dropped. A
// Completer that fails, times out or returns invalid output yields a
// "which property" clarification instead. Model calls are never retried.
type Classifier struct {
	completer Completer
	catalog   *locale.Catalog
	timeout   time.Duration
	logger    *slog.Logger
}

// NewClassifier returns a Classifier. completer may be nil. A zero timeout
// selects DefaultTimeout.
func NewClassifier(completer Completer, catalog *locale.Catalog, timeout time.Duration, logger *slog.Logger) *Classifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if catalog == nil {
		catalog = locale.MustLoad()
	}
	return &Classifier{
		completer: completer,
		catalog:   catalog,
		timeout:   timeout,
		logger:    logger,
	}
}

// Enabled reports whether a language model is configured.
func (c *Classifier) Enabled() bool {
	return c.completer != nil
}

// Classify never returns an error: every failure is folded into a
// clarification so the worker always gets a reply.
func (c *Classifier) Classify(ctx context.Context, text, languageHint string) Result {
	lang := DetectLanguage(text)
	if strings.TrimSpace(languageHint) != "" {
		lang = NormalizeLanguage(languageHint)
	}

	// --- degraded mode: no model configured ----------------------------------
	if c.completer == nil {
		metrics.Classifications.WithLabelValues("degraded").Inc()
		return Result{Intent: &ParsedIntent{
			Kind:       KindNote,
			Payload:    Note{Text: text},
			Confidence: DegradedConfidence,
			Language:   lang,
			Text:       text,
		}}
	}

	// --- model call, bounded by timeout --------------------------------------
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	raw, err := c.completer.Complete(callCtx, buildPrompt(text, lang))
	metrics.ClassificationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Warn("classification call failed", trace.Attr(ctx), "err", err, "elapsed", time.Since(start))
		return c.clarify(lang, ReasonModelUnavailable, locale.WhichProperty)
	}

	// --- schema validation ---------------------------------------------------
	out, err := parseModelOutput(raw)
	if err != nil {
		c.logger.Warn("classification output rejected", trace.Attr(ctx), "err", err)
		return c.clarify(lang, ReasonInvalidOutput, locale.WhichProperty)
	}

	// --- confidence gate -----------------------------------------------------
	if out.Confidence < ConfidenceThreshold {
		c.logger.Info("classification below confidence threshold", trace.Attr(ctx),
			"intent", out.Intent, "confidence", out.Confidence)
		return c.clarify(lang, ReasonLowConfidence, locale.RepeatClearly)
	}

	metrics.Classifications.WithLabelValues("intent").Inc()
	return Result{Intent: &ParsedIntent{
		Kind:         out.Intent,
		PropertyHint: strings.TrimSpace(out.PropertyHint),
		Payload:      payloadFor(out, text),
		Confidence:   out.Confidence,
		Language:     lang,
		Text:         text,
	}}
}

func (c *Classifier) clarify(lang, reason string, key locale.Key) Result {
	metrics.Classifications.WithLabelValues(reason).Inc()
	return Result{Clarification: &ClarificationRequest{
		Question: c.catalog.Format(lang, key),
		Reason:   reason,
		Language: lang,
	}}
}

// payloadFor builds the tagged payload for a validated model answer.
func payloadFor(out *modelOutput, text string) Payload {
	switch out.Intent {
	case KindStartCleaning:
		return StartCleaning{}
	case KindSupplyOut:
		return SupplyOut{Items: splitItems(out.Items)}
	case KindLinenUsed:
		return LinenUsed{Count: out.count(), Type: strings.TrimSpace(out.LinenKind)}
	case KindPhotoMeta:
		return PhotoMeta{Caption: strings.TrimSpace(out.Caption), Count: out.count()}
	case KindDone:
		return Done{}
	default:
		note := strings.TrimSpace(out.Text)
		if note == "" {
			note = text
		}
		return Note{Text: note}
	}
}

// conjunctions that join list items in the supported languages.
var conjunctions = map[string]struct{}{
	"a": {}, "and": {}, "i": {}, "и": {}, "und": {}, "та": {}, "і": {},
}

// splitItems splits any item that still contains commas or a standalone
// conjunction, trims whitespace and drops empties. Order is preserved.
func splitItems(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			var current []string
			flush := func() {
				if len(current) > 0 {
					out = append(out, strings.Join(current, " "))
					current = current[:0]
				}
			}
			for _, word := range strings.Fields(part) {
				if _, ok := conjunctions[strings.ToLower(word)]; ok {
					flush()
					continue
				}
				current = append(current, word)
			}
			flush()
		}
	}
	return out
}
