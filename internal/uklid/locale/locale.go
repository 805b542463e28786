// Package locale holds the localized reply texts sent back to workers.
//
// Every conversational outcome (clarification, conflict, not found, ...) is
// rendered through a Catalog so the reply is in the language the worker
// wrote in. The language travels with the request context; see WithLanguage.
package locale

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Primary is the language of the primary market. It is the fallback for
// unknown languages and for keys missing from a translation.
const Primary = "cs"

// Key identifies one reply template.
type Key string

const (
	WhichProperty        Key = "which_property"
	RepeatClearly        Key = "repeat_clearly"
	NoActiveSessionEvent Key = "no_active_session_event"
	NoActiveSessionClose Key = "no_active_session_close"
	Conflict             Key = "conflict"
	PropertyNotFound     Key = "property_not_found"
	Ambiguous            Key = "ambiguous"
	SessionStarted       Key = "session_started"
	EventRecorded        Key = "event_recorded"
	SessionClosed        Key = "session_closed"
	RateLimited          Key = "rate_limited"
)

var allKeys = []Key{
	WhichProperty, RepeatClearly, NoActiveSessionEvent, NoActiveSessionClose,
	Conflict, PropertyNotFound, Ambiguous, SessionStarted, EventRecorded,
	SessionClosed, RateLimited,
}

//go:embed messages.yaml
var embeddedMessages []byte

// Catalog maps language -> key -> fmt template.
type Catalog struct {
	messages map[string]map[Key]string
}

// Load parses the embedded message catalog.
func Load() (*Catalog, error) {
	return Parse(embeddedMessages)
}

// MustLoad is Load for package-level initialisation and tests.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse builds a Catalog from YAML. The primary language must define every
// key; other languages may be partial.
func Parse(data []byte) (*Catalog, error) {
	var raw map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("locale: parse catalog: %w", err)
	}
	primary, ok := raw[Primary]
	if !ok {
		return nil, fmt.Errorf("locale: catalog has no %q section", Primary)
	}
	var missing []string
	for _, k := range allKeys {
		if strings.TrimSpace(primary[string(k)]) == "" {
			missing = append(missing, string(k))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("locale: %q section is missing keys: %s", Primary, strings.Join(missing, ", "))
	}

	c := &Catalog{messages: make(map[string]map[Key]string, len(raw))}
	for lang, entries := range raw {
		m := make(map[Key]string, len(entries))
		for k, v := range entries {
			m[Key(k)] = v
		}
		c.messages[strings.ToLower(lang)] = m
	}
	return c, nil
}

// Languages returns the language codes present in the catalog, sorted.
func (c *Catalog) Languages() []string {
	out := make([]string, 0, len(c.messages))
	for lang := range c.messages {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// Has reports whether lang has its own section in the catalog.
func (c *Catalog) Has(lang string) bool {
	_, ok := c.messages[strings.ToLower(lang)]
	return ok
}

// Format renders key in lang, falling back to the primary language.
func (c *Catalog) Format(lang string, key Key, args ...any) string {
	tmpl, ok := c.messages[strings.ToLower(lang)][key]
	if !ok || tmpl == "" {
		tmpl = c.messages[Primary][key]
	}
	if tmpl == "" {
		return string(key)
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}

// FormatContext renders key in the language carried by ctx.
func (c *Catalog) FormatContext(ctx context.Context, key Key, args ...any) string {
	return c.Format(LanguageFrom(ctx), key, args...)
}

type languageKey struct{}

// WithLanguage returns a child context carrying the reply language.
func WithLanguage(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, languageKey{}, lang)
}

// LanguageFrom returns the reply language in ctx, or Primary.
func LanguageFrom(ctx context.Context) string {
	if v, ok := ctx.Value(languageKey{}).(string); ok && v != "" {
		return v
	}
	return Primary
}
