// Package redact strips sensitive values from log output before it leaves
// the process.
//
// Worker identifiers are often phone-number-shaped Matrix localparts
// (@420777123456:example.org), so Phone keeps only enough digits to tell
// workers apart in logs. Secrets such as the model API key or the Matrix
// access token go through String.
package redact

import (
	"strings"
	"unicode"
)

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
//
//	safe := redact.String(logLine, apiKey, matrixToken)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Phone masks every run of 7 or more digits in s, keeping the last three
// digits of each run. Shorter runs (room numbers, counts) pass through.
//
//	redact.Phone("@420777123456:example.org") == "@*********456:example.org"
func Phone(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(runes); {
		if !unicode.IsDigit(runes[i]) {
			b.WriteRune(runes[i])
			i++
			continue
		}
		j := i
		for j < len(runes) && unicode.IsDigit(runes[j]) {
			j++
		}
		run := runes[i:j]
		if len(run) >= 7 {
			b.WriteString(strings.Repeat("*", len(run)-3))
			b.WriteString(string(run[len(run)-3:]))
		} else {
			b.WriteString(string(run))
		}
		i = j
	}
	return b.String()
}

// Map returns a shallow copy of m with values replaced by [REDACTED] for
// every key whose name suggests it contains a secret. Non-string values are
// left unchanged.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			if str, ok := v.(string); ok && str != "" {
				out[k] = placeholder
				continue
			}
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "token", "secret", "api_key", "apikey", "credential", "auth"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
