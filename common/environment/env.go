// Package environment reads uklid's configuration from environment variables.
//
// Optional settings fall back to a default when the variable is unset, blank
// or does not parse. Required settings and malformed maps return an error so
// main decides whether to abort.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// value returns the trimmed variable and whether it carries anything.
func value(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	return v, v != ""
}

// parsed runs parse on the named variable and keeps def when the variable is
// blank or parse rejects it.
func parsed[T any](name string, def T, parse func(string) (T, bool)) T {
	raw, ok := value(name)
	if !ok {
		return def
	}
	if v, ok := parse(raw); ok {
		return v
	}
	return def
}

// StringOr returns the variable or def when it is blank.
func StringOr(name, def string) string {
	return parsed(name, def, func(s string) (string, bool) { return s, true })
}

// RequiredString returns the variable or an error naming it when it is blank.
func RequiredString(name string) (string, error) {
	if v, ok := value(name); ok {
		return v, nil
	}
	return "", fmt.Errorf("required environment variable %q is not set", name)
}

// BoolOr accepts anything strconv.ParseBool does.
func BoolOr(name string, def bool) bool {
	return parsed(name, def, func(s string) (bool, bool) {
		b, err := strconv.ParseBool(s)
		return b, err == nil
	})
}

// IntOr accepts a base-10 integer.
func IntOr(name string, def int) int {
	return parsed(name, def, func(s string) (int, bool) {
		n, err := strconv.Atoi(s)
		return n, err == nil
	})
}

// DurationOr accepts a positive Go duration such as "30s" or "4h".
func DurationOr(name string, def time.Duration) time.Duration {
	return parsed(name, def, func(s string) (time.Duration, bool) {
		d, err := time.ParseDuration(s)
		return d, err == nil && d > 0
	})
}

// StringSliceOr splits a comma-separated list, dropping blank entries. A list
// with no entries left keeps def.
func StringSliceOr(name string, def []string) []string {
	return parsed(name, def, func(s string) ([]string, bool) {
		var out []string
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out, len(out) > 0
	})
}

// StringMap reads "key=value" pairs separated by commas, for example
// "!abc:example.org=acme,!def:example.org=globex". Each pair is cut at its
// last '=' so keys may contain '='. Both sides must be non-blank.
func StringMap(name string) (map[string]string, error) {
	out := make(map[string]string)
	raw, ok := value(name)
	if !ok {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		i := strings.LastIndexByte(pair, '=')
		if i < 0 {
			return nil, fmt.Errorf("environment variable %q: pair %q has no '='", name, strings.TrimSpace(pair))
		}
		k, v := strings.TrimSpace(pair[:i]), strings.TrimSpace(pair[i+1:])
		if k == "" || v == "" {
			return nil, fmt.Errorf("environment variable %q: pair %q needs a key and a value", name, strings.TrimSpace(pair))
		}
		out[k] = v
	}
	return out, nil
}
