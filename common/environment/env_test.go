package environment_test

import (
	"testing"
	"time"

	"github.com/bdobrica/uklid/common/environment"
)

func TestStringOr(t *testing.T) {
	t.Setenv("TEST_STRING", "hello")
	if got := environment.StringOr("TEST_STRING", "default"); got != "hello" {
		t.Errorf("expected %q, got %q", "hello", got)
	}
	if got := environment.StringOr("TEST_STRING_MISSING", "default"); got != "default" {
		t.Errorf("expected %q, got %q", "default", got)
	}
}

func TestRequiredString(t *testing.T) {
	t.Setenv("TEST_REQUIRED", "value")
	v, err := environment.RequiredString("TEST_REQUIRED")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "value" {
		t.Errorf("expected %q, got %q", "value", v)
	}

	if _, err := environment.RequiredString("TEST_REQUIRED_MISSING"); err == nil {
		t.Error("expected error for missing variable, got nil")
	}
}

func TestBoolOr(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	if !environment.BoolOr("TEST_BOOL", false) {
		t.Error("expected true")
	}
	t.Setenv("TEST_BOOL", "0")
	if environment.BoolOr("TEST_BOOL", true) {
		t.Error("expected false")
	}
	if !environment.BoolOr("TEST_BOOL_MISSING", true) {
		t.Error("expected default true")
	}
}

func TestIntOr(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if got := environment.IntOr("TEST_INT", 0); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("TEST_INT_BAD", "notanint")
	if got := environment.IntOr("TEST_INT_BAD", 7); got != 7 {
		t.Errorf("expected default 7 for bad value, got %d", got)
	}
}

func TestDurationOr(t *testing.T) {
	t.Setenv("TEST_DUR", "4h")
	if got := environment.DurationOr("TEST_DUR", time.Minute); got != 4*time.Hour {
		t.Errorf("expected 4h, got %v", got)
	}
	t.Setenv("TEST_DUR_NEG", "-5m")
	if got := environment.DurationOr("TEST_DUR_NEG", time.Minute); got != time.Minute {
		t.Errorf("expected default for negative duration, got %v", got)
	}
	if got := environment.DurationOr("TEST_DUR_MISSING", time.Minute); got != time.Minute {
		t.Errorf("expected 1m, got %v", got)
	}
}

func TestStringSliceOr(t *testing.T) {
	t.Setenv("TEST_SLICE", "kafka-1:9092, kafka-2:9092 ,")
	got := environment.StringSliceOr("TEST_SLICE", nil)
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Errorf("unexpected result: %v", got)
	}
}

func TestStringMap(t *testing.T) {
	t.Setenv("TEST_MAP", "!abc:example.org=acme, !def:example.org = globex")
	got, err := environment.StringMap("TEST_MAP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d (%v)", len(got), got)
	}
	if got["!abc:example.org"] != "acme" {
		t.Errorf("acme room: got %q", got["!abc:example.org"])
	}
	if got["!def:example.org"] != "globex" {
		t.Errorf("globex room: got %q", got["!def:example.org"])
	}
}

func TestStringMap_Malformed(t *testing.T) {
	for _, v := range []string{"novalue", "=x", "key="} {
		t.Setenv("TEST_MAP_BAD", v)
		if _, err := environment.StringMap("TEST_MAP_BAD"); err == nil {
			t.Errorf("StringMap(%q): expected error, got nil", v)
		}
	}
}

func TestStringMap_Unset(t *testing.T) {
	got, err := environment.StringMap("TEST_MAP_MISSING")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty map, got %v", got)
	}
}

func TestBlankValuesCountAsUnset(t *testing.T) {
	t.Setenv("TEST_BLANK", "   ")
	if got := environment.StringOr("TEST_BLANK", "default"); got != "default" {
		t.Errorf("StringOr: got %q", got)
	}
	if _, err := environment.RequiredString("TEST_BLANK"); err == nil {
		t.Error("RequiredString: expected error for blank value")
	}
	if got := environment.IntOr("TEST_BLANK", 3); got != 3 {
		t.Errorf("IntOr: got %d", got)
	}
	if got := environment.StringSliceOr("TEST_BLANK", []string{"a"}); len(got) != 1 || got[0] != "a" {
		t.Errorf("StringSliceOr: got %v", got)
	}
	got, err := environment.StringMap("TEST_BLANK")
	if err != nil || len(got) != 0 {
		t.Errorf("StringMap: got %v, %v", got, err)
	}
}

func TestPaddedValuesAreTrimmed(t *testing.T) {
	t.Setenv("TEST_PADDED_INT", " 12 ")
	if got := environment.IntOr("TEST_PADDED_INT", 0); got != 12 {
		t.Errorf("IntOr: got %d, want 12", got)
	}
	t.Setenv("TEST_PADDED_DUR", "\t90s\n")
	if got := environment.DurationOr("TEST_PADDED_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("DurationOr: got %v, want 1m30s", got)
	}
}

func TestStringSliceOr_OnlySeparators(t *testing.T) {
	t.Setenv("TEST_SLICE_EMPTY", " , ,")
	got := environment.StringSliceOr("TEST_SLICE_EMPTY", []string{"fallback"})
	if len(got) != 1 || got[0] != "fallback" {
		t.Errorf("unexpected result: %v", got)
	}
}
