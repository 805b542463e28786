package trace_test

import (
	"context"
	"strings"
	"testing"

	"github.com/bdobrica/uklid/common/trace"
)

func TestGenerateID_Format(t *testing.T) {
	id := trace.GenerateID()
	if !strings.HasPrefix(id, "t_") {
		t.Fatalf("expected t_ prefix, got %q", id)
	}
	if len(id) != 34 {
		t.Fatalf("expected 34 chars, got %d (%q)", len(id), id)
	}
	if id == trace.GenerateID() {
		t.Fatal("expected distinct IDs")
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := trace.WithTraceID(context.Background(), "t_abc")
	if got := trace.FromContext(ctx); got != "t_abc" {
		t.Fatalf("FromContext = %q, want t_abc", got)
	}
	if got := trace.FromContext(context.Background()); got != "" {
		t.Fatalf("expected empty trace ID, got %q", got)
	}
}

func TestAttr(t *testing.T) {
	if a := trace.Attr(context.Background()); a.Key != "" {
		t.Fatalf("expected empty attr, got %v", a)
	}
	a := trace.Attr(trace.WithTraceID(context.Background(), "t_1"))
	if a.Key != "trace_id" || a.Value.String() != "t_1" {
		t.Fatalf("unexpected attr %v", a)
	}
}
