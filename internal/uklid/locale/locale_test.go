package locale

import (
	"context"
	"strings"
	"testing"
)

func TestLoad_EmbeddedCatalogIsComplete(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"cs", "de", "en", "ru", "uk"}
	got := c.Languages()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Languages = %v, want %v", got, want)
	}
	for _, lang := range want {
		for _, k := range allKeys {
			if _, ok := c.messages[lang][k]; !ok {
				t.Errorf("language %q is missing key %q", lang, k)
			}
		}
	}
}

func TestFormat_Args(t *testing.T) {
	c := MustLoad()
	got := c.Format("en", Conflict, "Letná 302")
	want := "You have an open session at Letná 302. Should I end it and continue here?"
	if got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}
}

func TestFormat_FallsBackToPrimary(t *testing.T) {
	c := MustLoad()
	if got, want := c.Format("fr", WhichProperty), c.Format(Primary, WhichProperty); got != want {
		t.Errorf("unknown language: got %q, want %q", got, want)
	}
}

func TestFormat_CaseInsensitiveLanguage(t *testing.T) {
	c := MustLoad()
	if got := c.Format("EN", WhichProperty); got != "Which apartment are you at?" {
		t.Errorf("got %q", got)
	}
}

func TestParse_PartialTranslation(t *testing.T) {
	var b strings.Builder
	b.WriteString("cs:\n")
	for _, k := range allKeys {
		b.WriteString("  " + string(k) + ": \"cs-" + string(k) + "\"\n")
	}
	b.WriteString("en:\n  which_property: \"where?\"\n")

	c, err := Parse([]byte(b.String()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := c.Format("en", WhichProperty); got != "where?" {
		t.Errorf("translated key: got %q", got)
	}
	if got := c.Format("en", RepeatClearly); got != "cs-repeat_clearly" {
		t.Errorf("missing key should fall back: got %q", got)
	}
}

func TestParse_RejectsIncompletePrimary(t *testing.T) {
	if _, err := Parse([]byte("cs:\n  which_property: \"x\"\n")); err == nil {
		t.Fatal("expected error for incomplete primary section")
	}
	if _, err := Parse([]byte("en:\n  which_property: \"x\"\n")); err == nil {
		t.Fatal("expected error for missing primary section")
	}
}

func TestLanguageContext(t *testing.T) {
	if got := LanguageFrom(context.Background()); got != Primary {
		t.Errorf("default language = %q, want %q", got, Primary)
	}
	ctx := WithLanguage(context.Background(), "de")
	if got := LanguageFrom(ctx); got != "de" {
		t.Errorf("LanguageFrom = %q, want de", got)
	}
	c := MustLoad()
	if got := c.FormatContext(ctx, EventRecorded); got != "Notiert." {
		t.Errorf("FormatContext = %q", got)
	}
}
