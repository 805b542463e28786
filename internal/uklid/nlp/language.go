package nlp

import (
	"strings"

	"github.com/bdobrica/uklid/internal/uklid/locale"
)

// languageKeywords is the vocabulary counted by DetectLanguage. Entries are
// matched as substrings of the lower-cased message, so stems cover inflected
// forms. Single letters are scripts that only one of the languages uses.
var languageKeywords = map[string][]string{
	"cs": {"úklid", "uklí", "začín", "hotovo", "došel", "došl", "prádl", "ručník", "povleč", "apartmán", "ř", "ě", "ů"},
	"en": {"cleaning", "start", "done", "finished", "out of", "towel", "sheet", "used", "photo", "the "},
	"uk": {"прибира", "починаю", "закінч", "рушник", "білизн", "немає", "скінчил", "ї", "є", "і"},
	"ru": {"уборк", "начинаю", "закончил", "полотен", "бель", "нет", "кончил", "ы", "э", "ё"},
	"de": {"reinigung", "putzen", "fertig", "handtuch", "bettwäsche", "leer", "ich ", "und ", "ä", "ö", "ü", "ß"},
}

// supportedLanguages is the tie-break order; the primary locale comes first.
var supportedLanguages = []string{locale.Primary, "en", "uk", "ru", "de"}

// SupportedLanguages returns the language codes DetectLanguage can produce.
func SupportedLanguages() []string {
	out := make([]string, len(supportedLanguages))
	copy(out, supportedLanguages)
	return out
}

// DetectLanguage guesses the language of text by counting keyword hits.
// The language with most hits wins; a tie or no hits at all yields the
// primary locale.
func DetectLanguage(text string) string {
	lower := strings.ToLower(text)

	best, bestCount, tie := locale.Primary, 0, false
	for _, lang := range supportedLanguages {
		count := 0
		for _, kw := range languageKeywords[lang] {
			count += strings.Count(lower, kw)
		}
		switch {
		case count > bestCount:
			best, bestCount, tie = lang, count, false
		case count == bestCount && count > 0:
			tie = true
		}
	}
	if bestCount == 0 || tie {
		return locale.Primary
	}
	return best
}

// NormalizeLanguage lower-cases hint and strips any region suffix
// ("en-GB" -> "en"). Unsupported hints map to the primary locale.
func NormalizeLanguage(hint string) string {
	lang := strings.ToLower(strings.TrimSpace(hint))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	for _, l := range supportedLanguages {
		if l == lang {
			return l
		}
	}
	return locale.Primary
}
