package nlp

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Prompt is one classification request for the language model.
type Prompt struct {
	System string
	User   string
}

type example struct {
	Text   string `yaml:"text"`
	Output string `yaml:"output"`
}

//go:embed examples.yaml
var examplesYAML []byte

var fewShot = mustLoadExamples(examplesYAML)

func mustLoadExamples(data []byte) map[Kind][]example {
	ex, err := loadExamples(data)
	if err != nil {
		panic(err)
	}
	return ex
}

// loadExamples parses the few-shot file and checks that every example output
// satisfies the intent schema and is labelled with its own kind.
func loadExamples(data []byte) (map[Kind][]example, error) {
	var raw map[string][]example
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("nlp: parse examples: %w", err)
	}
	out := make(map[Kind][]example, len(raw))
	for name, list := range raw {
		kind := Kind(name)
		if !kind.Valid() {
			return nil, fmt.Errorf("nlp: examples for unknown intent %q", name)
		}
		for i, ex := range list {
			parsed, err := parseModelOutput(ex.Output)
			if err != nil {
				return nil, fmt.Errorf("nlp: example %s[%d]: %w", name, i, err)
			}
			if parsed.Intent != kind {
				return nil, fmt.Errorf("nlp: example %s[%d] is labelled %q", name, i, parsed.Intent)
			}
		}
		out[kind] = list
	}
	return out, nil
}

const systemPromptHeader = `You classify short chat messages sent by cleaning staff working in short-term rental apartments.
Messages may be written in Czech, English, Ukrainian, Russian or German, often with typos and without diacritics.

Classify the message into exactly one intent:
- start_cleaning: the worker starts cleaning a property. Put the property name or number they mention into property_hint.
- supply_out: consumables ran out. List them in items.
- linen_used: linen was used. Put the number into count and the type into linen_kind.
- note: any other remark about the property. Copy the message into text.
- photo_meta: the worker describes photos they sent. Use caption and count.
- done: the worker finished cleaning.

RULES (strict):
1. Respond ONLY with one JSON object. No markdown, no explanation.
2. Numeric fields (count) must be integers, never words or strings.
3. Lists joined by commas or conjunctions ("a", "and", "i", "и", "und", "та", "і") must be split into separate items, in the order given.
4. A short bare acknowledgement such as "done", "hotovo", "готово" or "fertig" is intent "done" with confidence of at least 0.9.
5. confidence is your certainty between 0 and 1. Use a value below 0.6 when you are guessing.
6. Never invent a property_hint the worker did not write.
`

// buildPrompt assembles the system prompt (instructions, schema and few-shot
// examples) and the user message. The language hint tells the model which
// language to expect; it does not change the output format.
func buildPrompt(text, language string) Prompt {
	var b strings.Builder
	b.WriteString(systemPromptHeader)
	b.WriteString("\nJSON schema of your answer:\n")
	b.WriteString(intentSchemaJSON)
	b.WriteString("\nExamples:\n")
	for _, kind := range Kinds {
		for _, ex := range fewShot[kind] {
			fmt.Fprintf(&b, "message: %s\nanswer: %s\n", ex.Text, ex.Output)
		}
	}
	fmt.Fprintf(&b, "\nThe message below is probably written in language %q.\n", language)

	return Prompt{
		System: b.String(),
		User:   text,
	}
}
