package nlp

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed intent.schema.json
var intentSchemaJSON string

const intentSchemaURL = "https://uklid.local/schemas/intent.json"

// ErrMalformedOutput is returned when the model's answer is not JSON or does
// not satisfy the intent schema.
var ErrMalformedOutput = errors.New("nlp: malformed model output")

var intentSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(intentSchemaURL, strings.NewReader(intentSchemaJSON)); err != nil {
		panic(fmt.Sprintf("nlp: add intent schema: %v", err))
	}
	return c.MustCompile(intentSchemaURL)
}

// modelOutput is the JSON object the model is instructed to produce.
type modelOutput struct {
	Intent       Kind        `json:"intent"`
	Confidence   float64     `json:"confidence"`
	PropertyHint string      `json:"property_hint"`
	Items        []string    `json:"items"`
	Count        json.Number `json:"count"`
	LinenKind    string      `json:"linen_kind"`
	Text         string      `json:"text"`
	Caption      string      `json:"caption"`
}

// count returns Count as an int. The schema only admits integral values, so
// a model writing 3.0 still yields 3.
func (o *modelOutput) count() int {
	if o.Count == "" {
		return 0
	}
	if n, err := o.Count.Int64(); err == nil {
		return int(n)
	}
	f, _ := o.Count.Float64()
	return int(f)
}

// parseModelOutput validates raw against the intent schema and decodes it.
// Models sometimes wrap JSON in a markdown fence; the fence is stripped.
func parseModelOutput(raw string) (*modelOutput, error) {
	body := stripCodeFence(raw)

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: unexpected data after the JSON object", ErrMalformedOutput)
	}
	if err := intentSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	var out modelOutput
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return &out, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
