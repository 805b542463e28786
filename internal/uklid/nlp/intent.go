// Package nlp turns free-text chat messages from field workers into typed
// intents.
//
// The classifier asks a language model to label the message, validates the
// answer against a JSON schema and gates it on confidence. Anything it cannot
// trust becomes a ClarificationRequest: the worker always gets a reply.
package nlp

import (
	"encoding/json"
	"fmt"
)

// Kind is the classified meaning of a message.
type Kind string

const (
	KindStartCleaning Kind = "start_cleaning"
	KindSupplyOut     Kind = "supply_out"
	KindLinenUsed     Kind = "linen_used"
	KindNote          Kind = "note"
	KindPhotoMeta     Kind = "photo_meta"
	KindDone          Kind = "done"
)

// Kinds lists every intent kind in prompt order.
var Kinds = []Kind{KindStartCleaning, KindSupplyOut, KindLinenUsed, KindNote, KindPhotoMeta, KindDone}

// Valid reports whether k is a known intent kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Payload is the kind-specific data of an intent. The set of variants is
// closed: StartCleaning, SupplyOut, LinenUsed, Note, PhotoMeta, Done.
type Payload interface {
	Kind() Kind
	isPayload()
}

// StartCleaning carries nothing; the property comes from the intent's hint.
type StartCleaning struct{}

// SupplyOut lists consumables that ran out, in the order the worker named them.
type SupplyOut struct {
	Items []string `json:"items"`
}

// LinenUsed records how many pieces of linen were used. Type is the kind of
// linen (towels, sheets); it is stored as "kind".
type LinenUsed struct {
	Count int    `json:"count"`
	Type  string `json:"kind,omitempty"`
}

// Note is free text with no further structure.
type Note struct {
	Text string `json:"text"`
}

// PhotoMeta describes photos the worker sent. The media itself is stored
// elsewhere.
type PhotoMeta struct {
	Caption string `json:"caption,omitempty"`
	Count   int    `json:"count,omitempty"`
}

// Done is the worker's confirmation that the cleaning is finished.
type Done struct{}

func (StartCleaning) Kind() Kind { return KindStartCleaning }
func (SupplyOut) Kind() Kind     { return KindSupplyOut }
func (LinenUsed) Kind() Kind     { return KindLinenUsed }
func (Note) Kind() Kind          { return KindNote }
func (PhotoMeta) Kind() Kind     { return KindPhotoMeta }
func (Done) Kind() Kind          { return KindDone }

func (StartCleaning) isPayload() {}
func (SupplyOut) isPayload()     {}
func (LinenUsed) isPayload()     {}
func (Note) isPayload()          {}
func (PhotoMeta) isPayload()     {}
func (Done) isPayload()          {}

// EncodePayload serialises p for storage. A nil payload encodes as "{}".
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("nlp: encode %s payload: %w", p.Kind(), err)
	}
	return data, nil
}

// DecodePayload parses stored payload JSON into the variant for kind.
// An empty raw value decodes to the zero variant.
func DecodePayload(kind Kind, raw []byte) (Payload, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindStartCleaning:
		p = StartCleaning{}
	case KindDone:
		p = Done{}
	case KindSupplyOut:
		var v SupplyOut
		err = json.Unmarshal(raw, &v)
		p = v
	case KindLinenUsed:
		var v LinenUsed
		err = json.Unmarshal(raw, &v)
		p = v
	case KindNote:
		var v Note
		err = json.Unmarshal(raw, &v)
		p = v
	case KindPhotoMeta:
		var v PhotoMeta
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("nlp: unknown payload kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("nlp: decode %s payload: %w", kind, err)
	}
	return p, nil
}

// ParsedIntent is a classified message the caller can act on.
type ParsedIntent struct {
	Kind Kind
	// PropertyHint is the property text the worker mentioned, if any. Only
	// start_cleaning resolves it; for other kinds it is informational.
	PropertyHint string
	Payload      Payload
	Confidence   float64
	Language     string
	// Text is the message as received.
	Text string
}

// Clarification reasons.
const (
	ReasonModelUnavailable = "model_unavailable"
	ReasonInvalidOutput    = "invalid_output"
	ReasonLowConfidence    = "low_confidence"
)

// ClarificationRequest replaces an intent when the message could not be
// classified with confidence. Question is ready to send.
type ClarificationRequest struct {
	Question string
	Reason   string
	Language string
}

// Result holds exactly one of Intent or Clarification.
type Result struct {
	Intent        *ParsedIntent
	Clarification *ClarificationRequest
}

// IsClarification reports whether the result asks the worker a question.
func (r Result) IsClarification() bool {
	return r.Clarification != nil
}
