package finalize

import (
	"encoding/json"
	"strings"

	"github.com/ent0n29/seep/internal/merchant"
)

type PayloadKind int

const (
	PlainText PayloadKind = iota
	Structured
)

func (k PayloadKind) String() string {
	if k == Structured {
		return "structured"
	}
	return "plain_text"
}

// Payload is the interpreted shape of a completed stream buffer.
type Payload struct {
	Kind PayloadKind
	// Text is the raw buffer for PlainText, the "text" field for Structured.
	Text    string
	Buttons []merchant.Link
}

type structuredPayload struct {
	Text    *string         `json:"text"`
	Buttons json.RawMessage `json:"buttons"`
}

// ParsePayload reads buffer as {"text": ..., "buttons": [...]} when it is a
// JSON object with a non-empty text field, and as plain text otherwise.
// Malformed JSON is not an error: it is simply plain text.
func ParsePayload(buffer string) Payload {
	plain := Payload{Kind: PlainText, Text: buffer}

	trimmed := strings.TrimSpace(buffer)
	if !strings.HasPrefix(trimmed, "{") {
		return plain
	}
	var sp structuredPayload
	if err := json.Unmarshal([]byte(trimmed), &sp); err != nil {
		return plain
	}
	if sp.Text == nil || *sp.Text == "" {
		return plain
	}

	out := Payload{Kind: Structured, Text: *sp.Text}
	var buttons []merchant.Link
	if len(sp.Buttons) > 0 && json.Unmarshal(sp.Buttons, &buttons) == nil {
		for _, b := range buttons {
			if b.Valid() {
				out.Buttons = append(out.Buttons, b)
			}
		}
	}
	return out
}
