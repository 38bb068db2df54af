package api

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ContentPart is one element of a text envelope.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// textEnvelope is how runtimes commonly wrap tool output:
// {"content":[{"type":"text","text":"..."}]}
type textEnvelope struct {
	Content []ContentPart `json:"content"`
}

// DecodeToolResult turns a raw tool result into a Go value.
//
// Results that are not a text envelope are decoded as plain JSON. For a
// text envelope the text parts are joined and decoded as JSON a second
// time; if that fails the raw text is returned as a string.
func DecodeToolResult(raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	text, ok := envelopeText(raw)
	if !ok {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode tool result: %w", err)
		}
		return v, nil
	}

	return DecodeText(text), nil
}

// DecodeText decodes text as JSON, falling back to the text itself.
func DecodeText(text string) any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return text
	}

	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return text
	}
	return v
}

func envelopeText(raw json.RawMessage) (string, bool) {
	var env textEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Content) == 0 {
		return "", false
	}

	var b strings.Builder
	found := false
	for _, part := range env.Content {
		if part.Type != "text" {
			continue
		}
		b.WriteString(part.Text)
		found = true
	}
	return b.String(), found
}
