package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolCall is a model-issued request to run a named tool.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"args"`
}

// ToolResult is the outcome of one ToolCall, fed back to the model.
type ToolResult struct {
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

// Part is an atomic unit of turn content. Exactly one field is set.
type Part struct {
	Text             string      `json:"text,omitempty"`
	FunctionCall     *ToolCall   `json:"function_call,omitempty"`
	FunctionResponse *ToolResult `json:"function_response,omitempty"`
}

// IsText reports whether the part is a plain text fragment.
func (p Part) IsText() bool {
	return p.FunctionCall == nil && p.FunctionResponse == nil
}

// Payload is the decoded content of a stored message.
type Payload struct {
	Kind  PayloadKind
	Text  string
	Parts []Part
}

// TextPayload wraps plain text.
func TextPayload(text string) Payload {
	return Payload{Kind: PayloadKindText, Text: text}
}

// ToolCallBatch builds the payload persisted when the model requests tools.
func ToolCallBatch(calls []ToolCall) Payload {
	parts := make([]Part, 0, len(calls))
	for i := range calls {
		call := calls[i]
		parts = append(parts, Part{FunctionCall: &call})
	}
	return Payload{Kind: PayloadKindToolCallBatch, Parts: parts}
}

// ToolResultBatch builds the payload persisted after tools have run.
func ToolResultBatch(results []ToolResult) Payload {
	parts := make([]Part, 0, len(results))
	for i := range results {
		result := results[i]
		parts = append(parts, Part{FunctionResponse: &result})
	}
	return Payload{Kind: PayloadKindToolResultBatch, Parts: parts}
}

// Encode renders the payload into its stored text form.
func (p Payload) Encode() (string, error) {
	switch p.Kind {
	case PayloadKindText, PayloadKindUnknown:
		return p.Text, nil
	case PayloadKindToolCallBatch, PayloadKindToolResultBatch:
		data, err := json.Marshal(p.Parts)
		if err != nil {
			return "", fmt.Errorf("encode %s payload: %w", p.Kind, err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unknown payload kind %q", p.Kind)
	}
}

// DecodePayload parses a stored payload. Rows without a kind are classified
// from their content; anything that is not a recognised record is text.
func DecodePayload(kind PayloadKind, body string) (Payload, error) {
	switch kind {
	case PayloadKindText:
		return TextPayload(body), nil
	case PayloadKindToolCallBatch, PayloadKindToolResultBatch:
		var parts []Part
		if err := json.Unmarshal([]byte(body), &parts); err != nil {
			return Payload{}, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return Payload{Kind: kind, Parts: parts}, nil
	case PayloadKindUnknown:
		parts, ok := ParseLegacyRecord(body)
		if !ok {
			return Payload{Kind: PayloadKindUnknown, Text: body}, nil
		}
		return Payload{Kind: PayloadKindUnknown, Parts: parts}, nil
	default:
		return Payload{}, fmt.Errorf("unknown payload kind %q", kind)
	}
}

// ParseLegacyRecord recognises the structured records written before payload
// kinds were tagged: a single {"function_call": ...} or
// {"function_response": ...} object, or a list mixing those with text
// fragments. It returns false for anything else.
func ParseLegacyRecord(body string) ([]Part, bool) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return nil, false
	}

	switch trimmed[0] {
	case '{':
		part, ok := parseLegacyEntry(json.RawMessage(trimmed))
		if !ok || part.IsText() {
			return nil, false
		}
		return []Part{part}, true
	case '[':
		var entries []json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &entries); err != nil || len(entries) == 0 {
			return nil, false
		}
		parts := make([]Part, 0, len(entries))
		structured := false
		for _, entry := range entries {
			part, ok := parseLegacyEntry(entry)
			if !ok {
				return nil, false
			}
			if !part.IsText() {
				structured = true
			}
			parts = append(parts, part)
		}
		if !structured {
			return nil, false
		}
		return parts, true
	default:
		return nil, false
	}
}

func parseLegacyEntry(raw json.RawMessage) (Part, bool) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return Part{Text: text}, true
	}

	var entry struct {
		Text             *string         `json:"text"`
		FunctionCall     *ToolCall       `json:"function_call"`
		FunctionResponse json.RawMessage `json:"function_response"`
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Part{}, false
	}

	switch {
	case entry.FunctionCall != nil && entry.FunctionCall.Name != "":
		return Part{FunctionCall: entry.FunctionCall}, true
	case len(entry.FunctionResponse) > 0:
		var result ToolResult
		if err := json.Unmarshal(entry.FunctionResponse, &result); err != nil || result.Name == "" {
			return Part{}, false
		}
		return Part{FunctionResponse: &result}, true
	case entry.Text != nil:
		return Part{Text: *entry.Text}, true
	default:
		return Part{}, false
	}
}
