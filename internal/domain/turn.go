package domain

import "strings"

// Turn is one role-tagged unit of conversation sent to the model.
// Turns are rebuilt from stored messages and never persisted themselves.
type Turn struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// IsPureText reports whether every part of the turn is text.
func (t Turn) IsPureText() bool {
	for _, p := range t.Parts {
		if !p.IsText() {
			return false
		}
	}
	return true
}

// Text joins the text parts of the turn with newlines.
func (t Turn) Text() string {
	var texts []string
	for _, p := range t.Parts {
		if p.IsText() {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ToolCalls returns the function-call parts of the turn.
func (t Turn) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range t.Parts {
		if p.FunctionCall != nil {
			calls = append(calls, *p.FunctionCall)
		}
	}
	return calls
}

// ToolResults returns the function-response parts of the turn.
func (t Turn) ToolResults() []ToolResult {
	var results []ToolResult
	for _, p := range t.Parts {
		if p.FunctionResponse != nil {
			results = append(results, *p.FunctionResponse)
		}
	}
	return results
}
