package domain

import (
	"strings"
)

const maxDisplayResponse = 500

// Display renders a stored message as readable text. Tool records become
// short bracketed summaries instead of raw JSON.
func Display(m Message) DisplayMessage {
	out := DisplayMessage{
		MessageID: m.MessageID,
		SessionID: m.SessionID,
		Sender:    m.Sender,
		Kind:      m.Kind,
		Content:   m.Payload,
		CreatedAt: m.CreatedAt,
	}

	payload, err := DecodePayload(m.Kind, m.Payload)
	if err != nil || len(payload.Parts) == 0 {
		return out
	}

	var (
		texts   []string
		called  []string
		answers []string
	)
	for _, p := range payload.Parts {
		switch {
		case p.FunctionCall != nil:
			called = append(called, p.FunctionCall.Name)
		case p.FunctionResponse != nil:
			answers = append(answers, p.FunctionResponse.Name+": "+truncate(string(p.FunctionResponse.Response), maxDisplayResponse))
		case p.Text != "":
			texts = append(texts, p.Text)
		}
	}

	var lines []string
	if len(texts) > 0 {
		lines = append(lines, strings.Join(texts, "\n"))
	}
	if len(called) > 0 {
		lines = append(lines, "[assistant used tool: "+strings.Join(called, ", ")+"]")
	}
	for _, a := range answers {
		lines = append(lines, "[tool response: "+a+"]")
	}
	out.Content = strings.Join(lines, "\n")
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
