package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/xiaot623/gogo/dbchat/internal/domain"
)

// MockGateway is a Gateway for local runs and tests. With a script it
// replays the scripted generations in order, repeating the last one;
// without a script it echoes the prompt.
type MockGateway struct {
	mu       sync.Mutex
	script   []Generation
	requests []Request
}

// NewMockGateway creates a mock gateway.
func NewMockGateway(script ...Generation) *MockGateway {
	return &MockGateway{script: script}
}

// Generate returns the next scripted generation.
func (m *MockGateway) Generate(ctx context.Context, req Request) Generation {
	m.mu.Lock()
	defer m.mu.Unlock()

	recorded := req
	recorded.History = append([]domain.Turn(nil), req.History...)
	m.requests = append(m.requests, recorded)

	if len(m.script) == 0 {
		return Generation{
			Text:         fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(req.Prompt, 100)),
			FinishReason: FinishStop,
		}
	}

	idx := len(m.requests) - 1
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}
	return m.script[idx]
}

// Requests returns the requests seen so far.
func (m *MockGateway) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls returns the number of Generate calls.
func (m *MockGateway) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
