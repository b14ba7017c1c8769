// Package llm provides the model gateway used by the chat orchestrator.
package llm

import (
	"context"

	"github.com/xiaot623/gogo/dbchat/internal/domain"
)

// FinishReason explains why a generation ended.
type FinishReason string

const (
	FinishStop          FinishReason = "STOP"
	FinishToolCalls     FinishReason = "TOOL_CALLS"
	FinishLength        FinishReason = "LENGTH"
	FinishContentFilter FinishReason = "CONTENT_FILTER"
	FinishTimeout       FinishReason = "TIMEOUT"
	FinishError         FinishReason = "ERROR"
)

// SafeErrorMessage is shown to users when the provider call fails.
const SafeErrorMessage = "Sorry, the language model is unavailable right now. Please try again in a moment."

// Request is one model invocation. History and Prompt are kept apart; the
// gateway decides how to lay them out for the provider.
type Request struct {
	History []domain.Turn
	Prompt  string
	Tools   []domain.ToolDescriptor
}

// Generation is the structured outcome of a model call.
type Generation struct {
	Text         string            `json:"text,omitempty"`
	ToolCalls    []domain.ToolCall `json:"tool_calls,omitempty"`
	FinishReason FinishReason      `json:"finish_reason"`
}

// Gateway calls the model. Implementations never return an error: provider
// failures are reported through FinishReason.
type Gateway interface {
	Generate(ctx context.Context, req Request) Generation
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, req Request) Generation

// Generate calls f.
func (f GatewayFunc) Generate(ctx context.Context, req Request) Generation {
	return f(ctx, req)
}

// Ensure the implementations satisfy Gateway.
var (
	_ Gateway = (*OpenAIGateway)(nil)
	_ Gateway = (*MockGateway)(nil)
	_ Gateway = GatewayFunc(nil)
)
