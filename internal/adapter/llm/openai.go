package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/xiaot623/gogo/dbchat/internal/domain"
)

// DefaultTimeout bounds one model call, retries included.
const DefaultTimeout = 15 * time.Second

// Config configures the OpenAI-compatible gateway.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
	MaxRetries   int
}

// OpenAIGateway talks to any OpenAI-compatible chat completions endpoint.
type OpenAIGateway struct {
	client openai.Client
	cfg    Config
	logger *slog.Logger
}

// NewOpenAIGateway creates a gateway. Extra options are appended after the
// ones derived from cfg.
func NewOpenAIGateway(cfg Config, logger *slog.Logger, opts ...option.RequestOption) *OpenAIGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	options := []option.RequestOption{
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		options = append(options, option.WithAPIKey(cfg.APIKey))
	}
	options = append(options, opts...)

	return &OpenAIGateway{
		client: openai.NewClient(options...),
		cfg:    cfg,
		logger: logger,
	}
}

// Generate sends the conversation to the provider.
func (g *OpenAIGateway) Generate(ctx context.Context, req Request) (gen Generation) {
	defer func() {
		if p := recover(); p != nil {
			g.logger.Error("model gateway panic", "panic", p)
			gen = Generation{Text: SafeErrorMessage, FinishReason: FinishError}
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    g.cfg.Model,
		Messages: buildMessages(g.cfg.SystemPrompt, req.History, req.Prompt),
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  openai.FunctionParameters(t.Parameters.AsMap()),
		}))
	}

	start := time.Now()
	resp, err := g.client.Chat.Completions.New(callCtx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			g.logger.Warn("model call timed out", "model", g.cfg.Model, "timeout", g.cfg.Timeout)
			return Generation{FinishReason: FinishTimeout}
		}
		g.logger.Error("model call failed", "model", g.cfg.Model, "error", err)
		return Generation{Text: SafeErrorMessage, FinishReason: FinishError}
	}
	g.logger.Debug("model call completed", "model", g.cfg.Model, "elapsed", time.Since(start))

	return parseCompletion(resp)
}

func parseCompletion(resp *openai.ChatCompletion) Generation {
	if resp == nil || len(resp.Choices) == 0 {
		return Generation{FinishReason: FinishStop}
	}
	choice := resp.Choices[0]

	gen := Generation{Text: choice.Message.Content}
	if gen.Text == "" && choice.Message.Refusal != "" {
		gen.Text = choice.Message.Refusal
	}

	for _, tc := range choice.Message.ToolCalls {
		if tc.Type != "" && tc.Type != "function" {
			continue
		}
		gen.ToolCalls = append(gen.ToolCalls, toToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}

	switch {
	case len(gen.ToolCalls) > 0:
		gen.FinishReason = FinishToolCalls
	case choice.FinishReason == "length":
		gen.FinishReason = FinishLength
	case choice.FinishReason == "content_filter":
		gen.FinishReason = FinishContentFilter
	default:
		gen.FinishReason = FinishStop
	}
	return gen
}

// toToolCall decodes provider arguments. Malformed JSON is kept verbatim so
// the tool reports a validation error the model can react to.
func toToolCall(id, name, arguments string) domain.ToolCall {
	args := map[string]any{}
	if trimmed := strings.TrimSpace(arguments); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &args); err != nil || args == nil {
			args = map[string]any{"_raw_arguments": trimmed}
		}
	}
	return domain.ToolCall{ID: id, Name: name, Arguments: args}
}

// buildMessages lays out system prompt, history and prompt as chat messages.
// Every assistant tool call is answered by exactly one tool message, as the
// chat completions API requires.
func buildMessages(systemPrompt string, history []domain.Turn, prompt string) []openai.ChatCompletionMessageParamUnion {
	var msgs []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(systemPrompt))
	}

	for i := 0; i < len(history); i++ {
		turn := history[i]
		switch turn.Role {
		case domain.RoleModel:
			calls := turn.ToolCalls()
			if len(calls) == 0 {
				msgs = append(msgs, openai.AssistantMessage(turn.Text()))
				continue
			}
			var results []domain.ToolResult
			if i+1 < len(history) && history[i+1].Role == domain.RoleTool {
				results = history[i+1].ToolResults()
				i++
			}
			msgs = append(msgs, toolExchange(i, turn, calls, results)...)
		case domain.RoleTool:
			msgs = append(msgs, openai.UserMessage("Tool results:\n"+renderResults(turn.ToolResults())))
		default:
			msgs = append(msgs, openai.UserMessage(turn.Text()))
		}
	}

	if prompt != "" {
		msgs = append(msgs, openai.UserMessage(prompt))
	}
	return msgs
}

func toolExchange(idx int, turn domain.Turn, calls []domain.ToolCall, results []domain.ToolResult) []openai.ChatCompletionMessageParamUnion {
	asst := openai.ChatCompletionAssistantMessageParam{}
	if text := turn.Text(); text != "" {
		asst.Content.OfString = openai.String(text)
	}

	ids := make([]string, len(calls))
	for ci, c := range calls {
		ids[ci] = c.ID
		if ids[ci] == "" {
			ids[ci] = fmt.Sprintf("call_%d_%d", idx, ci)
		}
		args := c.Arguments
		if args == nil {
			args = map[string]any{}
		}
		encoded, err := json.Marshal(args)
		if err != nil {
			encoded = []byte("{}")
		}
		asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: ids[ci],
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      c.Name,
					Arguments: string(encoded),
				},
			},
		})
	}
	msgs := []openai.ChatCompletionMessageParamUnion{{OfAssistant: &asst}}

	// Match results to calls by id first, then by tool name in call order.
	answered := make([]string, len(calls))
	used := make([]bool, len(results))
	for ri, r := range results {
		if r.ID == "" {
			continue
		}
		for ci := range calls {
			if answered[ci] == "" && ids[ci] == r.ID {
				answered[ci] = string(r.Response)
				used[ri] = true
				break
			}
		}
	}
	for ri, r := range results {
		if used[ri] {
			continue
		}
		for ci, c := range calls {
			if answered[ci] == "" && c.Name == r.Name {
				answered[ci] = string(r.Response)
				used[ri] = true
				break
			}
		}
	}

	for ci := range calls {
		content := answered[ci]
		if content == "" {
			content = `{"success":false,"error":{"code":"missing_result","message":"no result was recorded for this call"}}`
		}
		msgs = append(msgs, openai.ToolMessage(content, ids[ci]))
	}

	var leftovers []domain.ToolResult
	for ri, r := range results {
		if !used[ri] {
			leftovers = append(leftovers, r)
		}
	}
	if len(leftovers) > 0 {
		msgs = append(msgs, openai.UserMessage("Tool results:\n"+renderResults(leftovers)))
	}
	return msgs
}

func renderResults(results []domain.ToolResult) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, r.Name+": "+string(r.Response))
	}
	return strings.Join(lines, "\n")
}
