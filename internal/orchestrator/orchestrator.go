// Package orchestrator runs one chat turn: it persists the user's message,
// alternates between the model and the tools until the model answers, and
// persists every step of the exchange.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/xiaot623/gogo/dbchat/internal/adapter/llm"
	"github.com/xiaot623/gogo/dbchat/internal/domain"
	"github.com/xiaot623/gogo/dbchat/internal/history"
	"github.com/xiaot623/gogo/dbchat/internal/tools"
)

// Fallback answers stored when the model does not produce one.
const (
	NoAnswerText        = "No answer could be generated."
	IterationLimitText  = "Tool-iteration limit reached before a final answer was produced."
	DefaultMaxToolIters = 5
	DefaultWindow       = 200
)

// State is the terminal state of a turn.
type State string

const (
	StateFinalAnswer State = "final_answer"
	StateStalled     State = "stalled"
)

// Transcript is the part of the store the loop needs.
type Transcript interface {
	AppendMessage(ctx context.Context, sessionID string, sender domain.Sender, payload domain.Payload) (*domain.Message, error)
	ListMessages(ctx context.Context, sessionID string, opts domain.ListOptions) ([]domain.Message, error)
}

// ToolRunner advertises and executes tools.
type ToolRunner interface {
	DescribeAll() []domain.ToolDescriptor
	RunBatch(ctx context.Context, calls []domain.ToolCall) []domain.ToolResult
}

// Recorder receives loop metrics.
type Recorder interface {
	ObserveModelCall(finishReason string)
	ObserveTurn(outcome string, elapsed time.Duration)
}

// Outcome is the result of one turn.
type Outcome struct {
	State      State
	Answer     string
	Message    *domain.Message
	LastTool   *domain.ToolCall
	ModelCalls int
	ToolRounds int
}

// Config bounds one turn.
type Config struct {
	// MaxToolIterations caps model calls per turn.
	MaxToolIterations int
	// HistoryWindow is the number of most recent messages loaded to rebuild
	// the conversation.
	HistoryWindow int
}

// Orchestrator drives the model/tool loop.
type Orchestrator struct {
	store    Transcript
	gateway  llm.Gateway
	runner   ToolRunner
	history  *history.Reconstructor
	recorder Recorder
	logger   *slog.Logger
	cfg      Config
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithHistory sets the history reconstructor.
func WithHistory(h *history.Reconstructor) Option {
	return func(o *Orchestrator) { o.history = h }
}

// New creates an Orchestrator. runner may be nil, which is the same as an
// empty tool set.
func New(store Transcript, gateway llm.Gateway, runner ToolRunner, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = DefaultMaxToolIters
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultWindow
	}
	o := &Orchestrator{
		store:   store,
		gateway: gateway,
		runner:  runner,
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.history == nil {
		o.history = history.New(history.DefaultMaxTurns, o.logger)
	}
	return o
}

// Run handles one user message. Only persistence errors are returned; model
// and tool failures end up in the answer text.
func (o *Orchestrator) Run(ctx context.Context, sessionID, text string) (*Outcome, error) {
	start := time.Now()
	logger := o.logger.With("session_id", sessionID)

	// The user's message is stored before the model sees anything.
	if _, err := o.store.AppendMessage(ctx, sessionID, domain.SenderUser, domain.TextPayload(text)); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	turns, err := o.loadHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var descriptors []domain.ToolDescriptor
	if o.runner != nil {
		descriptors = o.runner.DescribeAll()
	}

	out := &Outcome{}
	for out.ModelCalls < o.cfg.MaxToolIterations {
		gen := o.gateway.Generate(ctx, llm.Request{History: turns, Prompt: text, Tools: descriptors})
		out.ModelCalls++
		o.observeModelCall(gen.FinishReason)

		if len(gen.ToolCalls) > 0 {
			calls := withCallIDs(gen.ToolCalls)
			if _, err := o.store.AppendMessage(ctx, sessionID, domain.SenderAssistant, domain.ToolCallBatch(calls)); err != nil {
				return nil, fmt.Errorf("persist tool calls: %w", err)
			}
			turns = append(turns, modelTurn(calls))

			results := o.runTools(ctx, calls)
			if _, err := o.store.AppendMessage(ctx, sessionID, domain.SenderTool, domain.ToolResultBatch(results)); err != nil {
				return nil, fmt.Errorf("persist tool results: %w", err)
			}
			turns = append(turns, toolTurn(results))

			last := calls[len(calls)-1]
			out.LastTool = &last
			out.ToolRounds++
			logger.Debug("tool round completed", "round", out.ToolRounds, "calls", len(calls))
			continue
		}

		if gen.Text != "" {
			out.State = StateFinalAnswer
			out.Answer = gen.Text
		} else {
			logger.Warn("model returned neither text nor tool calls", "finish_reason", gen.FinishReason)
			out.State = StateStalled
			out.Answer = NoAnswerText
		}
		break
	}

	if out.State == "" {
		logger.Warn("tool iteration limit reached", "max_tool_iterations", o.cfg.MaxToolIterations)
		out.State = StateStalled
		out.Answer = IterationLimitText
	}

	msg, err := o.store.AppendMessage(ctx, sessionID, domain.SenderAssistant, domain.TextPayload(out.Answer))
	if err != nil {
		return nil, fmt.Errorf("persist answer: %w", err)
	}
	out.Message = msg

	elapsed := time.Since(start)
	if o.recorder != nil {
		o.recorder.ObserveTurn(string(out.State), elapsed)
	}
	logger.Info("chat turn completed",
		"state", out.State, "model_calls", out.ModelCalls, "tool_rounds", out.ToolRounds, "elapsed", elapsed)
	return out, nil
}

// loadHistory rebuilds the conversation and strips the trailing user turn,
// which is sent separately as the prompt.
func (o *Orchestrator) loadHistory(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	msgs, err := o.store.ListMessages(ctx, sessionID, domain.ListOptions{
		Limit: o.cfg.HistoryWindow,
		Order: domain.SortDescending,
	})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	slices.Reverse(msgs)

	turns := o.history.Build(msgs)
	if n := len(turns); n > 0 && turns[n-1].Role == domain.RoleUser {
		turns = turns[:n-1]
	}
	return turns, nil
}

func (o *Orchestrator) runTools(ctx context.Context, calls []domain.ToolCall) []domain.ToolResult {
	if o.runner == nil {
		results := make([]domain.ToolResult, len(calls))
		for i, c := range calls {
			results[i] = domain.ToolResult{ID: c.ID, Name: c.Name, Response: tools.ErrorResult(&tools.NotFoundError{Name: c.Name})}
		}
		return results
	}
	return o.runner.RunBatch(ctx, calls)
}

func (o *Orchestrator) observeModelCall(reason llm.FinishReason) {
	if o.recorder != nil {
		o.recorder.ObserveModelCall(string(reason))
	}
}

// withCallIDs returns a copy of calls where every call has an id, so results
// can be paired with calls when the history is replayed.
func withCallIDs(calls []domain.ToolCall) []domain.ToolCall {
	out := make([]domain.ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = "call_" + uuid.NewString()
		}
		if c.Arguments == nil {
			c.Arguments = map[string]any{}
		}
		out[i] = c
	}
	return out
}

func modelTurn(calls []domain.ToolCall) domain.Turn {
	parts := make([]domain.Part, len(calls))
	for i := range calls {
		call := calls[i]
		parts[i] = domain.Part{FunctionCall: &call}
	}
	return domain.Turn{Role: domain.RoleModel, Parts: parts}
}

func toolTurn(results []domain.ToolResult) domain.Turn {
	parts := make([]domain.Part, len(results))
	for i := range results {
		result := results[i]
		parts[i] = domain.Part{FunctionResponse: &result}
	}
	return domain.Turn{Role: domain.RoleTool, Parts: parts}
}
