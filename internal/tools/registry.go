package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xiaot623/gogo/dbchat/internal/domain"
	"golang.org/x/sync/errgroup"
)

// ExecutorFunc defines a server-side tool executor.
type ExecutorFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// PolicyEvaluator decides whether a tool call may run.
// It returns "allow" or "block" and an optional reason.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, input interface{}) (string, string, error)
}

// Observer receives one notification per executed tool call.
type Observer interface {
	ObserveToolExecution(tool, status string, elapsed time.Duration)
}

// DefaultConcurrency bounds parallel calls within one batch.
const DefaultConcurrency = 4

type entry struct {
	desc domain.ToolDescriptor
	exec ExecutorFunc
}

// Registry stores tools keyed by name and runs them.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	policy      PolicyEvaluator
	observer    Observer
	logger      *slog.Logger
	concurrency int
}

// Option configures a Registry.
type Option func(*Registry)

// WithPolicy gates every call through the given policy.
func WithPolicy(p PolicyEvaluator) Option {
	return func(r *Registry) { r.policy = p }
}

// WithObserver reports executions, typically to metrics.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithConcurrency sets how many calls of a batch may run at once.
func WithConcurrency(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewRegistry creates an empty tool registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries:     make(map[string]*entry),
		logger:      slog.Default(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool. Registering a name again replaces the earlier tool
// but keeps its position in DescribeAll.
func (r *Registry) Register(desc domain.ToolDescriptor, exec ExecutorFunc) error {
	if desc.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if exec == nil {
		return fmt.Errorf("executor is required")
	}
	if desc.Parameters.Type == "" {
		desc.Parameters.Type = "object"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[desc.Name]; !exists {
		r.order = append(r.order, desc.Name)
	} else {
		r.logger.Info("replacing registered tool", "tool", desc.Name)
	}
	r.entries[desc.Name] = &entry{desc: desc, exec: exec}
	return nil
}

// MustRegister adds a tool or panics.
func (r *Registry) MustRegister(desc domain.ToolDescriptor, exec ExecutorFunc) {
	if err := r.Register(desc, exec); err != nil {
		panic(err)
	}
}

// DescribeAll lists the registered tools in registration order.
func (r *Registry) DescribeAll() []domain.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].desc)
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Execute runs one tool. Failures come back as *NotFoundError,
// *ValidationError, *BlockedError or *ExecutionError; a panicking tool is
// reported as an ExecutionError.
func (r *Registry) Execute(ctx context.Context, toolName string, args map[string]any) (json.RawMessage, error) {
	r.mu.RLock()
	e := r.entries[toolName]
	r.mu.RUnlock()
	if e == nil {
		return nil, &NotFoundError{Name: toolName}
	}

	if args == nil {
		args = map[string]any{}
	}
	if err := validateArgs(e.desc, args); err != nil {
		return nil, err
	}

	if r.policy != nil {
		decision, reason, err := r.policy.Evaluate(ctx, map[string]interface{}{
			"tool_name": toolName,
			"args":      args,
		})
		if err != nil {
			return nil, &ExecutionError{Name: toolName, Err: fmt.Errorf("policy evaluation: %w", err)}
		}
		if decision != "allow" {
			return nil, &BlockedError{Name: toolName, Reason: reason}
		}
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, &ValidationError{Name: toolName, Message: err.Error()}
	}
	return invoke(ctx, e, raw)
}

func invoke(ctx context.Context, e *entry, args json.RawMessage) (out json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = &ExecutionError{Name: e.desc.Name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	out, err = e.exec(ctx, args)
	if err != nil {
		return nil, &ExecutionError{Name: e.desc.Name, Err: err}
	}
	if len(out) == 0 {
		return json.RawMessage(`null`), nil
	}
	if !json.Valid(out) {
		quoted, _ := json.Marshal(string(out))
		return quoted, nil
	}
	return out, nil
}

// Run executes a call and always returns a result record; errors are folded
// into the record so they can be shown to the model.
func (r *Registry) Run(ctx context.Context, call domain.ToolCall) domain.ToolResult {
	start := time.Now()
	out, err := r.Execute(ctx, call.Name, call.Arguments)

	status := "ok"
	if err != nil {
		status = AsToolError(err).Code
		r.logger.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "error", err)
		out = ErrorResult(err)
	} else if code, failed := reportedFailure(out); failed {
		status = code
		r.logger.Debug("tool reported failure", "tool", call.Name, "call_id", call.ID, "code", code)
	}
	if r.observer != nil {
		r.observer.ObserveToolExecution(call.Name, status, time.Since(start))
	}

	return domain.ToolResult{ID: call.ID, Name: call.Name, Response: out}
}

// reportedFailure recognises results shaped like ErrorResult, which tools
// such as the SQL tool return instead of an error.
func reportedFailure(out json.RawMessage) (string, bool) {
	var body struct {
		Success *bool      `json:"success"`
		Error   *ToolError `json:"error"`
	}
	if err := json.Unmarshal(out, &body); err != nil || body.Success == nil || *body.Success {
		return "", false
	}
	if body.Error == nil || body.Error.Code == "" {
		return CodeExecutionFailed, true
	}
	return body.Error.Code, true
}

// RunBatch runs the calls of one model turn concurrently and returns their
// results in call order.
func (r *Registry) RunBatch(ctx context.Context, calls []domain.ToolCall) []domain.ToolResult {
	results := make([]domain.ToolResult, len(calls))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = r.Run(ctx, call)
			return nil
		})
	}
	_ = g.Wait()

	return results
}
