package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xiaot623/gogo/dbchat/internal/domain"
)

// Error codes carried by serialised tool errors.
const (
	CodeNotFound        = "not_found"
	CodeInvalidArgs     = "invalid_arguments"
	CodeExecutionFailed = "execution_failed"
	CodeBlocked         = "blocked"
	CodeUnsafeQuery     = "unsafe_query"
	CodeInternal        = "internal"
)

// ToolError is the serialisable form of a failed tool call.
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NotFoundError is returned when no tool is registered under a name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool %q is not registered", e.Name)
}

// Is lets callers match NotFoundError with domain.ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == domain.ErrNotFound
}

// ValidationError is returned when arguments do not match the tool schema.
type ValidationError struct {
	Name    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Name, e.Message)
}

// ExecutionError wraps any failure raised while a tool ran, panics included.
type ExecutionError struct {
	Name string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Name, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// BlockedError is returned when the tool policy refuses a call.
type BlockedError struct {
	Name   string
	Reason string
}

func (e *BlockedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("tool %s blocked by policy", e.Name)
	}
	return fmt.Sprintf("tool %s blocked by policy: %s", e.Name, e.Reason)
}

// UnsafeQueryError is returned for statements other than SELECT.
type UnsafeQueryError struct {
	Statement string
}

func (e *UnsafeQueryError) Error() string {
	return "only SELECT statements are allowed"
}

// AsToolError classifies err into a serialisable ToolError.
func AsToolError(err error) ToolError {
	var (
		notFound   *NotFoundError
		validation *ValidationError
		blocked    *BlockedError
		unsafe     *UnsafeQueryError
		execution  *ExecutionError
	)
	switch {
	case errors.As(err, &notFound):
		return ToolError{Code: CodeNotFound, Message: err.Error()}
	case errors.As(err, &validation):
		return ToolError{Code: CodeInvalidArgs, Message: err.Error()}
	case errors.As(err, &blocked):
		return ToolError{Code: CodeBlocked, Message: err.Error()}
	case errors.As(err, &unsafe):
		return ToolError{Code: CodeUnsafeQuery, Message: err.Error()}
	case errors.As(err, &execution):
		return ToolError{Code: CodeExecutionFailed, Message: err.Error()}
	default:
		return ToolError{Code: CodeInternal, Message: err.Error()}
	}
}

// ErrorResult renders err as the tool result fed back to the model.
func ErrorResult(err error) json.RawMessage {
	data, mErr := json.Marshal(map[string]any{
		"success": false,
		"error":   AsToolError(err),
	})
	if mErr != nil {
		return json.RawMessage(`{"success":false,"error":{"code":"internal","message":"unserialisable error"}}`)
	}
	return data
}
