package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/dbchat/internal/domain"
)

// PostMessage runs one chat turn for the session. Turns on the same session
// are serialized.
func (s *Service) PostMessage(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, fmt.Errorf("session_id is required: %w", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("message is required: %w", domain.ErrInvalidInput)
	}

	if _, err := s.store.GetSession(ctx, req.SessionID); err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	release, err := s.locker.Acquire(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}
	defer release()

	out, err := s.runner.Run(ctx, req.SessionID, req.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to run chat turn: %w", err)
	}

	resp := &domain.ChatResponse{
		SessionID: req.SessionID,
		Response:  out.Answer,
		Sender:    domain.SenderAssistant,
	}
	if out.Message != nil {
		resp.Timestamp = out.Message.CreatedAt
	}
	if out.LastTool != nil {
		resp.ToolUsed = out.LastTool.Name
		resp.ToolInput = out.LastTool.Arguments
	}
	return resp, nil
}

// ListMessages returns the raw transcript of a session.
func (s *Service) ListMessages(ctx context.Context, sessionID string, opts domain.ListOptions) ([]domain.Message, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, fmt.Errorf("limit and offset must not be negative: %w", domain.ErrInvalidInput)
	}
	switch opts.Order {
	case "", domain.SortAscending, domain.SortDescending:
	default:
		return nil, fmt.Errorf("order %q: %w", opts.Order, domain.ErrInvalidInput)
	}

	messages, err := s.store.ListMessages(ctx, sessionID, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// ListDisplayMessages returns the transcript rendered for people.
func (s *Service) ListDisplayMessages(ctx context.Context, sessionID string, opts domain.ListOptions) ([]domain.DisplayMessage, error) {
	messages, err := s.ListMessages(ctx, sessionID, opts)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DisplayMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, domain.Display(m))
	}
	return out, nil
}
