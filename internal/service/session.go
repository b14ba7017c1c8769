package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/xiaot623/gogo/dbchat/internal/domain"
)

// CreateSession creates a session, generating its id when none is given.
func (s *Service) CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.Session, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	metadata := req.Metadata
	if len(metadata) > 0 && string(metadata) != "null" {
		var obj map[string]any
		if err := json.Unmarshal(metadata, &obj); err != nil {
			return nil, fmt.Errorf("metadata must be a JSON object: %w", domain.ErrInvalidInput)
		}
	} else {
		metadata = nil
	}

	session := &domain.Session{
		SessionID: sessionID,
		UserID:    req.UserID,
		Metadata:  metadata,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("session created", "session_id", session.SessionID, "user_id", session.UserID)
	return session, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// ListSessions lists sessions newest first, optionally for one user.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	sessions, err := s.store.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSessionMetadata shallow-merges patch into the session metadata.
func (s *Service) UpdateSessionMetadata(ctx context.Context, sessionID string, patch json.RawMessage) (*domain.Session, error) {
	session, err := s.store.UpdateSessionMetadata(ctx, sessionID, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update session metadata: %w", err)
	}
	return session, nil
}

// DeleteSession removes a session and its transcript. It waits for any turn
// in progress on the session.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	release, err := s.locker.Acquire(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to lock session: %w", err)
	}
	defer release()

	deleted, err := s.store.DeleteSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if !deleted {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}

	s.logger.Info("session deleted", "session_id", sessionID)
	return nil
}
