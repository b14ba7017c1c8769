// Package repository persists chat sessions and their message transcripts.
package repository

import (
	"context"
	"encoding/json"

	"github.com/xiaot623/gogo/dbchat/internal/domain"
)

// Store defines the transcript persistence operations.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListSessions(ctx context.Context, userID string) ([]domain.Session, error)
	UpdateSessionMetadata(ctx context.Context, sessionID string, patch json.RawMessage) (*domain.Session, error)
	DeleteSession(ctx context.Context, sessionID string) (bool, error)

	// Message operations
	AppendMessage(ctx context.Context, sessionID string, sender domain.Sender, payload domain.Payload) (*domain.Message, error)
	ListMessages(ctx context.Context, sessionID string, opts domain.ListOptions) ([]domain.Message, error)
	CountMessages(ctx context.Context, sessionID string) (int, error)

	Close() error
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
