// Package helpers holds fixtures shared by package tests.
package helpers

import (
	"context"
	"testing"

	"github.com/xiaot623/gogo/dbchat/internal/domain"
	"github.com/xiaot623/gogo/dbchat/internal/repository"
)

// NewTestSQLiteStore returns an in-memory store closed at test cleanup.
func NewTestSQLiteStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()

	s, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// MustCreateSession creates a session or fails the test.
func MustCreateSession(t *testing.T, s repository.Store, sessionID, userID string) *domain.Session {
	t.Helper()

	session := &domain.Session{SessionID: sessionID, UserID: userID}
	if err := s.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return session
}
