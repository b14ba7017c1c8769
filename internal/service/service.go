// Package service exposes the chat backend's use cases to the transports.
package service

import (
	"context"
	"log/slog"

	"github.com/xiaot623/gogo/dbchat/internal/domain"
	"github.com/xiaot623/gogo/dbchat/internal/orchestrator"
	"github.com/xiaot623/gogo/dbchat/internal/repository"
	"github.com/xiaot623/gogo/dbchat/internal/sessionlock"
)

// TurnRunner runs one chat turn.
type TurnRunner interface {
	Run(ctx context.Context, sessionID, text string) (*orchestrator.Outcome, error)
}

// ToolCatalog lists the tools advertised to the model.
type ToolCatalog interface {
	DescribeAll() []domain.ToolDescriptor
}

type Service struct {
	store   repository.Store
	runner  TurnRunner
	locker  sessionlock.Locker
	catalog ToolCatalog
	logger  *slog.Logger
}

// New creates a Service. A nil locker selects an in-process one; a nil
// catalog means no tools.
func New(store repository.Store, runner TurnRunner, locker sessionlock.Locker, catalog ToolCatalog, logger *slog.Logger) *Service {
	if locker == nil {
		locker = sessionlock.NewMemoryLocker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		runner:  runner,
		locker:  locker,
		catalog: catalog,
		logger:  logger,
	}
}

// Tools returns the descriptors of the registered tools.
func (s *Service) Tools() []domain.ToolDescriptor {
	if s.catalog == nil {
		return []domain.ToolDescriptor{}
	}
	return s.catalog.DescribeAll()
}
