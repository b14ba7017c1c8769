// Package rpc exposes the chat service over JSON-RPC for internal clients.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"github.com/xiaot623/gogo/dbchat/internal/domain"
	"github.com/xiaot623/gogo/dbchat/internal/service"
)

// callTimeout bounds a single RPC call, including a full chat turn.
const callTimeout = 5 * time.Minute

// Server accepts JSON-RPC connections.
type Server struct {
	listener  net.Listener
	rpcServer *rpc.Server
	logger    *slog.Logger
	done      chan struct{}
}

// NewServer creates a new RPC server bound to the chat service.
func NewServer(svc *service.Service, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rpcServer := rpc.NewServer()
	handler := &Handler{service: svc}
	if err := rpcServer.RegisterName("Chat", handler); err != nil {
		return nil, fmt.Errorf("register rpc handler: %w", err)
	}

	return &Server{
		rpcServer: rpcServer,
		logger:    logger,
		done:      make(chan struct{}),
	}, nil
}

// Listen binds the server to addr without serving.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start begins accepting RPC connections on the given address. If the server
// is already listening, addr is ignored.
func (s *Server) Start(addr string) error {
	if s.listener == nil {
		if err := s.Listen(addr); err != nil {
			return err
		}
	}

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			s.logger.Warn("rpc accept failed", "error", err)
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}

	if err := s.listener.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements the Chat RPC methods.
type Handler struct {
	service *service.Service
}

// SessionArgs identifies a session.
type SessionArgs struct {
	SessionID string `json:"session_id"`
}

// ListMessagesArgs selects a page of a transcript.
type ListMessagesArgs struct {
	SessionID string           `json:"session_id"`
	Limit     int              `json:"limit,omitempty"`
	Offset    int              `json:"offset,omitempty"`
	Order     domain.SortOrder `json:"order,omitempty"`
	Display   bool             `json:"display,omitempty"`
}

// ListMessagesReply carries either raw or display messages.
type ListMessagesReply struct {
	Messages        []domain.Message        `json:"messages,omitempty"`
	DisplayMessages []domain.DisplayMessage `json:"display_messages,omitempty"`
}

// AckResponse is a generic OK response.
type AckResponse struct {
	OK bool `json:"ok"`
}

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

// CreateSession creates a session.
func (h *Handler) CreateSession(req *domain.CreateSessionRequest, resp *domain.Session) error {
	if req == nil {
		return errors.New("create session request is required")
	}
	ctx, cancel := callContext()
	defer cancel()

	session, err := h.service.CreateSession(ctx, *req)
	if err != nil {
		return err
	}
	*resp = *session
	return nil
}

// PostMessage runs one chat turn.
func (h *Handler) PostMessage(req *domain.ChatRequest, resp *domain.ChatResponse) error {
	if req == nil {
		return errors.New("chat request is required")
	}
	ctx, cancel := callContext()
	defer cancel()

	result, err := h.service.PostMessage(ctx, *req)
	if err != nil {
		return err
	}
	*resp = *result
	return nil
}

// ListMessages returns a session transcript.
func (h *Handler) ListMessages(req *ListMessagesArgs, resp *ListMessagesReply) error {
	if req == nil || req.SessionID == "" {
		return errors.New("session_id is required")
	}
	ctx, cancel := callContext()
	defer cancel()

	opts := domain.ListOptions{Limit: req.Limit, Offset: req.Offset, Order: req.Order}
	if req.Display {
		msgs, err := h.service.ListDisplayMessages(ctx, req.SessionID, opts)
		if err != nil {
			return err
		}
		resp.DisplayMessages = msgs
		return nil
	}

	msgs, err := h.service.ListMessages(ctx, req.SessionID, opts)
	if err != nil {
		return err
	}
	resp.Messages = msgs
	return nil
}

// DeleteSession deletes a session and its transcript.
func (h *Handler) DeleteSession(req *SessionArgs, resp *AckResponse) error {
	if req == nil || req.SessionID == "" {
		return errors.New("session_id is required")
	}
	ctx, cancel := callContext()
	defer cancel()

	if err := h.service.DeleteSession(ctx, req.SessionID); err != nil {
		return err
	}
	resp.OK = true
	return nil
}
