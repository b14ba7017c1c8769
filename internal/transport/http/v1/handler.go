// Package v1 provides the public HTTP API of the chat service.
package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/xiaot623/gogo/dbchat/internal/domain"
	"github.com/xiaot623/gogo/dbchat/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service  *service.Service
	logger   *slog.Logger
	hub      *Hub
	upgrader websocket.Upgrader

	// readTimeout is how long an idle chat socket may go without a frame
	// or pong.
	readTimeout time.Duration
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:     service,
		logger:      logger,
		hub:         NewHub(logger),
		readTimeout: wsReadTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes registers the public routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Sessions
	e.POST("/v1/sessions", h.CreateSession)
	e.GET("/v1/sessions", h.ListSessions)
	e.GET("/v1/sessions/:session_id", h.GetSession)
	e.PATCH("/v1/sessions/:session_id/metadata", h.UpdateSessionMetadata)
	e.DELETE("/v1/sessions/:session_id", h.DeleteSession)

	// Messages
	e.POST("/v1/sessions/:session_id/messages", h.PostMessage)
	e.GET("/v1/sessions/:session_id/messages", h.GetSessionMessages)
	e.GET("/v1/sessions/:session_id/ws", h.Chat)

	e.GET("/v1/tools", h.ListTools)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// errorResponse maps domain errors to status codes.
func errorResponse(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
