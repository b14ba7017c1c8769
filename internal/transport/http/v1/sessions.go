package v1

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/xiaot623/gogo/dbchat/internal/domain"
)

// CreateSession creates a chat session. The body is optional.
// POST /v1/sessions
func (h *Handler) CreateSession(c echo.Context) error {
	var req domain.CreateSessionRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil && !isEmptyBody(err) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		}
	}

	session, err := h.service.CreateSession(c.Request().Context(), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, session)
}

// ListSessions lists sessions, newest first.
// GET /v1/sessions?user_id=
func (h *Handler) ListSessions(c echo.Context) error {
	sessions, err := h.service.ListSessions(c.Request().Context(), c.QueryParam("user_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

// GetSession returns one session.
// GET /v1/sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	session, err := h.service.GetSession(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// UpdateSessionMetadata merges the JSON object body into the session metadata.
// PATCH /v1/sessions/:session_id/metadata
func (h *Handler) UpdateSessionMetadata(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if !json.Valid(body) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "body must be a JSON object"})
	}

	session, err := h.service.UpdateSessionMetadata(c.Request().Context(), c.Param("session_id"), body)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// DeleteSession deletes a session and its messages.
// DELETE /v1/sessions/:session_id
func (h *Handler) DeleteSession(c echo.Context) error {
	sessionID := c.Param("session_id")
	if err := h.service.DeleteSession(c.Request().Context(), sessionID); err != nil {
		return errorResponse(c, err)
	}
	h.hub.Publish(sessionID, "", Frame{Type: FrameSessionDeleted, SessionID: sessionID})
	return c.NoContent(http.StatusNoContent)
}

func isEmptyBody(err error) bool {
	he, ok := err.(*echo.HTTPError)
	return ok && he.Internal == io.EOF
}
