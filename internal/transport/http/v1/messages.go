package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/xiaot623/gogo/dbchat/internal/domain"
)

// postMessageBody is the body of PostMessage.
type postMessageBody struct {
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
}

// PostMessage runs one chat turn.
// POST /v1/sessions/:session_id/messages
func (h *Handler) PostMessage(c echo.Context) error {
	var body postMessageBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	resp, err := h.service.PostMessage(c.Request().Context(), domain.ChatRequest{
		SessionID: c.Param("session_id"),
		Message:   body.Message,
		UserID:    body.UserID,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	h.hub.Publish(resp.SessionID, "", turnFrame("", body.UserID, body.Message, resp))
	return c.JSON(http.StatusOK, resp)
}

// GetSessionMessages lists a session's transcript. view=display renders
// tool records as readable text.
// GET /v1/sessions/:session_id/messages?limit&offset&order&view
func (h *Handler) GetSessionMessages(c echo.Context) error {
	sessionID := c.Param("session_id")

	var opts domain.ListOptions
	if l := c.QueryParam("limit"); l != "" {
		val, err := strconv.Atoi(l)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
		}
		opts.Limit = val
	}
	if o := c.QueryParam("offset"); o != "" {
		val, err := strconv.Atoi(o)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "offset must be an integer"})
		}
		opts.Offset = val
	}
	opts.Order = domain.SortOrder(c.QueryParam("order"))

	ctx := c.Request().Context()

	if c.QueryParam("view") == "display" {
		messages, err := h.service.ListDisplayMessages(ctx, sessionID, opts)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"messages": messages,
			"has_more": opts.Limit > 0 && len(messages) == opts.Limit,
		})
	}

	messages, err := h.service.ListMessages(ctx, sessionID, opts)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
		"has_more": opts.Limit > 0 && len(messages) == opts.Limit,
	})
}
