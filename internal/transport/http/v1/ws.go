package v1

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/xiaot623/gogo/dbchat/internal/domain"
)

// Frame types exchanged on the chat websocket.
const (
	FrameHelloAck = "hello_ack"
	FrameChat     = "chat"
	FrameAnswer   = "answer"
	FrameError    = "error"

	// FrameTurn reports a turn run by another connection of the session.
	FrameTurn = "turn"
	// FrameSessionDeleted is sent before the server closes the socket of a
	// deleted session.
	FrameSessionDeleted = "session_deleted"
)

// Error codes sent in error frames.
const (
	ErrorCodeInvalidMessage = "INVALID_MESSAGE"
	ErrorCodeNotFound       = "NOT_FOUND"
	ErrorCodeInvalidInput   = "INVALID_INPUT"
	ErrorCodeInternal       = "INTERNAL"
)

const (
	wsMaxMessageSize = 64 * 1024
	wsReadTimeout    = 60 * time.Second
	wsWriteTimeout   = 10 * time.Second
	wsPingInterval   = 30 * time.Second
)

// Frame is one websocket message in either direction.
type Frame struct {
	Type      string         `json:"type"`
	Ts        int64          `json:"ts,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Response  string         `json:"response,omitempty"`
	ToolUsed  string         `json:"tool_used,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
	Code      string         `json:"code,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) writeFrame(f Frame) error {
	f.Ts = time.Now().UnixMilli()
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}

// Chat upgrades to a websocket and runs one chat turn per "chat" frame.
// Frames are handled in arrival order.
// GET /v1/sessions/:session_id/ws
func (h *Handler) Chat(c echo.Context) error {
	sessionID := c.Param("session_id")
	ctx := c.Request().Context()

	if _, err := h.service.GetSession(ctx, sessionID); err != nil {
		return errorResponse(c, err)
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return nil
	}
	defer ws.Close()

	conn := &wsConn{conn: ws}
	ws.SetReadLimit(wsMaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(h.readTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(h.readTimeout))
		return nil
	})

	// Subscribe before hello_ack so no turn is missed; frames queue until
	// the writer starts.
	sub, unsubscribe := h.hub.Subscribe(sessionID)
	defer unsubscribe()
	if err := conn.writeFrame(Frame{Type: FrameHelloAck, SessionID: sessionID}); err != nil {
		return nil
	}
	go func() {
		for f := range sub.send {
			if err := conn.writeFrame(f); err != nil {
				return
			}
			if f.Type == FrameSessionDeleted {
				ws.Close()
				return
			}
		}
	}()

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					return
				}
			}
		}
	}()

	h.logger.Info("chat websocket connected", "session_id", sessionID)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "session_id", sessionID, "error", err)
			}
			return nil
		}
		// No reads happen while a turn runs, so pongs cannot refresh the
		// deadline; it is lifted for the turn and restarted afterwards.
		ws.SetReadDeadline(time.Time{})
		reply := h.handleFrame(ctx, sessionID, sub.id, data)
		ws.SetReadDeadline(time.Now().Add(h.readTimeout))

		if err := conn.writeFrame(reply); err != nil {
			h.logger.Warn("websocket write failed", "session_id", sessionID, "error", err)
			return nil
		}
	}
}

func (h *Handler) handleFrame(ctx context.Context, sessionID, subscriberID string, data []byte) Frame {
	var in Frame
	if err := json.Unmarshal(data, &in); err != nil {
		return Frame{Type: FrameError, SessionID: sessionID, Code: ErrorCodeInvalidMessage, Error: "invalid JSON message"}
	}
	if in.Type != FrameChat {
		return Frame{Type: FrameError, RequestID: in.RequestID, SessionID: sessionID,
			Code: ErrorCodeInvalidMessage, Error: "unknown message type: " + in.Type}
	}

	resp, err := h.service.PostMessage(ctx, domain.ChatRequest{
		SessionID: sessionID,
		Message:   in.Message,
		UserID:    in.UserID,
	})
	if err != nil {
		code := ErrorCodeInternal
		switch {
		case errors.Is(err, domain.ErrNotFound):
			code = ErrorCodeNotFound
		case errors.Is(err, domain.ErrInvalidInput):
			code = ErrorCodeInvalidInput
		}
		return Frame{Type: FrameError, RequestID: in.RequestID, SessionID: sessionID, Code: code, Error: err.Error()}
	}

	h.hub.Publish(sessionID, subscriberID, turnFrame(in.RequestID, in.UserID, in.Message, resp))

	return Frame{
		Type:      FrameAnswer,
		RequestID: in.RequestID,
		SessionID: sessionID,
		Response:  resp.Response,
		ToolUsed:  resp.ToolUsed,
		ToolInput: resp.ToolInput,
	}
}

func turnFrame(requestID, userID, message string, resp *domain.ChatResponse) Frame {
	return Frame{
		Type:      FrameTurn,
		RequestID: requestID,
		SessionID: resp.SessionID,
		UserID:    userID,
		Message:   message,
		Response:  resp.Response,
		ToolUsed:  resp.ToolUsed,
		ToolInput: resp.ToolInput,
	}
}
