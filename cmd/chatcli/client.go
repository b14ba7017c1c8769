package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Frame types, mirrored from the server.
const (
	TypeHelloAck = "hello_ack"
	TypeChat     = "chat"
	TypeAnswer   = "answer"
	TypeError    = "error"
)

// Frame is one websocket message.
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

// DisplayMessage is one rendered transcript entry.
type DisplayMessage struct {
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Client talks to one chat session.
type Client struct {
	baseURL   string
	userID    string
	http      *http.Client
	conn      *websocket.Conn
	sessionID string
}

// NewClient creates a client for the server at baseURL (http or https).
func NewClient(baseURL, userID string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SessionID returns the connected session.
func (c *Client) SessionID() string {
	return c.sessionID
}

// CreateSession creates a new session over HTTP.
func (c *Client) CreateSession() (string, error) {
	body, _ := json.Marshal(map[string]string{"user_id": c.userID})
	resp, err := c.http.Post(c.baseURL+"/v1/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("create session: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var session struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", fmt.Errorf("decode session: %w", err)
	}
	return session.SessionID, nil
}

// Connect opens the chat websocket of sessionID and waits for hello_ack.
func (c *Client) Connect(sessionID string) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/sessions/" + url.PathEscape(sessionID) + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	var ack Frame
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return fmt.Errorf("read hello_ack: %w", err)
	}
	if ack.Type != TypeHelloAck {
		conn.Close()
		return fmt.Errorf("expected hello_ack, got: %s", ack.Type)
	}

	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.sessionID = sessionID
	return nil
}

// Ask sends a message and waits for its answer.
func (c *Client) Ask(message string) (*Frame, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	requestID := fmt.Sprintf("req_%d", time.Now().UnixNano())
	if err := c.conn.WriteJSON(Frame{
		Type:      TypeChat,
		RequestID: requestID,
		UserID:    c.userID,
		Message:   message,
	}); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		if f.RequestID != "" && f.RequestID != requestID {
			continue
		}
		switch f.Type {
		case TypeAnswer:
			return &f, nil
		case TypeError:
			return nil, fmt.Errorf("%s: %s", f.Code, f.Error)
		}
	}
}

// History fetches the rendered transcript of the current session.
func (c *Client) History() ([]DisplayMessage, error) {
	resp, err := c.http.Get(c.baseURL + "/v1/sessions/" + url.PathEscape(c.sessionID) + "/messages?view=display")
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get history: %s", resp.Status)
	}
	var out struct {
		Messages []DisplayMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return out.Messages, nil
}

// Close closes the websocket.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	c.conn = nil
	return err
}
