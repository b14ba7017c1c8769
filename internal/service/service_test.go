package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/gogo/dbchat/internal/adapter/llm"
	"github.com/xiaot623/gogo/dbchat/internal/domain"
	"github.com/xiaot623/gogo/dbchat/internal/orchestrator"
	"github.com/xiaot623/gogo/dbchat/internal/repository"
	"github.com/xiaot623/gogo/dbchat/internal/tools"
	"github.com/xiaot623/gogo/dbchat/tests/helpers"
)

func newTestService(t *testing.T, gateway llm.Gateway, registry *tools.Registry) (*Service, repository.Store) {
	t.Helper()
	store := helpers.NewTestSQLiteStore(t)

	var runner orchestrator.ToolRunner
	var catalog ToolCatalog
	if registry != nil {
		runner = registry
		catalog = registry
	}
	o := orchestrator.New(store, gateway, runner, orchestrator.Config{})
	return New(store, o, nil, catalog, nil), store
}

func TestCreateSession(t *testing.T) {
	svc, _ := newTestService(t, llm.NewMockGateway(), nil)
	ctx := context.Background()

	generated, err := svc.CreateSession(ctx, domain.CreateSessionRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, generated.SessionID, 36)
	assert.Equal(t, "u1", generated.UserID)

	named, err := svc.CreateSession(ctx, domain.CreateSessionRequest{
		SessionID: "chat-1",
		Metadata:  json.RawMessage(`{"channel":"web"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "chat-1", named.SessionID)

	_, err = svc.CreateSession(ctx, domain.CreateSessionRequest{SessionID: "chat-1"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.CreateSession(ctx, domain.CreateSessionRequest{Metadata: json.RawMessage(`[1,2]`)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	got, err := svc.GetSession(ctx, "chat-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"channel":"web"}`, string(got.Metadata))

	all, err := svc.ListSessions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPostMessageScenarioA(t *testing.T) {
	svc, _ := newTestService(t, llm.NewMockGateway(llm.Generation{Text: "Hello back", FinishReason: llm.FinishStop}), nil)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, domain.CreateSessionRequest{})
	require.NoError(t, err)

	resp, err := svc.PostMessage(ctx, domain.ChatRequest{SessionID: session.SessionID, Message: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, session.SessionID, resp.SessionID)
	assert.Equal(t, "Hello back", resp.Response)
	assert.Equal(t, domain.SenderAssistant, resp.Sender)
	assert.Empty(t, resp.ToolUsed)
	assert.Nil(t, resp.ToolInput)
	assert.False(t, resp.Timestamp.IsZero())

	msgs, err := svc.ListMessages(ctx, session.SessionID, domain.ListOptions{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[0].Payload)
	assert.Equal(t, "Hello back", msgs[1].Payload)
}

func TestPostMessageReportsLastTool(t *testing.T) {
	registry := tools.NewRegistry()
	require.NoError(t, tools.RegisterBuiltins(registry, func() time.Time { return time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC) }))

	gateway := llm.NewMockGateway(
		llm.Generation{
			ToolCalls:    []domain.ToolCall{{Name: tools.CurrentTimeToolName, Arguments: map[string]any{"timezone": "UTC"}}},
			FinishReason: llm.FinishToolCalls,
		},
		llm.Generation{Text: "It is Monday.", FinishReason: llm.FinishStop},
	)
	svc, _ := newTestService(t, gateway, registry)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, domain.CreateSessionRequest{})
	require.NoError(t, err)

	resp, err := svc.PostMessage(ctx, domain.ChatRequest{SessionID: session.SessionID, Message: "What day is it?"})
	require.NoError(t, err)
	assert.Equal(t, "It is Monday.", resp.Response)
	assert.Equal(t, tools.CurrentTimeToolName, resp.ToolUsed)
	assert.Equal(t, map[string]any{"timezone": "UTC"}, resp.ToolInput)

	display, err := svc.ListDisplayMessages(ctx, session.SessionID, domain.ListOptions{})
	require.NoError(t, err)
	require.Len(t, display, 4)
	assert.Equal(t, "[assistant used tool: current_time]", display[1].Content)
	assert.Contains(t, display[2].Content, "Monday")

	assert.Len(t, svc.Tools(), 1)
}

func TestPostMessageValidation(t *testing.T) {
	gateway := llm.NewMockGateway()
	svc, _ := newTestService(t, gateway, nil)
	ctx := context.Background()

	_, err := svc.PostMessage(ctx, domain.ChatRequest{Message: "hi"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.PostMessage(ctx, domain.ChatRequest{SessionID: "s", Message: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.PostMessage(ctx, domain.ChatRequest{SessionID: "missing", Message: "hi"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Zero(t, gateway.Calls())
}

func TestPostMessageSerializesSameSession(t *testing.T) {
	var mu sync.Mutex
	active, peak := 0, 0
	gateway := llm.GatewayFunc(func(ctx context.Context, req llm.Request) llm.Generation {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return llm.Generation{Text: "answer to " + req.Prompt, FinishReason: llm.FinishStop}
	})
	svc, _ := newTestService(t, gateway, nil)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, domain.CreateSessionRequest{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, text := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PostMessage(ctx, domain.ChatRequest{SessionID: session.SessionID, Message: text})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, peak)

	msgs, err := svc.ListMessages(ctx, session.SessionID, domain.ListOptions{})
	require.NoError(t, err)
	require.Len(t, msgs, 8)
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, domain.SenderUser, msgs[i].Sender)
		assert.Equal(t, domain.SenderAssistant, msgs[i+1].Sender)
		assert.Equal(t, "answer to "+msgs[i].Payload, msgs[i+1].Payload)
	}
}

func TestListMessagesValidation(t *testing.T) {
	svc, store := newTestService(t, llm.NewMockGateway(), nil)
	ctx := context.Background()
	helpers.MustCreateSession(t, store, "s1", "")

	_, err := svc.ListMessages(ctx, "s1", domain.ListOptions{Limit: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.ListMessages(ctx, "s1", domain.ListOptions{Order: "sideways"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.ListMessages(ctx, "nope", domain.ListOptions{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteSession(t *testing.T) {
	svc, _ := newTestService(t, llm.NewMockGateway(), nil)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, domain.CreateSessionRequest{})
	require.NoError(t, err)
	_, err = svc.PostMessage(ctx, domain.ChatRequest{SessionID: session.SessionID, Message: "hi"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteSession(ctx, session.SessionID))
	_, err = svc.GetSession(ctx, session.SessionID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, svc.DeleteSession(ctx, session.SessionID), domain.ErrNotFound)
}

func TestUpdateSessionMetadata(t *testing.T) {
	svc, _ := newTestService(t, llm.NewMockGateway(), nil)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, domain.CreateSessionRequest{Metadata: json.RawMessage(`{"a":1}`)})
	require.NoError(t, err)

	updated, err := svc.UpdateSessionMetadata(ctx, session.SessionID, json.RawMessage(`{"b":2}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":2}`, string(updated.Metadata))
}
