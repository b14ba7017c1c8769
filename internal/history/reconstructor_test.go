package history

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/gogo/dbchat/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func text(sender domain.Sender, body string) domain.Message {
	return domain.Message{Sender: sender, Kind: domain.PayloadKindText, Payload: body}
}

func legacy(sender domain.Sender, body string) domain.Message {
	return domain.Message{Sender: sender, Payload: body}
}

func encoded(t *testing.T, sender domain.Sender, p domain.Payload) domain.Message {
	t.Helper()
	body, err := p.Encode()
	require.NoError(t, err)
	return domain.Message{Sender: sender, Kind: p.Kind, Payload: body}
}

func roles(turns []domain.Turn) []domain.Role {
	out := make([]domain.Role, len(turns))
	for i, turn := range turns {
		out[i] = turn.Role
	}
	return out
}

func TestBuildSimpleExchange(t *testing.T) {
	r := New(0, quietLogger())

	turns := r.Build([]domain.Message{
		text(domain.SenderUser, "hi"),
		text(domain.SenderAssistant, "hello"),
		text(domain.SenderUser, "how many orders?"),
	})

	assert.Equal(t, []domain.Role{domain.RoleUser, domain.RoleModel, domain.RoleUser}, roles(turns))
	assert.Equal(t, "hello", turns[1].Text())
}

func TestBuildToolRoundTrip(t *testing.T) {
	r := New(0, quietLogger())
	calls := domain.ToolCallBatch([]domain.ToolCall{{ID: "c1", Name: "sql_query", Arguments: map[string]any{"query": "SELECT 1"}}})
	results := domain.ToolResultBatch([]domain.ToolResult{{ID: "c1", Name: "sql_query", Response: []byte(`{"success":true}`)}})

	turns := r.Build([]domain.Message{
		text(domain.SenderUser, "count"),
		encoded(t, domain.SenderAssistant, calls),
		encoded(t, domain.SenderTool, results),
		text(domain.SenderAssistant, "there is 1"),
	})

	require.Equal(t, []domain.Role{domain.RoleUser, domain.RoleModel, domain.RoleTool, domain.RoleModel}, roles(turns))
	assert.Equal(t, "sql_query", turns[1].ToolCalls()[0].Name)
	assert.Equal(t, "c1", turns[2].ToolResults()[0].ID)
}

func TestBuildResultsStoredUnderAssistantBecomeToolTurn(t *testing.T) {
	r := New(0, quietLogger())

	turns := r.Build([]domain.Message{
		text(domain.SenderUser, "count"),
		legacy(domain.SenderAssistant, `[{"function_call":{"name":"sql_query","args":{"query":"SELECT 1"}}}]`),
		legacy(domain.SenderAssistant, `[{"function_response":{"name":"sql_query","response":{"content":"1"}}}]`),
		text(domain.SenderAssistant, "one"),
	})

	assert.Equal(t, []domain.Role{domain.RoleUser, domain.RoleModel, domain.RoleTool, domain.RoleModel}, roles(turns))
}

func TestBuildLegacyPlainTextStaysText(t *testing.T) {
	r := New(0, quietLogger())

	turns := r.Build([]domain.Message{
		legacy(domain.SenderUser, `{"not":"a record"}`),
		legacy(domain.SenderAssistant, "ok"),
	})

	require.Len(t, turns, 2)
	assert.Equal(t, `{"not":"a record"}`, turns[0].Text())
}

func TestBuildDropsLeadingNonUserTurns(t *testing.T) {
	r := New(0, quietLogger())

	turns := r.Build([]domain.Message{
		text(domain.SenderAssistant, "welcome"),
		legacy(domain.SenderTool, `[{"function_response":{"name":"x","response":{}}}]`),
		text(domain.SenderUser, "hi"),
	})

	assert.Equal(t, []domain.Role{domain.RoleUser}, roles(turns))
}

func TestBuildMergesConsecutiveModelText(t *testing.T) {
	r := New(0, quietLogger())

	turns := r.Build([]domain.Message{
		text(domain.SenderUser, "hi"),
		text(domain.SenderAssistant, "first"),
		text(domain.SenderAssistant, "second"),
	})

	require.Len(t, turns, 2)
	assert.Equal(t, "first\nsecond", turns[1].Text())
	assert.Len(t, turns[1].Parts, 1)
}

func TestBuildDropsConsecutiveUserTurns(t *testing.T) {
	r := New(0, quietLogger())

	turns := r.Build([]domain.Message{
		text(domain.SenderUser, "first"),
		text(domain.SenderUser, "second"),
		text(domain.SenderAssistant, "answer"),
	})

	require.Equal(t, []domain.Role{domain.RoleUser, domain.RoleModel}, roles(turns))
	assert.Equal(t, "first", turns[0].Text())
}

func TestBuildDropsModelCallAfterModelText(t *testing.T) {
	r := New(0, quietLogger())
	calls := domain.ToolCallBatch([]domain.ToolCall{{Name: "sql_query"}})

	turns := r.Build([]domain.Message{
		text(domain.SenderUser, "hi"),
		text(domain.SenderAssistant, "let me check"),
		encoded(t, domain.SenderAssistant, calls),
	})

	require.Equal(t, []domain.Role{domain.RoleUser, domain.RoleModel}, roles(turns))
	assert.True(t, turns[1].IsPureText())
}

func TestBuildCorruptTaggedBatchFallsBackToText(t *testing.T) {
	r := New(0, quietLogger())

	turns := r.Build([]domain.Message{
		text(domain.SenderUser, "hi"),
		{Sender: domain.SenderAssistant, Kind: domain.PayloadKindToolCallBatch, Payload: "{broken"},
	})

	require.Len(t, turns, 2)
	assert.Equal(t, domain.RoleModel, turns[1].Role)
	assert.Equal(t, "{broken", turns[1].Text())
}

func TestBuildTruncatesToMostRecentTurns(t *testing.T) {
	r := New(4, quietLogger())

	var msgs []domain.Message
	for i := 0; i < 5; i++ {
		msgs = append(msgs, text(domain.SenderUser, fmt.Sprintf("q%d", i)), text(domain.SenderAssistant, fmt.Sprintf("a%d", i)))
	}

	turns := r.Build(msgs)
	// The last four turns are q3 a3 q4 a4.
	require.Len(t, turns, 4)
	assert.Equal(t, "q3", turns[0].Text())
	assert.Equal(t, "a4", turns[3].Text())
}

func TestBuildTruncationNeverStartsWithModel(t *testing.T) {
	r := New(3, quietLogger())

	turns := r.Build([]domain.Message{
		text(domain.SenderUser, "q0"),
		text(domain.SenderAssistant, "a0"),
		text(domain.SenderUser, "q1"),
		text(domain.SenderAssistant, "a1"),
	})

	require.NotEmpty(t, turns)
	assert.Equal(t, domain.RoleUser, turns[0].Role)
	assert.Equal(t, "q1", turns[0].Text())
}

func TestBuildEmptyInput(t *testing.T) {
	r := New(0, quietLogger())
	assert.Empty(t, r.Build(nil))
}

// randomMessage produces stored messages of every shape the store can hold,
// including legacy rows and garbage.
func randomMessage(rng *rand.Rand) domain.Message {
	senders := []domain.Sender{domain.SenderUser, domain.SenderAssistant, domain.SenderTool}
	sender := senders[rng.Intn(len(senders))]

	switch rng.Intn(7) {
	case 0:
		return domain.Message{Sender: sender, Kind: domain.PayloadKindText, Payload: "text"}
	case 1:
		body, _ := domain.ToolCallBatch([]domain.ToolCall{{Name: "t"}}).Encode()
		return domain.Message{Sender: sender, Kind: domain.PayloadKindToolCallBatch, Payload: body}
	case 2:
		body, _ := domain.ToolResultBatch([]domain.ToolResult{{Name: "t", Response: []byte(`{}`)}}).Encode()
		return domain.Message{Sender: sender, Kind: domain.PayloadKindToolResultBatch, Payload: body}
	case 3:
		return domain.Message{Sender: sender, Payload: `["x", {"function_call":{"name":"t","args":{}}}, {"function_response":{"name":"t","response":{}}}]`}
	case 4:
		return domain.Message{Sender: sender, Payload: `{"function_response":{"name":"t","response":{}}}`}
	case 5:
		return domain.Message{Sender: sender, Kind: domain.PayloadKindToolCallBatch, Payload: "garbage"}
	default:
		return domain.Message{Sender: sender, Payload: "plain legacy text"}
	}
}

func TestBuildAlternationInvariantHoldsForRandomTranscripts(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 500; iter++ {
		n := rng.Intn(40)
		msgs := make([]domain.Message, n)
		for i := range msgs {
			msgs[i] = randomMessage(rng)
		}

		r := New(1+rng.Intn(25), quietLogger())
		turns := r.Build(msgs)

		if len(turns) == 0 {
			continue
		}
		require.Equal(t, domain.RoleUser, turns[0].Role, "iteration %d starts with %s", iter, turns[0].Role)
		for i := 1; i < len(turns); i++ {
			require.NotEqual(t, turns[i-1].Role, turns[i].Role, "iteration %d has repeated role at %d", iter, i)
		}
	}
}
