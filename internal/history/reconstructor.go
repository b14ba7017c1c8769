// Package history rebuilds a role-alternating model conversation from a
// stored session transcript.
package history

import (
	"log/slog"

	"github.com/xiaot623/gogo/dbchat/internal/domain"
)

// DefaultMaxTurns bounds the number of turns handed to the model.
const DefaultMaxTurns = 20

// Reconstructor turns stored messages into model turns. It is stateless and
// safe for concurrent use.
type Reconstructor struct {
	maxTurns int
	logger   *slog.Logger
}

// New creates a Reconstructor keeping at most maxTurns turns.
// A non-positive maxTurns selects DefaultMaxTurns.
func New(maxTurns int, logger *slog.Logger) *Reconstructor {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconstructor{maxTurns: maxTurns, logger: logger}
}

// Build converts messages, oldest first, into turns. The result never starts
// with a model or tool turn and never holds two adjacent turns of one role.
func (r *Reconstructor) Build(messages []domain.Message) []domain.Turn {
	turns := make([]domain.Turn, 0, len(messages))

	for _, msg := range messages {
		turn, ok := r.classify(msg)
		if !ok {
			continue
		}

		if len(turns) == 0 {
			if turn.Role != domain.RoleUser {
				r.logger.Debug("dropping leading non-user turn",
					"session_id", msg.SessionID, "message_id", msg.MessageID, "role", turn.Role)
				continue
			}
			turns = append(turns, turn)
			continue
		}

		prev := &turns[len(turns)-1]
		if prev.Role != turn.Role {
			turns = append(turns, turn)
			continue
		}

		if turn.Role == domain.RoleModel && prev.IsPureText() && turn.IsPureText() {
			mergeText(prev, turn)
			continue
		}

		r.logger.Warn("dropping turn that breaks role alternation",
			"session_id", msg.SessionID, "message_id", msg.MessageID, "role", turn.Role)
	}

	if len(turns) > r.maxTurns {
		turns = turns[len(turns)-r.maxTurns:]
	}
	for len(turns) > 0 && turns[0].Role != domain.RoleUser {
		turns = turns[1:]
	}
	return turns
}

// classify resolves the role and parts of one stored message.
func (r *Reconstructor) classify(msg domain.Message) (domain.Turn, bool) {
	var role domain.Role
	switch msg.Sender {
	case domain.SenderUser:
		role = domain.RoleUser
	case domain.SenderAssistant:
		role = domain.RoleModel
	case domain.SenderTool:
		role = domain.RoleTool
	default:
		r.logger.Warn("skipping message with unknown sender",
			"session_id", msg.SessionID, "message_id", msg.MessageID, "sender", msg.Sender)
		return domain.Turn{}, false
	}

	payload, err := domain.DecodePayload(msg.Kind, msg.Payload)
	if err != nil {
		r.logger.Warn("treating undecodable payload as text",
			"session_id", msg.SessionID, "message_id", msg.MessageID, "error", err)
		return domain.Turn{Role: role, Parts: []domain.Part{{Text: msg.Payload}}}, true
	}
	if len(payload.Parts) == 0 {
		return domain.Turn{Role: role, Parts: []domain.Part{{Text: payload.Text}}}, true
	}

	// Structured parts decide the role; the last structured part wins.
	for _, p := range payload.Parts {
		switch {
		case p.FunctionCall != nil:
			role = domain.RoleModel
		case p.FunctionResponse != nil:
			role = domain.RoleTool
		}
	}
	return domain.Turn{Role: role, Parts: payload.Parts}, true
}

func mergeText(prev *domain.Turn, next domain.Turn) {
	text := next.Text()
	for i := len(prev.Parts) - 1; i >= 0; i-- {
		if prev.Parts[i].IsText() {
			prev.Parts[i].Text += "\n" + text
			return
		}
	}
	prev.Parts = append(prev.Parts, domain.Part{Text: text})
}
