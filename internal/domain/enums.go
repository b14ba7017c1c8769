// Package domain defines the core domain models for the chat backend.
package domain

// Sender identifies who wrote a stored message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
	SenderTool      Sender = "tool"
)

// Valid reports whether s is one of the known senders.
func (s Sender) Valid() bool {
	switch s {
	case SenderUser, SenderAssistant, SenderTool:
		return true
	}
	return false
}

// PayloadKind tags the shape of a stored message payload.
// Rows written before kinds existed carry PayloadKindUnknown and are
// classified from their content when history is rebuilt.
type PayloadKind string

const (
	PayloadKindUnknown         PayloadKind = ""
	PayloadKindText            PayloadKind = "text"
	PayloadKindToolCallBatch   PayloadKind = "tool_call_batch"
	PayloadKindToolResultBatch PayloadKind = "tool_result_batch"
)

// Role is the turn role understood by the model.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// SortOrder is the order in which messages are listed.
type SortOrder string

const (
	SortAscending  SortOrder = "asc"
	SortDescending SortOrder = "desc"
)
