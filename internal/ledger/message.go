package ledger

import (
	"time"

	"github.com/youruser/mindweave/internal/protocol"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ClearAllID is the sentinel message id that clears the entire ledger.
const ClearAllID = "0"

// Message is one conversational turn. User messages are immutable after
// creation; the open assistant message mutates in place while streaming.
type Message struct {
	ID              string             `json:"id"`
	Role            Role               `json:"role"`
	Content         string             `json:"content"`
	CreatedAt       time.Time          `json:"created_at"`
	ToolCallPending *protocol.ToolCall `json:"tool_call_pending,omitempty"`

	// localID keeps the ephemeral pre-reconciliation id so a second
	// reconcile attempt can still locate the message.
	localID    string
	reconciled bool
}

// Reconciled reports whether the message carries its server-assigned id.
func (m *Message) Reconciled() bool {
	return m.reconciled
}
