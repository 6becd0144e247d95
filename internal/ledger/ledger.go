package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/youruser/mindweave/internal/logging"
)

// Sentinel errors for ledger protocol violations. These are recoverable
// and surfaced to the caller, never silently ignored.
var (
	ErrAssistantOpen    = errors.New("an assistant message is already open")
	ErrNotFound         = errors.New("message not found")
	ErrIDConflict       = errors.New("server id already set")
	ErrNotLastAssistant = errors.New("only the most recent assistant message can be retried")
)

var log = logging.Get()

// Ledger is the authoritative, insertion-ordered record of one
// conversation's messages. At most one assistant message is open (still
// receiving deltas) at any time. The ledger is not safe for concurrent
// use; the session model guarantees single-threaded mutation.
type Ledger struct {
	messages []*Message
	openIdx  int // index of the open assistant message, -1 if none
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{openIdx: -1}
}

// localID creates an ephemeral id used until the server assigns one.
func localID() string {
	return "local-" + uuid.NewString()
}

// AppendUser creates and returns a new immutable user message with a
// temporary local id.
func (l *Ledger) AppendUser(content string) *Message {
	id := localID()
	msg := &Message{
		ID:        id,
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		localID:   id,
	}
	l.messages = append(l.messages, msg)
	return msg
}

// OpenAssistant creates the single open assistant message. Returns
// ErrAssistantOpen if one is already open.
func (l *Ledger) OpenAssistant() (*Message, error) {
	if l.openIdx >= 0 {
		return nil, ErrAssistantOpen
	}
	id := localID()
	msg := &Message{
		ID:        id,
		Role:      RoleAssistant,
		CreatedAt: time.Now().UTC(),
		localID:   id,
	}
	l.messages = append(l.messages, msg)
	l.openIdx = len(l.messages) - 1
	return msg, nil
}

// AppendDelta appends text to the open assistant message. No-op when no
// assistant message is open.
func (l *Ledger) AppendDelta(text string) {
	if l.openIdx < 0 || text == "" {
		return
	}
	l.messages[l.openIdx].Content += text
}

// ReconcileID replaces a temporary local id with the server-confirmed id.
// Idempotent: reconciling again with the same server id is a no-op.
// A different server id after the first is rejected (set-once).
func (l *Ledger) ReconcileID(localID, serverID string) error {
	if serverID == "" {
		return nil
	}
	for _, msg := range l.messages {
		if msg.ID != localID && msg.localID != localID {
			continue
		}
		if msg.reconciled {
			if msg.ID == serverID {
				return nil
			}
			return fmt.Errorf("%w: %s has %s, got %s", ErrIDConflict, localID, msg.ID, serverID)
		}
		log.Debug("reconciling message id %s -> %s", msg.ID, serverID)
		msg.ID = serverID
		msg.reconciled = true
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotFound, localID)
}

// CloseAssistant marks the open assistant message closed. Idempotent.
func (l *Ledger) CloseAssistant() {
	l.openIdx = -1
}

// Open returns the currently open assistant message, or nil.
func (l *Ledger) Open() *Message {
	if l.openIdx < 0 {
		return nil
	}
	return l.messages[l.openIdx]
}

// ResetAssistant clears a closed assistant message's content and reopens
// it for re-streaming. Used by retry, which regenerates in place.
func (l *Ledger) ResetAssistant(id string) (*Message, error) {
	msg, err := l.RetryTarget(id)
	if err != nil {
		return nil, err
	}
	if l.openIdx >= 0 {
		return nil, ErrAssistantOpen
	}
	msg.Content = ""
	msg.ToolCallPending = nil
	for i, m := range l.messages {
		if m == msg {
			l.openIdx = i
			break
		}
	}
	return msg, nil
}

// Delete removes a message by id. The sentinel id "0" clears the entire
// ledger. Deleting an unknown id returns ErrNotFound.
func (l *Ledger) Delete(id string) error {
	if id == ClearAllID {
		l.messages = nil
		l.openIdx = -1
		return nil
	}
	for i, msg := range l.messages {
		if msg.ID != id {
			continue
		}
		l.messages = append(l.messages[:i], l.messages[i+1:]...)
		switch {
		case l.openIdx == i:
			l.openIdx = -1
		case l.openIdx > i:
			l.openIdx--
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// RetryTarget returns the assistant message eligible for regeneration.
// Only the most recent assistant message qualifies.
func (l *Ledger) RetryTarget(id string) (*Message, error) {
	last := l.lastAssistant()
	if last == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if last.ID != id {
		for _, msg := range l.messages {
			if msg.ID == id && msg.Role == RoleAssistant {
				return nil, ErrNotLastAssistant
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return last, nil
}

// IsLastAssistant reports whether id names the most recent assistant
// message. Pure derivation for UI retry affordances.
func (l *Ledger) IsLastAssistant(id string) bool {
	last := l.lastAssistant()
	return last != nil && last.ID == id
}

func (l *Ledger) lastAssistant() *Message {
	for i := len(l.messages) - 1; i >= 0; i-- {
		if l.messages[i].Role == RoleAssistant {
			return l.messages[i]
		}
	}
	return nil
}

// LastUser returns the most recent user message, or nil.
func (l *Ledger) LastUser() *Message {
	for i := len(l.messages) - 1; i >= 0; i-- {
		if l.messages[i].Role == RoleUser {
			return l.messages[i]
		}
	}
	return nil
}

// Messages returns the messages in insertion order. The slice is a copy;
// the message pointers are shared.
func (l *Ledger) Messages() []*Message {
	out := make([]*Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages.
func (l *Ledger) Len() int {
	return len(l.messages)
}
