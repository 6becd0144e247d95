package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/youruser/mindweave/internal/api"
	"github.com/youruser/mindweave/internal/ledger"
	"github.com/youruser/mindweave/internal/protocol"
)

var (
	ErrEmptyMessage = errors.New("message content is empty")
	ErrNoGate       = errors.New("no confirmation gate configured")
)

// Content recorded for the follow-up user turn after a gate decision.
const (
	toolAcceptedNote = "Executing tool action..."
	toolRejectedNote = "Tool action rejected."
)

// Config identifies the backend session one conversation is bound to.
type Config struct {
	SessionID    string
	ProjectPath  string
	Model        string
	Mode         Mode
	ContextFiles []string
}

// Options wires a conversation's collaborators.
type Options struct {
	Transport Transport
	Ledger    *ledger.Ledger
	Config    Config
	Gate      *Gate
	Callbacks Callbacks
	// Preview renders a generated artifact (single-artifact mode and the
	// mid-stream filename side-channel). May be nil.
	Preview func(path string)
}

// Conversation owns all per-conversation protocol state: the ledger, the
// at-most-one active session invariant, and the confirmation workflow.
// There are no package-level singletons; every component receives the
// conversation's handle explicitly.
type Conversation struct {
	transport Transport
	ledger    *ledger.Ledger
	cfg       Config
	gate      *Gate
	callbacks Callbacks
	preview   func(string)

	mu     sync.Mutex
	active *Session
}

// NewConversation builds a conversation controller.
func NewConversation(opts Options) *Conversation {
	return &Conversation{
		transport: opts.Transport,
		ledger:    opts.Ledger,
		cfg:       opts.Config,
		gate:      opts.Gate,
		callbacks: opts.Callbacks,
		preview:   opts.Preview,
	}
}

// Ledger exposes the conversation's message ledger for rendering.
func (c *Conversation) Ledger() *ledger.Ledger {
	return c.ledger
}

// newRequest fills the per-conversation request fields.
func (c *Conversation) newRequest(turnType, content string, tool *api.ToolUse) *api.CompletionRequest {
	return &api.CompletionRequest{
		Type:         turnType,
		Content:      content,
		SessionID:    c.cfg.SessionID,
		ProjectPath:  c.cfg.ProjectPath,
		ContextFiles: c.cfg.ContextFiles,
		Model:        c.cfg.Model,
		ToolUse:      tool,
	}
}

// Send runs one ordinary turn: record the user message, stream the
// assistant reply, and resolve any tool-call handoff.
func (c *Conversation) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}
	return c.userTurn(ctx, api.TurnNormal, content)
}

// Explain runs an explain turn. Content may be empty.
func (c *Conversation) Explain(ctx context.Context, content string) error {
	return c.userTurn(ctx, api.TurnExplain, strings.TrimSpace(content))
}

func (c *Conversation) userTurn(ctx context.Context, turnType, content string) error {
	// A turn issued while another is streaming takes over: the predecessor
	// must be cancelled and awaited before the ledger is touched, or the
	// open-assistant invariant would reject this turn.
	c.interrupt()

	userMsg := c.ledger.AppendUser(content)
	assistant, err := c.ledger.OpenAssistant()
	if err != nil {
		// A racing turn won the slot; drop the just-appended user message
		// so it is not left orphaned.
		_ = c.ledger.Delete(userMsg.ID)
		return err
	}

	log.Debug("turn %s: ~%d prompt tokens of history", turnType, c.ledger.EstimateHistory())

	return c.runTurn(ctx, c.newRequest(turnType, content, nil), assistant, userMsg)
}

// Retry regenerates the most recent assistant message in place. Older
// assistant messages are not eligible.
func (c *Conversation) Retry(ctx context.Context, messageID string) error {
	c.interrupt()

	assistant, err := c.ledger.ResetAssistant(messageID)
	if err != nil {
		return err
	}
	return c.runTurn(ctx, c.newRequest(api.TurnRetry, messageID, nil), assistant, nil)
}

// Cancel aborts the active session, if any. The ledger keeps whatever
// partial content was already committed.
func (c *Conversation) Cancel() {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active != nil {
		active.Cancel()
	}
}

// Active returns the in-flight session, or nil.
func (c *Conversation) Active() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// DeleteMessage removes a message on the backend and mirrors the change
// locally. The sentinel id "0" clears the whole conversation.
func (c *Conversation) DeleteMessage(ctx context.Context, messageID string) error {
	if err := c.transport.DeleteMessage(ctx, c.cfg.SessionID, messageID); err != nil {
		return err
	}
	return c.ledger.Delete(messageID)
}

// ClearMessages removes every message, remotely then locally.
func (c *Conversation) ClearMessages(ctx context.Context) error {
	return c.DeleteMessage(ctx, ledger.ClearAllID)
}

// interrupt cancels the active session, if any, and awaits its terminal
// state. Callers invoke it before mutating the ledger for a new turn, so
// the ledger never has two open assistant messages.
func (c *Conversation) interrupt() {
	c.mu.Lock()
	prev := c.active
	c.active = nil
	c.mu.Unlock()
	if prev != nil {
		prev.Cancel()
		<-prev.Done()
	}
}

// runTurn drives one exchange end to end: stream, fall back to the plain
// endpoint if the stream cannot open, and hand a finalized tool call
// through the gate. The caller has already interrupted any predecessor.
func (c *Conversation) runTurn(ctx context.Context, req *api.CompletionRequest, assistant, userMsg *ledger.Message) error {
	sess := newSession(c.transport, c.ledger, c.cfg.Mode, c.callbacks, c.preview, assistant, userMsg)

	c.mu.Lock()
	c.active = sess
	c.mu.Unlock()

	err := sess.Run(ctx, req)

	c.mu.Lock()
	if c.active == sess {
		c.active = nil
	}
	c.mu.Unlock()

	switch {
	case err == nil:
		return c.resolveToolCall(ctx, sess)
	case errors.Is(err, ErrConnect):
		return c.fallback(ctx, req, assistant, userMsg, err)
	case errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}

// resolveToolCall routes a pending tool call through the confirmation
// gate and issues the follow-up turn encoding the decision.
func (c *Conversation) resolveToolCall(ctx context.Context, sess *Session) error {
	tc := sess.PendingToolCall()
	if tc == nil {
		return nil
	}
	if sess.assistant != nil {
		defer func() { sess.assistant.ToolCallPending = nil }()
	}

	// A follow-up question is answered by the user's next ordinary
	// message; it never passes the gate.
	if tc.Kind == protocol.ToolAskFollowup {
		return nil
	}
	if c.gate == nil {
		return ErrNoGate
	}

	accepted, err := c.gate.Present(ctx, tc)
	if err != nil {
		return err
	}
	if tc.Kind == protocol.ToolAttemptCompletion {
		return nil
	}

	note := toolRejectedNote
	if accepted {
		note = toolAcceptedNote
	}
	tool := &api.ToolUse{Name: tc.Name, Params: tc.Params, Confirmed: accepted}

	// The follow-up response is processed exactly like a normal turn and
	// may itself carry further content or tool calls.
	userMsg := c.ledger.AppendUser(note)
	assistant, err := c.ledger.OpenAssistant()
	if err != nil {
		return err
	}
	return c.runTurn(ctx, c.newRequest(api.TurnToolUse, note, tool), assistant, userMsg)
}

// fallback replays the turn against the non-streaming endpoint after the
// stream could not be opened, populating the ledger identically to a
// completed stream.
func (c *Conversation) fallback(ctx context.Context, req *api.CompletionRequest, assistant, userMsg *ledger.Message, streamErr error) error {
	log.Debug("stream unavailable, using fallback endpoint: %v", streamErr)

	resp, err := c.transport.SendMessage(ctx, req)
	if err != nil {
		if c.callbacks.OnError != nil {
			c.callbacks.OnError(err)
		}
		return err
	}

	if assistant != nil && resp.AIMessage != nil {
		reopened, err := c.ledger.ResetAssistant(assistant.ID)
		if err == nil {
			c.ledger.AppendDelta(resp.AIMessage.Content)
			if resp.AIMessage.ID != "" {
				if rerr := c.ledger.ReconcileID(reopened.ID, resp.AIMessage.ID); rerr != nil {
					log.Error("fallback reconcile: %v", rerr)
				}
			}
			c.ledger.CloseAssistant()
		}
	}
	if userMsg != nil && resp.UserMessage != nil && resp.UserMessage.ID != "" {
		if err := c.ledger.ReconcileID(userMsg.ID, resp.UserMessage.ID); err != nil {
			log.Error("fallback reconcile: %v", err)
		}
	}

	if c.callbacks.OnComplete != nil {
		c.callbacks.OnComplete()
	}
	return nil
}
