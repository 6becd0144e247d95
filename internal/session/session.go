package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/youruser/mindweave/internal/api"
	"github.com/youruser/mindweave/internal/ledger"
	"github.com/youruser/mindweave/internal/logging"
	"github.com/youruser/mindweave/internal/protocol"
)

var log = logging.Get()

// ErrConnect marks a transport failure before any stream bytes arrived.
// The conversation falls back to the non-streaming endpoint on it.
var ErrConnect = errors.New("stream connect failed")

// Transport is the external collaborator that talks to the backend.
// *api.Client satisfies it.
type Transport interface {
	StreamCompletion(ctx context.Context, req *api.CompletionRequest) (io.ReadCloser, error)
	SendMessage(ctx context.Context, req *api.CompletionRequest) (*api.MessageResponse, error)
	DeleteMessage(ctx context.Context, sessionID, messageID string) error
}

// Mode is the session's conversation mode. ModeSingleArtifact replaces
// the tool confirmation workflow with an artifact preview.
type Mode string

const (
	ModeManual         Mode = "manual"
	ModeAuto           Mode = "auto"
	ModeAll            Mode = "all"
	ModeSingleArtifact Mode = "single-html"
)

// State is the lifecycle of one streaming exchange.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateCompleting
	StateCompleted
	StateErrored
	StateCancelled
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateConnecting: "connecting",
	StateStreaming:  "streaming",
	StateCompleting: "completing",
	StateCompleted:  "completed",
	StateErrored:    "errored",
	StateCancelled:  "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// terminal reports whether no further transition is allowed from s.
func (s State) terminal() bool {
	return s == StateCompleted || s == StateErrored || s == StateCancelled
}

// Callbacks notify the UI layer. The UI owns no protocol state; it
// renders the ledger reactively on these signals.
type Callbacks struct {
	OnEvent    func(ev *protocol.StreamEvent)
	OnComplete func()
	OnError    func(err error)
}

// Session drives one request/response exchange: it owns the cancellable
// transport handle, feeds bytes through the frame decoder and event
// parser, updates the ledger, and settles on exactly one terminal state.
// All ledger mutation happens on the goroutine running Run; Cancel may
// be called from anywhere.
type Session struct {
	transport Transport
	ledger    *ledger.Ledger
	mode      Mode
	callbacks Callbacks
	preview   func(path string)

	decoder  protocol.FrameDecoder
	detector protocol.ToolCallDetector

	accumulated strings.Builder
	assistant   *ledger.Message
	userMsg     *ledger.Message

	userIDApplied bool
	pendingUserID string

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	toolCall *protocol.ToolCall
}

// newSession wires a session around an already-open assistant message.
// userMsg may be nil (retry and tool_use turns have no fresh user turn).
func newSession(t Transport, l *ledger.Ledger, mode Mode, cb Callbacks, preview func(string), assistant, userMsg *ledger.Message) *Session {
	return &Session{
		transport: t,
		ledger:    l,
		mode:      mode,
		callbacks: cb,
		preview:   preview,
		assistant: assistant,
		userMsg:   userMsg,
		state:     StateIdle,
		done:      make(chan struct{}),
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Accumulated returns the concatenation of content deltas received so far.
func (s *Session) Accumulated() string {
	return s.accumulated.String()
}

// PendingToolCall returns the finalized tool call awaiting confirmation,
// or nil.
func (s *Session) PendingToolCall() *protocol.ToolCall {
	return s.toolCall
}

// Cancel cooperatively aborts the exchange. Safe to call at any time and
// from any goroutine; a cancellation racing natural completion loses and
// becomes a no-op.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// transition moves to next unless a terminal state was already reached.
// Returns false when the session has already terminated; the losing
// transition of a completion/cancellation race lands here.
func (s *Session) transition(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.terminal() {
		return false
	}
	log.Debug("session state %s -> %s", s.state, next)
	s.state = next
	return true
}

// Run executes the exchange to its terminal state. It returns the error
// that drove an Errored outcome, ErrConnect (wrapped) when the stream
// could not be opened, context.Canceled after cancellation, and nil on
// completion.
func (s *Session) Run(ctx context.Context, req *api.CompletionRequest) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer close(s.done)

	s.transition(StateConnecting)

	body, err := s.transport.StreamCompletion(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return s.finishCancelled()
		}
		return s.fail(fmt.Errorf("%w: %v", ErrConnect, err))
	}
	defer body.Close()

	s.transition(StateStreaming)

	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, line := range s.decoder.Feed(buf[:n]) {
				if s.handleLine(line) {
					return s.complete()
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return s.finishCancelled()
			}
			return s.fail(readErr)
		}
		select {
		case <-ctx.Done():
			return s.finishCancelled()
		default:
		}
	}

	// Natural end of stream without [DONE]. Some servers omit the final
	// newline; try the leftover fragment as one last payload.
	if frag := s.decoder.Flush(); frag != "" {
		s.handleFragment(frag)
	}
	return s.complete()
}

// handleLine parses one complete line and applies its event. Returns
// true on the terminal marker.
func (s *Session) handleLine(line string) bool {
	ev, done, err := protocol.ParseLine(line)
	if err != nil {
		// A bad frame never aborts the session.
		log.Debug("skipping malformed frame: %v", err)
		return false
	}
	if done {
		return true
	}
	if ev != nil {
		s.handleEvent(ev)
	}
	return false
}

// handleFragment applies a trailing undelimited fragment. Parse failure
// discards it; this is recoverable, not fatal.
func (s *Session) handleFragment(frag string) {
	ev, done, err := protocol.ParseFragment(frag)
	if err != nil {
		log.Debug("discarding trailing fragment: %v", err)
		return
	}
	if done || ev == nil {
		return
	}
	s.handleEvent(ev)
}

// handleEvent applies one parsed event to the ledger and detector and
// notifies the UI. Events are processed strictly in arrival order.
func (s *Session) handleEvent(ev *protocol.StreamEvent) {
	if s.callbacks.OnEvent != nil {
		s.callbacks.OnEvent(ev)
	}

	if ev.Content != "" {
		s.accumulated.WriteString(ev.Content)
		s.ledger.AppendDelta(ev.Content)
	}

	if ev.ID != "" && s.assistant != nil {
		if err := s.ledger.ReconcileID(s.assistant.ID, ev.ID); err != nil {
			s.surfaceViolation(err)
		}
	}

	if ev.UserMsgID != "" {
		if s.userIDApplied {
			// Processed at most once per session; later occurrences are
			// ignored.
			log.Debug("ignoring repeated user_msg_id %s", ev.UserMsgID)
		} else {
			s.pendingUserID = ev.UserMsgID
			s.applyUserID()
		}
	}

	if len(ev.Nodes) > 0 {
		if tc := s.detector.Observe(ev.Nodes); tc != nil {
			log.Debug("tool call finalized: %s", tc.Name)
		}
	}

	if ev.Error != "" {
		// Server-side errors mid-stream do not terminate the exchange;
		// the server may still send a terminal marker afterward.
		log.Error("server error event: %s", ev.Error)
	}

	if ev.Filename != "" && s.preview != nil {
		s.preview(ev.Filename)
	}
}

// applyUserID reconciles the most recent user message once.
func (s *Session) applyUserID() {
	if s.userIDApplied || s.pendingUserID == "" || s.userMsg == nil {
		return
	}
	if err := s.ledger.ReconcileID(s.userMsg.ID, s.pendingUserID); err != nil {
		s.surfaceViolation(err)
		return
	}
	s.userIDApplied = true
}

// surfaceViolation reports a ledger protocol violation to the UI without
// terminating the stream.
func (s *Session) surfaceViolation(err error) {
	log.Error("ledger violation: %v", err)
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(err)
	}
}

// complete finalizes a successful exchange: close the assistant message,
// run the detector's final check, resolve the tool-call handoff, and
// transition to Completed. Idempotent; a second terminal marker or a
// racing cancellation is a no-op.
func (s *Session) complete() error {
	if !s.transition(StateCompleting) {
		return nil
	}

	// A user id seen mid-stream but not yet applied lands here.
	s.applyUserID()

	s.ledger.CloseAssistant()

	if tc := s.detector.Pending(); tc != nil {
		if s.mode == ModeSingleArtifact {
			// Restricted mode: preview the artifact instead of gating,
			// then treat the call as consumed.
			if path := tc.PreviewPath(); path != "" && s.preview != nil {
				s.preview(path)
			} else {
				log.Debug("no previewable artifact in tool call %s", tc.Name)
			}
			s.detector.Consume()
		} else {
			s.toolCall = tc
			if s.assistant != nil {
				s.assistant.ToolCallPending = tc
			}
		}
	}

	s.transition(StateCompleted)
	if s.callbacks.OnComplete != nil {
		s.callbacks.OnComplete()
	}
	return nil
}

// fail terminates the exchange with a transport error. Idempotent.
// Connect-phase failures are returned without notifying the UI: the
// conversation may still recover through the non-streaming fallback and
// reports the error itself if that fails too.
func (s *Session) fail(err error) error {
	if !s.transition(StateErrored) {
		return nil
	}
	s.ledger.CloseAssistant()
	if !errors.Is(err, ErrConnect) && s.callbacks.OnError != nil {
		s.callbacks.OnError(err)
	}
	return err
}

// finishCancelled terminates after user cancellation: buffered bytes are
// discarded, committed partial content stays in the ledger (no rollback,
// so the user can retry from where the model left off).
func (s *Session) finishCancelled() error {
	if !s.transition(StateCancelled) {
		return nil
	}
	s.decoder.Reset()
	s.ledger.CloseAssistant()
	return context.Canceled
}
