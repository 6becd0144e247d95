package session

import (
	"context"

	"github.com/youruser/mindweave/internal/protocol"
)

// Prompter obtains the user's decision on a pending tool call. Blocking
// here is the human-in-the-loop suspension point; ordinary message
// sending stays available while a decision is pending.
type Prompter interface {
	Confirm(ctx context.Context, tc *protocol.ToolCall) (bool, error)
}

// Notifier receives the completion note when the model declares the task
// finished. Optional.
type Notifier interface {
	TaskCompleted(result string)
}

// Gate suspends tool execution until the user accepts or rejects.
type Gate struct {
	prompter Prompter
	notifier Notifier
}

// NewGate builds a gate around a prompter. notifier may be nil.
func NewGate(prompter Prompter, notifier Notifier) *Gate {
	return &Gate{prompter: prompter, notifier: notifier}
}

// Present shows one tool call to the user and returns the decision.
//
// attempt_completion is never confirmed interactively: the task-finished
// note is surfaced and the call resolves to false (nothing to execute).
// ask_followup_question is only ever answered by the user's next
// ordinary message, so it resolves to false without prompting as well;
// callers normally bypass the gate for it entirely.
func (g *Gate) Present(ctx context.Context, tc *protocol.ToolCall) (bool, error) {
	switch tc.Kind {
	case protocol.ToolAttemptCompletion:
		if g.notifier != nil {
			g.notifier.TaskCompleted(tc.Param("result"))
		}
		return false, nil
	case protocol.ToolAskFollowup:
		return false, nil
	default:
		return g.prompter.Confirm(ctx, tc)
	}
}
