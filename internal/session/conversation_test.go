package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/youruser/mindweave/internal/api"
	"github.com/youruser/mindweave/internal/ledger"
)

func newTestConversation(tr Transport, gate *Gate, cb Callbacks) *Conversation {
	return NewConversation(Options{
		Transport: tr,
		Ledger:    ledger.New(),
		Config: Config{
			SessionID:   "s1",
			ProjectPath: "/tmp/project",
			Model:       "gpt-4",
			Mode:        ModeManual,
		},
		Gate:      gate,
		Callbacks: cb,
	})
}

func TestConversationSend(t *testing.T) {
	t.Run("ordinary turn", func(t *testing.T) {
		tr := &fakeTransport{bodies: []*scriptedBody{
			streamOf("data: {\"content\":\"answer\",\"id\":\"a1\",\"user_msg_id\":\"u1\"}\ndata: [DONE]\n"),
		}}
		conv := newTestConversation(tr, nil, Callbacks{})

		if err := conv.Send(context.Background(), "  question  "); err != nil {
			t.Fatalf("Send: %v", err)
		}

		msgs := conv.Ledger().Messages()
		if len(msgs) != 2 {
			t.Fatalf("ledger has %d messages, want 2", len(msgs))
		}
		if msgs[0].Role != ledger.RoleUser || msgs[0].Content != "question" || msgs[0].ID != "u1" {
			t.Errorf("user message = %+v", msgs[0])
		}
		if msgs[1].Role != ledger.RoleAssistant || msgs[1].Content != "answer" || msgs[1].ID != "a1" {
			t.Errorf("assistant message = %+v", msgs[1])
		}

		req := tr.requests[0]
		if req.Type != api.TurnNormal || req.Content != "question" {
			t.Errorf("request = %+v", req)
		}
		if req.SessionID != "s1" || req.Model != "gpt-4" || req.ProjectPath != "/tmp/project" {
			t.Errorf("request config fields = %+v", req)
		}
	})

	t.Run("empty content rejected", func(t *testing.T) {
		conv := newTestConversation(&fakeTransport{}, nil, Callbacks{})
		if err := conv.Send(context.Background(), "   \n\t"); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("err = %v, want ErrEmptyMessage", err)
		}
		if conv.Ledger().Len() != 0 {
			t.Error("rejected send must not touch the ledger")
		}
	})

	t.Run("explain allows empty content", func(t *testing.T) {
		tr := &fakeTransport{bodies: []*scriptedBody{streamOf("data: {\"content\":\"overview\"}\ndata: [DONE]\n")}}
		conv := newTestConversation(tr, nil, Callbacks{})
		if err := conv.Explain(context.Background(), ""); err != nil {
			t.Fatalf("Explain: %v", err)
		}
		if tr.requests[0].Type != api.TurnExplain {
			t.Errorf("type = %q, want explain", tr.requests[0].Type)
		}
	})
}

func TestConversationSendInterruptsActive(t *testing.T) {
	delivered := make(chan struct{})
	holding := &scriptedBody{
		chunks:    []string{"data: {\"content\":\"partial\"}\n"},
		hold:      true,
		delivered: delivered,
	}
	tr := &fakeTransport{bodies: []*scriptedBody{
		holding,
		streamOf("data: {\"content\":\"second answer\"}\ndata: [DONE]\n"),
	}}
	conv := newTestConversation(tr, nil, Callbacks{})

	firstErr := make(chan error, 1)
	go func() { firstErr <- conv.Send(context.Background(), "first") }()
	<-delivered

	// A second turn issued while the first is still streaming must cancel
	// it and proceed, not fail on the open assistant message.
	if err := conv.Send(context.Background(), "second"); err != nil {
		t.Fatalf("second Send: %v", err)
	}

	select {
	case err := <-firstErr:
		if err != nil {
			t.Errorf("first Send err = %v, want nil after cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first Send did not return after being interrupted")
	}

	msgs := conv.Ledger().Messages()
	if len(msgs) != 4 {
		t.Fatalf("ledger has %d messages, want 4", len(msgs))
	}
	if msgs[1].Content != "partial" {
		t.Errorf("interrupted assistant content = %q, want committed deltas kept", msgs[1].Content)
	}
	if msgs[2].Content != "second" || msgs[3].Content != "second answer" {
		t.Errorf("second turn messages = %q, %q", msgs[2].Content, msgs[3].Content)
	}
	if conv.Ledger().Open() != nil {
		t.Error("assistant message left open after interrupting turn completed")
	}
	if conv.Active() != nil {
		t.Error("active session not cleared")
	}
}

func TestConversationRetryInterruptsActive(t *testing.T) {
	delivered := make(chan struct{})
	holding := &scriptedBody{
		chunks:    []string{"data: {\"content\":\"slow\",\"id\":\"a1\"}\n"},
		hold:      true,
		delivered: delivered,
	}
	tr := &fakeTransport{bodies: []*scriptedBody{
		holding,
		streamOf("data: {\"content\":\"regenerated\"}\ndata: [DONE]\n"),
	}}
	conv := newTestConversation(tr, nil, Callbacks{})

	firstErr := make(chan error, 1)
	go func() { firstErr <- conv.Send(context.Background(), "question") }()
	<-delivered

	if err := conv.Retry(context.Background(), "a1"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	select {
	case <-firstErr:
	case <-time.After(2 * time.Second):
		t.Fatal("first Send did not return after being interrupted")
	}

	msgs := conv.Ledger().Messages()
	if len(msgs) != 2 {
		t.Fatalf("ledger has %d messages, want 2 (retry regenerates in place)", len(msgs))
	}
	if msgs[1].Content != "regenerated" {
		t.Errorf("assistant content = %q, want %q", msgs[1].Content, "regenerated")
	}
}

func TestConversationToolHandoff(t *testing.T) {
	toolStream := "data: {\"content\":\"writing\",\"parsed_line\":[{\"type\":\"tool_use\",\"name\":\"write_to_file\",\"params\":{\"path\":\"a.txt\",\"content\":\"x\"},\"partial\":false}]}\ndata: [DONE]\n"

	t.Run("accepted", func(t *testing.T) {
		tr := &fakeTransport{bodies: []*scriptedBody{
			streamOf(toolStream),
			streamOf("data: {\"content\":\"file written\"}\ndata: [DONE]\n"),
		}}
		prompter := &fakePrompter{accept: true}
		conv := newTestConversation(tr, NewGate(prompter, nil), Callbacks{})

		if err := conv.Send(context.Background(), "make a file"); err != nil {
			t.Fatalf("Send: %v", err)
		}
		if len(prompter.calls) != 1 {
			t.Fatalf("prompter invoked %d times, want exactly 1", len(prompter.calls))
		}

		if len(tr.requests) != 2 {
			t.Fatalf("transport saw %d requests, want 2", len(tr.requests))
		}
		follow := tr.requests[1]
		if follow.Type != api.TurnToolUse {
			t.Errorf("follow-up type = %q, want tool_use", follow.Type)
		}
		if follow.ToolUse == nil || !follow.ToolUse.Confirmed || follow.ToolUse.Name != "write_to_file" {
			t.Errorf("follow-up tool use = %+v", follow.ToolUse)
		}
		if follow.ToolUse.Params["path"] != "a.txt" {
			t.Errorf("tool params = %v", follow.ToolUse.Params)
		}

		msgs := conv.Ledger().Messages()
		if len(msgs) != 4 {
			t.Fatalf("ledger has %d messages, want 4", len(msgs))
		}
		if msgs[2].Content != toolAcceptedNote {
			t.Errorf("follow-up note = %q, want accepted note", msgs[2].Content)
		}
		if msgs[3].Content != "file written" {
			t.Errorf("final assistant content = %q", msgs[3].Content)
		}
		if msgs[1].ToolCallPending != nil {
			t.Error("resolved tool call still marked pending on assistant message")
		}
	})

	t.Run("rejected", func(t *testing.T) {
		tr := &fakeTransport{bodies: []*scriptedBody{
			streamOf(toolStream),
			streamOf("data: {\"content\":\"understood\"}\ndata: [DONE]\n"),
		}}
		conv := newTestConversation(tr, NewGate(&fakePrompter{accept: false}, nil), Callbacks{})

		if err := conv.Send(context.Background(), "make a file"); err != nil {
			t.Fatalf("Send: %v", err)
		}
		follow := tr.requests[1]
		if follow.ToolUse == nil || follow.ToolUse.Confirmed {
			t.Errorf("follow-up tool use = %+v, want unconfirmed", follow.ToolUse)
		}
		if got := conv.Ledger().Messages()[2].Content; got != toolRejectedNote {
			t.Errorf("follow-up note = %q, want rejected note", got)
		}
	})

	t.Run("followup question needs no gate round trip", func(t *testing.T) {
		tr := &fakeTransport{bodies: []*scriptedBody{
			streamOf("data: {\"parsed_line\":[{\"type\":\"tool_use\",\"name\":\"ask_followup_question\",\"params\":{\"question\":\"which dir?\"},\"partial\":false}]}\ndata: [DONE]\n"),
		}}
		prompter := &fakePrompter{}
		conv := newTestConversation(tr, NewGate(prompter, nil), Callbacks{})

		if err := conv.Send(context.Background(), "list stuff"); err != nil {
			t.Fatalf("Send: %v", err)
		}
		if len(prompter.calls) != 0 {
			t.Error("followup question must not reach the prompter")
		}
		if len(tr.requests) != 1 {
			t.Errorf("transport saw %d requests, want 1 (no tool_use follow-up)", len(tr.requests))
		}
	})

	t.Run("attempt_completion ends the exchange", func(t *testing.T) {
		tr := &fakeTransport{bodies: []*scriptedBody{
			streamOf("data: {\"parsed_line\":[{\"type\":\"tool_use\",\"name\":\"attempt_completion\",\"params\":{\"result\":\"done\"},\"partial\":false}]}\ndata: [DONE]\n"),
		}}
		notifier := &fakeNotifier{}
		conv := newTestConversation(tr, NewGate(&fakePrompter{}, notifier), Callbacks{})

		if err := conv.Send(context.Background(), "finish up"); err != nil {
			t.Fatalf("Send: %v", err)
		}
		if len(notifier.results) != 1 || notifier.results[0] != "done" {
			t.Errorf("notifier results = %v, want [done]", notifier.results)
		}
		if len(tr.requests) != 1 {
			t.Errorf("transport saw %d requests, want 1", len(tr.requests))
		}
	})

	t.Run("no gate configured", func(t *testing.T) {
		tr := &fakeTransport{bodies: []*scriptedBody{streamOf(toolStream)}}
		conv := newTestConversation(tr, nil, Callbacks{})
		if err := conv.Send(context.Background(), "make a file"); !errors.Is(err, ErrNoGate) {
			t.Errorf("err = %v, want ErrNoGate", err)
		}
	})
}

func TestConversationRetry(t *testing.T) {
	tr := &fakeTransport{bodies: []*scriptedBody{
		streamOf("data: {\"content\":\"first answer\",\"id\":\"a1\"}\ndata: [DONE]\n"),
		streamOf("data: {\"content\":\"better answer\"}\ndata: [DONE]\n"),
	}}
	conv := newTestConversation(tr, nil, Callbacks{})

	if err := conv.Send(context.Background(), "question"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := conv.Retry(context.Background(), "a1"); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	msgs := conv.Ledger().Messages()
	if len(msgs) != 2 {
		t.Fatalf("ledger has %d messages after retry, want 2 (in-place)", len(msgs))
	}
	if msgs[1].Content != "better answer" {
		t.Errorf("assistant content = %q, want regenerated text", msgs[1].Content)
	}

	req := tr.requests[1]
	if req.Type != api.TurnRetry || req.Content != "a1" {
		t.Errorf("retry request = %+v", req)
	}

	t.Run("unknown message", func(t *testing.T) {
		if err := conv.Retry(context.Background(), "nope"); !errors.Is(err, ledger.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestConversationFallback(t *testing.T) {
	t.Run("populates ledger like a completed stream", func(t *testing.T) {
		var completed bool
		tr := &fakeTransport{
			streamErr: errors.New("connection refused"),
			sendResp: &api.MessageResponse{
				UserMessage: &api.MessagePayload{ID: "u9", Role: "user", Content: "question"},
				AIMessage:   &api.MessagePayload{ID: "a9", Role: "assistant", Content: "fallback answer"},
			},
		}
		conv := newTestConversation(tr, nil, Callbacks{OnComplete: func() { completed = true }})

		if err := conv.Send(context.Background(), "question"); err != nil {
			t.Fatalf("Send: %v", err)
		}

		msgs := conv.Ledger().Messages()
		if len(msgs) != 2 {
			t.Fatalf("ledger has %d messages, want 2", len(msgs))
		}
		if msgs[0].ID != "u9" {
			t.Errorf("user id = %q, want reconciled u9", msgs[0].ID)
		}
		if msgs[1].ID != "a9" || msgs[1].Content != "fallback answer" {
			t.Errorf("assistant message = %+v", msgs[1])
		}
		if conv.Ledger().Open() != nil {
			t.Error("assistant message left open after fallback")
		}
		if !completed {
			t.Error("OnComplete not invoked after successful fallback")
		}
		// One failed stream attempt plus one message call.
		if len(tr.requests) != 2 {
			t.Errorf("transport saw %d requests, want 2", len(tr.requests))
		}
	})

	t.Run("fallback failure surfaces error", func(t *testing.T) {
		wantErr := errors.New("backend down")
		var gotErr error
		tr := &fakeTransport{streamErr: errors.New("connection refused"), sendErr: wantErr}
		conv := newTestConversation(tr, nil, Callbacks{OnError: func(err error) { gotErr = err }})

		if err := conv.Send(context.Background(), "question"); !errors.Is(err, wantErr) {
			t.Errorf("err = %v, want %v", err, wantErr)
		}
		if !errors.Is(gotErr, wantErr) {
			t.Errorf("OnError got %v, want %v", gotErr, wantErr)
		}
	})
}

func TestConversationDelete(t *testing.T) {
	t.Run("single message", func(t *testing.T) {
		tr := &fakeTransport{bodies: []*scriptedBody{
			streamOf("data: {\"content\":\"a\",\"id\":\"a1\",\"user_msg_id\":\"u1\"}\ndata: [DONE]\n"),
		}}
		conv := newTestConversation(tr, nil, Callbacks{})
		if err := conv.Send(context.Background(), "q"); err != nil {
			t.Fatalf("Send: %v", err)
		}

		if err := conv.DeleteMessage(context.Background(), "a1"); err != nil {
			t.Fatalf("DeleteMessage: %v", err)
		}
		if len(tr.deleted) != 1 || tr.deleted[0] != "a1" {
			t.Errorf("backend deletions = %v, want [a1]", tr.deleted)
		}
		if conv.Ledger().Len() != 1 {
			t.Errorf("ledger len = %d, want 1", conv.Ledger().Len())
		}
	})

	t.Run("clear all", func(t *testing.T) {
		tr := &fakeTransport{bodies: []*scriptedBody{
			streamOf("data: {\"content\":\"a\"}\ndata: [DONE]\n"),
		}}
		conv := newTestConversation(tr, nil, Callbacks{})
		if err := conv.Send(context.Background(), "q"); err != nil {
			t.Fatalf("Send: %v", err)
		}

		if err := conv.ClearMessages(context.Background()); err != nil {
			t.Fatalf("ClearMessages: %v", err)
		}
		if len(tr.deleted) != 1 || tr.deleted[0] != ledger.ClearAllID {
			t.Errorf("backend deletions = %v, want sentinel", tr.deleted)
		}
		if conv.Ledger().Len() != 0 {
			t.Errorf("ledger len = %d, want 0", conv.Ledger().Len())
		}
	})
}
