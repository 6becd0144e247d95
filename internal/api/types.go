package api

// Request and response types for the MindWeaver session endpoints.

// Turn kinds accepted by the completions endpoint.
const (
	TurnNormal  = "normal"
	TurnExplain = "explain"
	TurnRetry   = "retry"
	TurnToolUse = "tool_use"
)

// ToolUse encodes a tool invocation echoed back to the backend after the
// user's confirmation decision.
type ToolUse struct {
	Name      string            `json:"name"`
	Params    map[string]string `json:"params"`
	Confirmed bool              `json:"confirmed"`
}

// CompletionRequest is the payload for one conversational turn.
type CompletionRequest struct {
	Type         string   `json:"type"`
	Content      string   `json:"content"`
	SessionID    string   `json:"session_id"`
	ProjectPath  string   `json:"project_path"`
	ContextFiles []string `json:"context_files"`
	Model        string   `json:"model"`
	Stream       bool     `json:"stream"`
	ToolUse      *ToolUse `json:"tool_use"`
}

// MessagePayload is one persisted message as returned by the
// non-streaming endpoints.
type MessagePayload struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessageResponse is the non-streaming fallback result: the stored user
// message and the full assistant reply in one shot.
type MessageResponse struct {
	UserMessage *MessagePayload `json:"user_message"`
	AIMessage   *MessagePayload `json:"ai_message"`
}
