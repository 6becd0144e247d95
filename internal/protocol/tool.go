package protocol

import "strings"

// ToolKind is the closed set of actions the model can request. Unknown
// names map to ToolUnknown so new backend tools degrade gracefully.
type ToolKind int

const (
	ToolUnknown ToolKind = iota
	ToolWriteFile
	ToolReadFile
	ToolDeleteFile
	ToolExecuteCommand
	ToolInsertContent
	ToolListFiles
	ToolSearchFiles
	ToolListDefinitions
	ToolAskFollowup
	ToolAttemptCompletion
)

// nodeTypeToolUse marks a structured node as a tool invocation.
const nodeTypeToolUse = "tool_use"

var toolKindNames = map[string]ToolKind{
	"write_to_file":              ToolWriteFile,
	"read_file":                  ToolReadFile,
	"delete_file":                ToolDeleteFile,
	"execute_command":            ToolExecuteCommand,
	"insert_content":             ToolInsertContent,
	"list_files":                 ToolListFiles,
	"search_files":               ToolSearchFiles,
	"list_code_definition_names": ToolListDefinitions,
	"ask_followup_question":      ToolAskFollowup,
	"attempt_completion":         ToolAttemptCompletion,
}

// ParseToolKind maps a wire-format tool name to its kind.
func ParseToolKind(name string) ToolKind {
	if k, ok := toolKindNames[name]; ok {
		return k
	}
	return ToolUnknown
}

// String returns the wire-format name for the kind, or "unknown".
func (k ToolKind) String() string {
	for name, kind := range toolKindNames {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// ToolCall is one structured action request embedded in assistant output.
type ToolCall struct {
	Kind   ToolKind
	Name   string
	Params map[string]string
}

// Param returns a named parameter, or "" if absent.
func (tc *ToolCall) Param(key string) string {
	if tc.Params == nil {
		return ""
	}
	return tc.Params[key]
}

// PreviewPath returns the HTML artifact path referenced by the call, if
// any. Write-style tools reference it through params.path; a completion
// attempt may reference it through params.result.
func (tc *ToolCall) PreviewPath() string {
	if p := tc.Param("path"); strings.HasSuffix(p, ".html") {
		return p
	}
	if tc.Kind == ToolAttemptCompletion {
		if r := tc.Param("result"); strings.HasSuffix(r, ".html") {
			return r
		}
	}
	return ""
}

// ToolCallDetector scans structured nodes arriving across events for the
// first completed tool invocation. At most one tool call is surfaced per
// stream; later completed nodes are ignored.
type ToolCallDetector struct {
	found    *ToolCall
	consumed bool
}

// Observe scans the nodes of one event. It returns the tool call exactly
// once, on the event where it first completes; all other calls return nil.
func (d *ToolCallDetector) Observe(nodes []Node) *ToolCall {
	if d.found != nil {
		return nil
	}
	for i := range nodes {
		n := &nodes[i]
		if n.Type != nodeTypeToolUse || n.Partial {
			continue
		}
		d.found = &ToolCall{
			Kind:   ParseToolKind(n.Name),
			Name:   n.Name,
			Params: n.Params,
		}
		return d.found
	}
	return nil
}

// Pending returns the detected tool call, or nil once consumed.
func (d *ToolCallDetector) Pending() *ToolCall {
	if d.consumed {
		return nil
	}
	return d.found
}

// Consume marks the pending tool call handled so it is never re-surfaced,
// while still blocking detection of any later completed node in the stream.
func (d *ToolCallDetector) Consume() {
	d.consumed = true
}
