package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

// Wire format: UTF-8 text, newline-delimited frames. A frame is a protocol
// event only if it begins with the "data: " prefix; the remainder is JSON.
// A payload beginning with "[DONE]" ends the stream.
const (
	framePrefix = "data: "
	doneToken   = "[DONE]"
)

// ErrMalformedFrame reports a data frame whose payload is not valid JSON.
// Callers log and skip; a bad frame never aborts the stream.
var ErrMalformedFrame = errors.New("malformed frame payload")

// Node is one structured content fragment delivered inside an event.
// A node with Type "tool_use" carries a tool invocation; it is actionable
// only once Partial is false.
type Node struct {
	Type    string            `json:"type"`
	Name    string            `json:"name,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
	Partial bool              `json:"partial,omitempty"`
}

// StreamEvent is one parsed protocol event. Multiple fields may be set on
// a single event.
type StreamEvent struct {
	Content   string `json:"content,omitempty"`
	ID        string `json:"id,omitempty"`
	UserMsgID string `json:"user_msg_id,omitempty"`
	Nodes     []Node `json:"parsed_line,omitempty"`
	Error     string `json:"error,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

// ParseLine consumes one complete line of the stream.
//
// Returns (nil, false, nil) for lines without the data prefix (keep-alives,
// comments, blanks), (nil, true, nil) for the terminal marker, and
// ErrMalformedFrame for a data frame with an unparseable payload.
func ParseLine(line string) (*StreamEvent, bool, error) {
	if !strings.HasPrefix(line, framePrefix) {
		return nil, false, nil
	}

	payload := strings.TrimPrefix(line, framePrefix)
	if strings.HasPrefix(payload, doneToken) {
		return nil, true, nil
	}

	return ParsePayload(payload)
}

// ParseFragment consumes the trailing undelimited fragment at end of
// stream. A fragment carrying the frame prefix is handled like a complete
// line; anything else is tried as a bare JSON payload.
func ParseFragment(frag string) (*StreamEvent, bool, error) {
	if strings.HasPrefix(frag, framePrefix) {
		return ParseLine(frag)
	}
	return ParsePayload(frag)
}

// ParsePayload parses a bare JSON event payload without the frame prefix.
// Used for the trailing fragment of servers that omit a final newline.
func ParsePayload(payload string) (*StreamEvent, bool, error) {
	var ev StreamEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil, false, ErrMalformedFrame
	}
	return &ev, false, nil
}
