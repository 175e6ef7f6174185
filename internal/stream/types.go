package stream

import (
	"fmt"
	"time"
)

// EventKind is the semantic classification of one frame of the agent stream.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindMessageStart
	KindMessageStop
	KindContentBlockStart
	KindContentBlockDelta
	KindContentBlockStop
	KindThinkingStart
	KindThinkingDelta
	KindThinkingStop
	KindToolUseStart
	KindToolUseDelta
	KindToolUseStop
	KindToolResult
	KindError
	KindPing
)

var kindNames = map[EventKind]string{
	KindUnknown:           "unknown",
	KindMessageStart:      "message_start",
	KindMessageStop:       "message_stop",
	KindContentBlockStart: "content_block_start",
	KindContentBlockDelta: "content_block_delta",
	KindContentBlockStop:  "content_block_stop",
	KindThinkingStart:     "thinking_start",
	KindThinkingDelta:     "thinking_delta",
	KindThinkingStop:      "thinking_stop",
	KindToolUseStart:      "tool_use_start",
	KindToolUseDelta:      "tool_use_delta",
	KindToolUseStop:       "tool_use_stop",
	KindToolResult:        "tool_result",
	KindError:             "error",
	KindPing:              "ping",
}

func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// StopReasonEndTurn is the only stop reason treated as the end of a turn.
// Other reasons (e.g. "tool_use") are intermediate and the stream continues.
const StopReasonEndTurn = "end_turn"

// IsTerminalStopReason reports whether a messageStop with this reason ends the turn.
func IsTerminalStopReason(reason string) bool {
	return reason == StopReasonEndTurn
}

// Event is one classified frame. Events are values and are not mutated after
// construction.
type Event struct {
	Kind EventKind
	Data map[string]any
	Raw  string
	Time time.Time
}

// Text extracts the text carried by a delta event, or "" when there is none.
func (e Event) Text() string {
	switch e.Kind {
	case KindContentBlockDelta, KindThinkingDelta:
		return nestedString(e.Data, "delta", "text")
	case KindContentBlockStart, KindContentBlockStop:
		return nestedString(e.Data, "content", "text")
	}
	return ""
}

// ToolInput returns the partial tool-input JSON carried by a ToolUseDelta.
func (e Event) ToolInput() string {
	if e.Kind != KindToolUseDelta {
		return ""
	}
	return nestedString(e.Data, "delta", "input")
}

// StopReason returns the stop reason of a MessageStop event.
func (e Event) StopReason() string {
	if e.Kind != KindMessageStop {
		return ""
	}
	if r, ok := e.Data["stopReason"].(string); ok {
		return r
	}
	r, _ := e.Data["stop_reason"].(string)
	return r
}

func (e Event) IsContent() bool {
	return e.Kind == KindContentBlockStart || e.Kind == KindContentBlockDelta || e.Kind == KindContentBlockStop
}

func (e Event) IsThinking() bool {
	return e.Kind == KindThinkingStart || e.Kind == KindThinkingDelta || e.Kind == KindThinkingStop
}

func (e Event) IsToolUse() bool {
	switch e.Kind {
	case KindToolUseStart, KindToolUseDelta, KindToolUseStop, KindToolResult:
		return true
	}
	return false
}

// Err rebuilds the transport error carried by an ERROR event.
func (e Event) Err() error {
	if e.Kind != KindError {
		return nil
	}
	se := &StreamError{}
	se.Type, _ = e.Data["error_type"].(string)
	se.Message, _ = e.Data["error"].(string)
	if status, ok := e.Data["status"].(int); ok {
		se.Status = status
	}
	return se
}

func nestedString(data map[string]any, outer, inner string) string {
	m, ok := data[outer].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m[inner].(string)
	return s
}

// Error types carried in ERROR events.
const (
	ErrorTypeHTTP       = "http_error"
	ErrorTypeStatus     = "status_error"
	ErrorTypeRateLimit  = "rate_limited"
	ErrorTypeTimeout    = "timeout"
	ErrorTypeEmptyBody  = "empty_body"
	ErrorTypeProcessing = "processing_error"
)

// StreamError is a terminal transport failure.
type StreamError struct {
	Type    string
	Status  int
	Message string
}

func (e *StreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Type, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorEvent builds the ERROR event for a transport failure.
func ErrorEvent(se *StreamError) Event {
	data := map[string]any{
		"error":      se.Message,
		"error_type": se.Type,
	}
	if se.Status != 0 {
		data["status"] = se.Status
	}
	return Event{Kind: KindError, Data: data, Time: time.Now()}
}

// BlockType tags a ContentBlock.
type BlockType string

const (
	BlockText    BlockType = "text"
	BlockToolUse BlockType = "tool_use"
)

// ContentBlock is either text or a tool invocation.
type ContentBlock struct {
	Type    BlockType `json:"type"`
	Text    string    `json:"text,omitempty"`
	ToolUse *ToolUse  `json:"tool_use,omitempty"`
}

// ToolUse is a finished tool invocation. Input holds the parsed JSON value, or
// the raw accumulated string when it did not parse.
type ToolUse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input any    `json:"input"`
}

// Message is one assistant message assembled from a stream.
type Message struct {
	Role       string         `json:"role"`
	Model      string         `json:"model,omitempty"`
	Content    []ContentBlock `json:"content"`
	Thinking   string         `json:"thinking,omitempty"`
	Usage      map[string]any `json:"usage,omitempty"`
	StopReason string         `json:"stop_reason,omitempty"`
}

// Text concatenates the message's text blocks.
func (m *Message) Text() string {
	var s string
	for _, b := range m.Content {
		if b.Type == BlockText {
			s += b.Text
		}
	}
	return s
}

// ToolUses returns the tool invocations of the message in order.
func (m *Message) ToolUses() []ToolUse {
	var out []ToolUse
	for _, b := range m.Content {
		if b.Type == BlockToolUse && b.ToolUse != nil {
			out = append(out, *b.ToolUse)
		}
	}
	return out
}
