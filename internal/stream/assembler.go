package stream

import (
	"encoding/json"
	"strings"
)

type toolInvocation struct {
	id    string
	name  string
	input strings.Builder
}

// Assembler accumulates the events of one logical stream into a Message.
// It returns the Message once, on MessageStop; events after that are ignored.
type Assembler struct {
	msg      *Message
	finished bool

	thinking strings.Builder

	text        *strings.Builder
	inToolBlock bool

	tools         map[string]*toolInvocation
	currentToolID string
}

func NewAssembler() *Assembler {
	return &Assembler{tools: make(map[string]*toolInvocation)}
}

// Process folds one event into the open message. It returns the finished
// message and true only for the MessageStop that closes it. Content arriving
// before any MessageStart opens an assistant message implicitly.
func (a *Assembler) Process(ev Event) (*Message, bool) {
	if a.finished {
		return nil, false
	}

	switch ev.Kind {
	case KindContentBlockStart, KindContentBlockDelta, KindContentBlockStop,
		KindThinkingStart, KindThinkingDelta, KindThinkingStop,
		KindToolUseStart, KindToolUseDelta, KindToolUseStop, KindMessageStop:
		if a.msg == nil {
			a.msg = &Message{Role: "assistant", Content: []ContentBlock{}}
		}
	}

	switch ev.Kind {
	case KindMessageStart:
		role, _ := ev.Data["role"].(string)
		if role == "" {
			role = "assistant"
		}
		model, _ := ev.Data["model"].(string)
		a.msg = &Message{Role: role, Model: model, Content: []ContentBlock{}}
		a.thinking.Reset()
		a.text = nil
		a.inToolBlock = false
		a.tools = make(map[string]*toolInvocation)
		a.currentToolID = ""

	case KindThinkingDelta:
		a.thinking.WriteString(ev.Text())

	case KindThinkingStop:
		if a.thinking.Len() > 0 {
			a.msg.Thinking = a.thinking.String()
		}

	case KindContentBlockStart:
		a.text = &strings.Builder{}
		a.inToolBlock = false

	case KindContentBlockDelta:
		// Some producers omit contentBlockStart for plain text blocks.
		if a.text == nil && !a.inToolBlock {
			a.text = &strings.Builder{}
		}
		if a.text != nil {
			a.text.WriteString(ev.Text())
		}

	case KindContentBlockStop:
		if a.inToolBlock {
			a.finishTool()
		} else if a.text != nil {
			a.msg.Content = append(a.msg.Content, ContentBlock{Type: BlockText, Text: a.text.String()})
		}
		a.text = nil
		a.inToolBlock = false

	case KindToolUseStart:
		id, _ := ev.Data["id"].(string)
		name, _ := ev.Data["name"].(string)
		a.tools[id] = &toolInvocation{id: id, name: name}
		a.currentToolID = id
		a.inToolBlock = true
		a.text = nil

	case KindToolUseDelta:
		if inv, ok := a.tools[a.currentToolID]; ok {
			inv.input.WriteString(ev.ToolInput())
		}

	case KindToolUseStop:
		a.finishTool()
		a.inToolBlock = false

	case KindMessageStop:
		// A text block still open at the stop is part of the message.
		if a.text != nil && a.text.Len() > 0 && !a.inToolBlock {
			a.msg.Content = append(a.msg.Content, ContentBlock{Type: BlockText, Text: a.text.String()})
			a.text = nil
		}
		if usage, ok := ev.Data["usage"].(map[string]any); ok {
			a.msg.Usage = usage
		}
		a.msg.StopReason = ev.StopReason()
		a.finished = true
		return a.msg, true
	}

	return nil, false
}

// finishTool moves the current invocation into the message. A stop with no
// current invocation is a no-op.
func (a *Assembler) finishTool() {
	inv, ok := a.tools[a.currentToolID]
	if !ok {
		a.currentToolID = ""
		return
	}
	delete(a.tools, a.currentToolID)
	a.currentToolID = ""

	a.msg.Content = append(a.msg.Content, ContentBlock{
		Type: BlockToolUse,
		ToolUse: &ToolUse{
			ID:    inv.id,
			Name:  inv.name,
			Input: ParseToolInput(inv.input.String()),
		},
	})
}

// ParseToolInput decodes accumulated tool input. Input that is not valid JSON
// is returned unchanged as a string.
func ParseToolInput(raw string) any {
	if raw == "" {
		return raw
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
