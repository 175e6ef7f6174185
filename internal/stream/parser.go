package stream

import (
	"encoding/json"
	"strings"
	"time"
)

// blockState records which kind of block the last contentBlockStart opened.
// contentBlockStop carries no type of its own, so the parser resolves it from here.
type blockState int

const (
	blockNone blockState = iota
	blockThinking
	blockToolUse
)

// Top-level keys of non-event frames: final summaries and agent-loop debug output.
var summaryKeys = []string{"message", "result", "data", "init_event_loop", "start", "start_event_loop"}

// Parser classifies agent stream lines into Events. One Parser per logical
// stream; it is not safe for concurrent use.
type Parser struct {
	state    blockState
	toolID   string
	toolName string
	now      func() time.Time
}

func NewParser() *Parser {
	return &Parser{now: time.Now}
}

// ParseLine classifies one line with the SSE "data: " prefix already removed.
// It returns false for blank lines, invalid JSON, JSON strings and objects with
// no recognized key; upstream interleaves such debug output with real events.
func (p *Parser) ParseLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}

	var decoded any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		return Event{}, false
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return Event{}, false
	}

	if raw, ok := obj["event"]; ok {
		nested, ok := raw.(map[string]any)
		if !ok {
			return p.event(KindUnknown, obj, line), true
		}
		return p.classifyEvent(nested, line), true
	}

	for _, key := range summaryKeys {
		if _, ok := obj[key]; ok {
			return p.event(KindUnknown, obj, line), true
		}
	}

	return Event{}, false
}

func (p *Parser) classifyEvent(nested map[string]any, line string) Event {
	if v, ok := nested["messageStart"]; ok {
		return p.event(KindMessageStart, asMap(v), line)
	}

	if v, ok := nested["contentBlockDelta"]; ok {
		payload := asMap(v)
		delta := asMap(payload["delta"])
		if rc, ok := delta["reasoningContent"]; ok {
			text, _ := asMap(rc)["text"].(string)
			return p.event(KindThinkingDelta, map[string]any{
				"delta": map[string]any{"text": text},
			}, line)
		}
		if tu, ok := delta["toolUse"]; ok {
			return p.event(KindToolUseDelta, map[string]any{
				"delta": map[string]any{"input": inputString(asMap(tu)["input"])},
			}, line)
		}
		return p.event(KindContentBlockDelta, payload, line)
	}

	if v, ok := nested["contentBlockStart"]; ok {
		payload := asMap(v)
		start := asMap(payload["start"])
		if _, ok := start["reasoningContent"]; ok {
			p.state = blockThinking
			return p.event(KindThinkingStart, map[string]any{}, line)
		}
		if tu, ok := start["toolUse"]; ok {
			tool := asMap(tu)
			p.state = blockToolUse
			p.toolID, _ = tool["toolUseId"].(string)
			p.toolName, _ = tool["name"].(string)
			return p.event(KindToolUseStart, map[string]any{
				"id":   p.toolID,
				"name": p.toolName,
			}, line)
		}
		p.state = blockNone
		return p.event(KindContentBlockStart, payload, line)
	}

	if v, ok := nested["contentBlockStop"]; ok {
		payload := asMap(v)
		state := p.state
		p.state = blockNone
		switch state {
		case blockThinking:
			return p.event(KindThinkingStop, payload, line)
		case blockToolUse:
			data := map[string]any{"id": p.toolID, "name": p.toolName}
			for k, v := range payload {
				data[k] = v
			}
			p.toolID, p.toolName = "", ""
			return p.event(KindToolUseStop, data, line)
		}
		return p.event(KindContentBlockStop, payload, line)
	}

	if v, ok := nested["messageStop"]; ok {
		return p.event(KindMessageStop, asMap(v), line)
	}

	if v, ok := nested["metadata"]; ok {
		return p.event(KindUnknown, asMap(v), line)
	}

	return p.event(KindUnknown, nested, line)
}

func (p *Parser) event(kind EventKind, data map[string]any, line string) Event {
	return Event{Kind: kind, Data: data, Raw: line, Time: p.now()}
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// inputString normalizes a toolUse delta input. The wire sends partial JSON
// text; an already-structured value is re-encoded so accumulation stays textual.
func inputString(v any) string {
	switch in := v.(type) {
	case nil:
		return ""
	case string:
		return in
	default:
		b, err := json.Marshal(in)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
