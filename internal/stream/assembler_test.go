package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseAll(t *testing.T, lines ...string) []Event {
	t.Helper()
	p := NewParser()
	var events []Event
	for _, l := range lines {
		if ev, ok := p.ParseLine(l); ok {
			events = append(events, ev)
		}
	}
	return events
}

func TestAssembler_FullMessage(t *testing.T) {
	events := parseAll(t,
		`{"event":{"messageStart":{"role":"assistant"}}}`,
		`{"event":{"contentBlockStart":{"start":{"reasoningContent":{}}}}}`,
		`{"event":{"contentBlockDelta":{"delta":{"reasoningContent":{"text":"look up "}}}}}`,
		`{"event":{"contentBlockDelta":{"delta":{"reasoningContent":{"text":"rivals"}}}}}`,
		`{"event":{"contentBlockStop":{}}}`,
		`{"event":{"contentBlockStart":{"start":{}}}}`,
		`{"event":{"contentBlockDelta":{"delta":{"text":"Here are "}}}}`,
		`{"event":{"contentBlockDelta":{"delta":{"text":"three."}}}}`,
		`{"event":{"contentBlockStop":{}}}`,
		`{"event":{"contentBlockStart":{"start":{"toolUse":{"toolUseId":"t1","name":"search"}}}}}`,
		`{"event":{"contentBlockDelta":{"delta":{"toolUse":{"input":"{\"query\":"}}}}}`,
		`{"event":{"contentBlockDelta":{"delta":{"toolUse":{"input":"\"anki\"}"}}}}}`,
		`{"event":{"contentBlockStop":{}}}`,
		`{"event":{"messageStop":{"stopReason":"end_turn","usage":{"outputTokens":12}}}}`,
	)

	a := NewAssembler()
	var got *Message
	for i, ev := range events {
		msg, done := a.Process(ev)
		if i < len(events)-1 {
			require.False(t, done, "event %d (%s)", i, ev.Kind)
			continue
		}
		require.True(t, done)
		got = msg
	}

	require.NotNil(t, got)
	assert.Equal(t, "assistant", got.Role)
	assert.Equal(t, "look up rivals", got.Thinking)
	assert.Equal(t, "end_turn", got.StopReason)
	assert.Equal(t, map[string]any{"outputTokens": float64(12)}, got.Usage)
	require.Len(t, got.Content, 2)
	assert.Equal(t, ContentBlock{Type: BlockText, Text: "Here are three."}, got.Content[0])
	assert.Equal(t, "Here are three.", got.Text())

	tools := got.ToolUses()
	require.Len(t, tools, 1)
	assert.Equal(t, ToolUse{ID: "t1", Name: "search", Input: map[string]any{"query": "anki"}}, tools[0])
}

func TestAssembler_ToolInputFallback(t *testing.T) {
	a := NewAssembler()
	a.Process(Event{Kind: KindMessageStart, Data: map[string]any{}})
	a.Process(Event{Kind: KindToolUseStart, Data: map[string]any{"id": "t1", "name": "x"}})
	a.Process(Event{Kind: KindToolUseDelta, Data: map[string]any{"delta": map[string]any{"input": "not json"}}})
	a.Process(Event{Kind: KindToolUseStop, Data: map[string]any{}})
	msg, done := a.Process(Event{Kind: KindMessageStop, Data: map[string]any{"stop_reason": "end_turn"}})

	require.True(t, done)
	assert.Equal(t, "end_turn", msg.StopReason)
	require.Len(t, msg.ToolUses(), 1)
	assert.Equal(t, "not json", msg.ToolUses()[0].Input)
}

func TestParseToolInput(t *testing.T) {
	assert.Equal(t, map[string]any{"a": float64(1)}, ParseToolInput(`{"a":1}`))
	assert.Equal(t, "not json", ParseToolInput("not json"))
	assert.Equal(t, "", ParseToolInput(""))
	assert.NotPanics(t, func() { ParseToolInput(`{"a":`) })
}

func TestAssembler_DeltasResolveCurrentTool(t *testing.T) {
	a := NewAssembler()
	a.Process(Event{Kind: KindMessageStart, Data: map[string]any{}})
	for _, id := range []string{"first", "second"} {
		a.Process(Event{Kind: KindToolUseStart, Data: map[string]any{"id": id, "name": id}})
		a.Process(Event{Kind: KindToolUseDelta, Data: map[string]any{"delta": map[string]any{"input": `{"id":"` + id + `"}`}}})
		a.Process(Event{Kind: KindContentBlockStop, Data: map[string]any{}})
	}
	msg, done := a.Process(Event{Kind: KindMessageStop, Data: map[string]any{}})
	require.True(t, done)

	tools := msg.ToolUses()
	require.Len(t, tools, 2)
	assert.Equal(t, map[string]any{"id": "first"}, tools[0].Input)
	assert.Equal(t, map[string]any{"id": "second"}, tools[1].Input)
}

func TestAssembler_InvariantViolationsAreNoops(t *testing.T) {
	a := NewAssembler()
	assert.NotPanics(t, func() {
		a.Process(Event{Kind: KindToolUseStop, Data: map[string]any{}})
		a.Process(Event{Kind: KindToolUseDelta, Data: map[string]any{"delta": map[string]any{"input": "x"}}})
		a.Process(Event{Kind: KindContentBlockStop, Data: map[string]any{}})
	})

	msg, done := a.Process(Event{Kind: KindMessageStop, Data: map[string]any{}})
	require.True(t, done)
	assert.Equal(t, "assistant", msg.Role)
	assert.Empty(t, msg.Content)
}

func TestAssembler_ImplicitMessage(t *testing.T) {
	a := NewAssembler()
	var msg *Message
	var done bool
	for _, ev := range parseAll(t,
		`{"event":{"contentBlockStart":{"start":{}}}}`,
		`{"event":{"contentBlockDelta":{"delta":{"text":"Anki is "}}}}`,
		`{"event":{"contentBlockDelta":{"delta":{"text":"free."}}}}`,
		`{"event":{"messageStop":{"stopReason":"end_turn"}}}`,
	) {
		msg, done = a.Process(ev)
	}

	require.True(t, done)
	assert.Equal(t, "assistant", msg.Role)
	assert.Equal(t, "end_turn", msg.StopReason)
	assert.Equal(t, "Anki is free.", msg.Text())
}

func TestAssembler_ReturnsOnce(t *testing.T) {
	a := NewAssembler()
	a.Process(Event{Kind: KindMessageStart, Data: map[string]any{}})
	_, done := a.Process(Event{Kind: KindMessageStop, Data: map[string]any{}})
	require.True(t, done)

	_, done = a.Process(Event{Kind: KindMessageStop, Data: map[string]any{}})
	assert.False(t, done)
}

func TestAssembler_TextWithoutBlockStart(t *testing.T) {
	a := NewAssembler()
	a.Process(Event{Kind: KindMessageStart, Data: map[string]any{}})
	a.Process(Event{Kind: KindContentBlockDelta, Data: map[string]any{"delta": map[string]any{"text": "bare"}}})
	a.Process(Event{Kind: KindContentBlockStop, Data: map[string]any{}})
	msg, done := a.Process(Event{Kind: KindMessageStop, Data: map[string]any{}})
	require.True(t, done)
	assert.Equal(t, "bare", msg.Text())
}
