package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ghclient "github.com/toshin/competitor-agent/internal/github"
	slackclient "github.com/toshin/competitor-agent/internal/slack"
	"github.com/toshin/competitor-agent/internal/stream"
)

type fakeSlack struct {
	mu        sync.Mutex
	posts     []string
	updates   []string
	reactions []string
	ephemeral []string
}

func (f *fakeSlack) AddReaction(channel, timestamp, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, emoji)
	return nil
}

func (f *fakeSlack) PostThreadMessage(channel, threadTS, text string) error {
	_, err := f.PostThreadMessageReturningTS(channel, threadTS, text)
	return err
}

func (f *fakeSlack) PostThreadMessageReturningTS(channel, threadTS, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, text)
	return fmt.Sprintf("msg-%d", len(f.posts)), nil
}

func (f *fakeSlack) UpdateThreadMessage(channel, messageTS, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, text)
	return nil
}

func (f *fakeSlack) PostEphemeralResponse(responseURL, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ephemeral = append(f.ephemeral, text)
	return nil
}

func (f *fakeSlack) lastUpdate() string {
	if len(f.updates) == 0 {
		return ""
	}
	return f.updates[len(f.updates)-1]
}

type fakeExporter struct {
	got *ghclient.Transcript
	err error
}

func (f *fakeExporter) ExportTranscript(_ context.Context, t *ghclient.Transcript) (string, error) {
	f.got = t
	if f.err != nil {
		return "", f.err
	}
	return "https://gist.github.com/abc", nil
}

var researchFrames = []string{
	`{"event":{"messageStart":{"role":"assistant"}}}`,
	`{"event":{"contentBlockStart":{"start":{"toolUse":{"toolUseId":"t1","name":"web_search"}}}}}`,
	`{"event":{"contentBlockDelta":{"delta":{"toolUse":{"input":"{\"query\":\"anki pricing\"}"}}}}}`,
	`{"event":{"contentBlockStop":{}}}`,
	`{"event":{"messageStop":{"stopReason":"tool_use"}}}`,
	`{"event":{"messageStart":{"role":"assistant"}}}`,
	`{"event":{"contentBlockStart":{"start":{}}}}`,
	`{"event":{"contentBlockDelta":{"delta":{"text":"<thinking>compare</thinking>## Findings\n**Anki** is free."}}}}`,
	`{"event":{"contentBlockStop":{}}}`,
	`{"event":{"messageStop":{"stopReason":"end_turn","usage":{"outputTokens":42}}}}`,
}

func newTestAgent(s *fakeStreamer, exporter Exporter) (*Agent, *fakeSlack) {
	sc := &fakeSlack{}
	a := New(sc, s, exporter, Options{
		Params:         map[string]any{"company_information": "EmberWise"},
		Company:        "EmberWise",
		UpdateInterval: time.Hour,
	}, discardLogger())
	return a, sc
}

func mentionEvent(text string) slackclient.Event {
	return slackclient.Event{Type: "app_mention", User: "U1", Text: "<@UBOT123> " + text, Channel: "C1", TS: "100.1"}
}

func TestAgent_MentionRunsTurn(t *testing.T) {
	s := &fakeStreamer{frames: researchFrames}
	a, sc := newTestAgent(s, nil)

	a.HandleMention(mentionEvent("how does Anki price?"))

	require.Len(t, s.calls, 1)
	assert.Equal(t, "EmberWise", s.calls[0].Params["company_information"])

	final := sc.lastUpdate()
	assert.Contains(t, final, "*Findings")
	assert.Contains(t, final, "*Anki* is free.")
	assert.NotContains(t, final, "compare", "thinking stays out of the answer")
	assert.Contains(t, final, "1. web_search: anki pricing")
	assert.Contains(t, final, "42 output tokens")
	assert.Equal(t, []string{"eyes", "white_check_mark"}, sc.reactions)
}

func TestAgent_ThreadReplies(t *testing.T) {
	s := &fakeStreamer{frames: researchFrames}
	a, _ := newTestAgent(s, nil)

	reply := slackclient.Event{Type: "message", User: "U1", Text: "and Quizlet?", Channel: "C1", TS: "100.5", ThreadTS: "100.1"}
	a.HandleThreadMessage(reply)
	assert.Empty(t, s.calls, "threads the agent never joined are ignored")

	a.HandleMention(mentionEvent("how does Anki price?"))
	a.HandleThreadMessage(reply)

	require.Len(t, s.calls, 2)
	assert.Equal(t, s.calls[0].SessionID, s.calls[1].SessionID)
}

func TestAgent_ReplyWhileTurnRunning(t *testing.T) {
	s := &fakeStreamer{frames: researchFrames}
	a, sc := newTestAgent(s, nil)
	a.HandleMention(mentionEvent("how does Anki price?"))

	th := a.thread("C1:100.1", "C1", "100.1", false)
	require.NotNil(t, th)
	conv := th.orch.Conversation()
	require.True(t, conv.TryStart())

	a.HandleThreadMessage(slackclient.Event{Text: "and Quizlet?", Channel: "C1", TS: "100.5", ThreadTS: "100.1"})

	assert.Len(t, s.calls, 1, "no second turn while one is running")
	assert.Equal(t, busyText, sc.lastUpdate())
	assert.NotContains(t, sc.reactions, "x")

	conv.Finish()
	a.HandleThreadMessage(slackclient.Event{Text: "and Quizlet?", Channel: "C1", TS: "100.6", ThreadTS: "100.1"})
	assert.Len(t, s.calls, 2)
}

func TestAgent_ClearCommand(t *testing.T) {
	s := &fakeStreamer{frames: researchFrames}
	a, sc := newTestAgent(s, nil)

	a.HandleMention(mentionEvent("first"))
	a.HandleThreadMessage(slackclient.Event{Text: "clear", Channel: "C1", TS: "100.2", ThreadTS: "100.1"})
	a.HandleThreadMessage(slackclient.Event{Text: "second", Channel: "C1", TS: "100.3", ThreadTS: "100.1"})

	require.Len(t, s.calls, 2)
	assert.NotEqual(t, s.calls[0].SessionID, s.calls[1].SessionID)
	assert.Len(t, s.forgotten, 1)
	assert.True(t, containsPrefix(sc.posts, ":broom:"))
}

func TestAgent_Export(t *testing.T) {
	s := &fakeStreamer{frames: researchFrames}
	exp := &fakeExporter{}
	a, sc := newTestAgent(s, exp)

	a.HandleMention(mentionEvent("export"))
	assert.True(t, containsPrefix(sc.posts, "Nothing to export"))

	a.HandleMention(mentionEvent("how does Anki price?"))
	a.HandleMention(mentionEvent("export Anki deep dive"))

	require.NotNil(t, exp.got)
	assert.Equal(t, "Anki deep dive", exp.got.Title)
	assert.Equal(t, "EmberWise", exp.got.Company)
	require.Len(t, exp.got.Turns, 1)
	assert.Equal(t, "how does Anki price?", exp.got.Turns[0].Prompt)
	msg := exp.got.Turns[0].Messages[0]
	assert.Contains(t, msg.Text(), "Anki")
	require.Len(t, msg.ToolUses(), 1)
	assert.Equal(t, "web_search", msg.ToolUses()[0].Name)
	assert.True(t, containsPrefix(sc.posts, ":page_facing_up: Exported: https://gist.github.com/abc"))
}

func TestAgent_ExportNotConfigured(t *testing.T) {
	a, sc := newTestAgent(&fakeStreamer{}, nil)
	a.HandleMention(mentionEvent("export"))
	assert.True(t, containsPrefix(sc.posts, "Export is not configured"))
}

func TestAgent_TurnError(t *testing.T) {
	s := &fakeStreamer{extra: []stream.Event{
		stream.ErrorEvent(&stream.StreamError{Type: stream.ErrorTypeRateLimit, Status: http.StatusTooManyRequests}),
	}}
	a, sc := newTestAgent(s, nil)

	a.HandleMention(mentionEvent("hi"))
	assert.Equal(t, ":x: The agent is rate limited. Please try again in a minute.", sc.lastUpdate())
	assert.Contains(t, sc.reactions, "x")
}

func TestAgent_SlashCommand(t *testing.T) {
	s := &fakeStreamer{frames: researchFrames}
	a, sc := newTestAgent(s, nil)

	a.HandleSlashCommand(slackclient.SlashCommand{Command: "/research", Text: "anki?", Channel: "C1", ResponseURL: "https://hooks.example"})
	require.Len(t, sc.ephemeral, 1)
	assert.Contains(t, sc.ephemeral[0], "*Anki* is free.")

	a.HandleSlashCommand(slackclient.SlashCommand{Command: "/research"})
	assert.Equal(t, helpText, sc.ephemeral[1])
}

func TestDescribeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&stream.StreamError{Type: stream.ErrorTypeTimeout}, "took too long"},
		{&stream.StreamError{Type: stream.ErrorTypeHTTP}, "interrupted"},
		{&stream.StreamError{Type: stream.ErrorTypeEmptyBody}, "interrupted"},
		{&stream.StreamError{Type: stream.ErrorTypeStatus, Status: 502}, "status 502"},
		{context.Canceled, "cancelled"},
		{errors.New("boom"), "Unexpected error: boom"},
	}
	for _, tt := range tests {
		assert.Contains(t, DescribeError(tt.err), tt.want)
	}
}

func TestToolSummary(t *testing.T) {
	assert.Equal(t, "search", toolSummary("search", nil))
	assert.Equal(t, "search: rivals", toolSummary("search", map[string]any{"query": "rivals"}))
	assert.Equal(t, "fetch (depth, page)", toolSummary("fetch", map[string]any{"page": 1.0, "depth": 2.0}))
	assert.Equal(t, "raw: not json", toolSummary("raw", "not json"))
	assert.True(t, strings.HasSuffix(toolSummary("search", map[string]any{"q": strings.Repeat("x", 100)}), "..."))
}

func TestFormatForSlack(t *testing.T) {
	assert.Equal(t, "*Title\n*bold* text\n\n\nend", formatForSlack("# Title\n**bold** text\n\n\n\n\nend"))
}

func TestProgressRender(t *testing.T) {
	var p progress
	assert.Equal(t, ":hourglass_flowing_sand: Researching...", p.render())

	p.tools = []toolEntry{{Summary: "search: a", Done: true}, {Summary: "fetch"}}
	out := p.render()
	assert.True(t, strings.HasPrefix(out, ":wrench: fetch"))
	assert.Contains(t, out, ":white_check_mark: search: a")

	p.thinking = true
	assert.True(t, strings.HasPrefix(p.render(), ":thought_balloon:"))
}

func containsPrefix(list []string, prefix string) bool {
	for _, s := range list {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
