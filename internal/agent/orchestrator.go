package agent

import (
	"context"
	"errors"
	"log/slog"

	"github.com/toshin/competitor-agent/internal/domain"
	"github.com/toshin/competitor-agent/internal/stream"
)

// ErrTurnInProgress is returned by Send while another turn of the same
// conversation is running.
var ErrTurnInProgress = errors.New("a turn is already running in this conversation")

// Streamer produces the events of one agent turn. Both the agent runtime
// transport and the direct model client satisfy it.
type Streamer interface {
	Invoke(ctx context.Context, prompt string, opts stream.InvokeOptions) <-chan stream.Event
}

// forgetter is implemented by streamers that keep per-session state.
type forgetter interface {
	Forget(sessionID string)
}

// ToolInfo describes a tool invocation. Input is set only on completion.
type ToolInfo struct {
	ID    string
	Name  string
	Input any
}

// Callbacks is the UI-facing surface of a turn. Nil callbacks are skipped.
type Callbacks struct {
	OnChunk           func(text string)
	OnThinking        func(active bool)
	OnThinkingContent func(text string)
	OnToolUseStart    func(tool ToolInfo)
	OnToolUseComplete func(tool ToolInfo)
	OnError           func(err error)
	OnComplete        func()

	// OnEvent sees every event before it is dispatched.
	OnEvent func(ev stream.Event)
}

// Orchestrator runs turns of one conversation against a Streamer.
type Orchestrator struct {
	streamer Streamer
	conv     *domain.Conversation
	params   map[string]any
	logger   *slog.Logger
}

func NewOrchestrator(s Streamer, conv *domain.Conversation, params map[string]any, logger *slog.Logger) *Orchestrator {
	if conv == nil {
		conv = domain.NewConversation("", "")
	}
	return &Orchestrator{
		streamer: s,
		conv:     conv,
		params:   params,
		logger:   logger,
	}
}

func (o *Orchestrator) Conversation() *domain.Conversation {
	return o.conv
}

// Clear starts a new conversation on the next turn.
func (o *Orchestrator) Clear() {
	old := o.conv.SessionID()
	o.conv.Clear()
	if f, ok := o.streamer.(forgetter); ok {
		f.Forget(old)
	}
	o.logger.Info("conversation cleared", "session_id", old)
}

// Send runs one turn and dispatches it to cb. It returns the message that
// ended the turn, or the last completed message when the stream closed
// without a terminal stop.
//
// Tool completions are deferred until the agent produces its next text or
// thinking content, or the stream ends. Only one turn of a conversation runs
// at a time; a concurrent Send fails with ErrTurnInProgress and fires no
// callbacks.
func (o *Orchestrator) Send(ctx context.Context, prompt string, cb Callbacks) (*stream.Message, error) {
	if !o.conv.TryStart() {
		return nil, ErrTurnInProgress
	}
	defer o.conv.Finish()

	sessionID := o.conv.SessionID()
	logger := o.logger.With("session_id", sessionID)
	logger.Info("turn started", "prompt_len", len(prompt))

	t := newTurn(cb)
	events := o.streamer.Invoke(ctx, prompt, stream.InvokeOptions{
		SessionID: sessionID,
		Params:    o.params,
	})

	for ev := range events {
		if err := t.handle(ev); err != nil {
			logger.Error("turn failed", "error", err)
			return t.last, err
		}
		if t.completed {
			go drainEvents(events)
			logger.Info("turn completed", "stop_reason", t.last.StopReason, "messages", t.messages)
			return t.last, nil
		}
	}

	t.flushPending()
	t.display.Flush(t.displayCallbacks())

	if err := ctx.Err(); err != nil {
		logger.Info("turn cancelled")
		return t.last, err
	}
	t.complete()
	logger.Info("turn ended without terminal stop", "messages", t.messages)
	return t.last, nil
}

// turn is the per-stream state of Send. Nothing in it outlives the turn.
type turn struct {
	cb        Callbacks
	display   *stream.DisplayHandler
	assembler *stream.Assembler

	tool      *ToolInfo
	toolInput string
	pending   []ToolInfo

	last      *stream.Message
	messages  int
	completed bool
}

func newTurn(cb Callbacks) *turn {
	return &turn{
		cb:        cb,
		display:   stream.NewDisplayHandler(),
		assembler: stream.NewAssembler(),
	}
}

func (t *turn) handle(ev stream.Event) error {
	if t.cb.OnEvent != nil {
		t.cb.OnEvent(ev)
	}

	switch ev.Kind {
	case stream.KindContentBlockStart:
		t.flushPending()
		t.display.Flush(t.displayCallbacks())
		t.display.Reset()

	case stream.KindContentBlockDelta:
		t.flushPending()
		t.display.HandleContentDelta(ev.Text(), t.displayCallbacks())

	case stream.KindContentBlockStop:
		t.display.Flush(t.displayCallbacks())

	case stream.KindThinkingStart:
		t.flushPending()
		t.thinking(true)

	case stream.KindThinkingDelta:
		t.flushPending()
		if text := ev.Text(); text != "" && t.cb.OnThinkingContent != nil {
			t.cb.OnThinkingContent(text)
		}

	case stream.KindThinkingStop:
		t.thinking(false)

	case stream.KindToolUseStart:
		id, _ := ev.Data["id"].(string)
		name, _ := ev.Data["name"].(string)
		t.tool = &ToolInfo{ID: id, Name: name}
		t.toolInput = ""
		if t.cb.OnToolUseStart != nil {
			t.cb.OnToolUseStart(*t.tool)
		}

	case stream.KindToolUseDelta:
		t.toolInput += ev.ToolInput()

	case stream.KindToolUseStop:
		if t.tool != nil {
			t.tool.Input = stream.ParseToolInput(t.toolInput)
			t.pending = append(t.pending, *t.tool)
			t.tool = nil
		}

	case stream.KindMessageStop:
		t.display.Flush(t.displayCallbacks())

	case stream.KindError:
		t.flushPending()
		err := ev.Err()
		if t.cb.OnError != nil {
			t.cb.OnError(err)
		}
		return err
	}

	msg, done := t.assembler.Process(ev)
	if !done {
		return nil
	}
	t.last = msg
	t.messages++
	if stream.IsTerminalStopReason(msg.StopReason) {
		t.flushPending()
		t.complete()
		return nil
	}
	t.assembler = stream.NewAssembler()
	return nil
}

// flushPending fires the deferred tool completions in arrival order.
func (t *turn) flushPending() {
	pending := t.pending
	t.pending = nil
	for _, tool := range pending {
		if t.cb.OnToolUseComplete != nil {
			t.cb.OnToolUseComplete(tool)
		}
	}
}

func (t *turn) complete() {
	if t.completed {
		return
	}
	t.completed = true
	if t.cb.OnComplete != nil {
		t.cb.OnComplete()
	}
}

func (t *turn) thinking(active bool) {
	if t.cb.OnThinking != nil {
		t.cb.OnThinking(active)
	}
}

func (t *turn) displayCallbacks() stream.DisplayCallbacks {
	return stream.DisplayCallbacks{
		OnNormalContent:   t.cb.OnChunk,
		OnThinkingStart:   func() { t.thinking(true) },
		OnThinkingContent: t.cb.OnThinkingContent,
		OnThinkingEnd:     func() { t.thinking(false) },
	}
}

// drainEvents consumes trailing frames so the producer can finish.
func drainEvents(events <-chan stream.Event) {
	for range events {
	}
}
