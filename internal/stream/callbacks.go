package stream

import "context"

// Callbacks are the discrete hooks of InvokeWithCallbacks. Nil hooks are skipped.
type Callbacks struct {
	OnContent  func(text string)
	OnThinking func(text string)
	OnToolUse  func(tool ToolUse)
	OnError    func(err error)
	OnComplete func(msg *Message)
}

// InvokeWithCallbacks drives Invoke to the end of the turn and dispatches each
// event to cb. It returns the message that ended the turn, or the last
// completed message when the stream closes without a terminal stop.
func (c *Client) InvokeWithCallbacks(ctx context.Context, prompt string, opts InvokeOptions, cb Callbacks) (*Message, error) {
	return Drive(c.Invoke(ctx, prompt, opts), cb)
}

// Drive consumes an event channel the way InvokeWithCallbacks does. Messages
// stopped for a non-terminal reason start a fresh assembler.
func Drive(events <-chan Event, cb Callbacks) (*Message, error) {
	assembler := NewAssembler()
	var last *Message
	var tool *ToolUse
	var toolInput string

	for ev := range events {
		switch ev.Kind {
		case KindContentBlockDelta:
			if text := ev.Text(); text != "" && cb.OnContent != nil {
				cb.OnContent(text)
			}
		case KindThinkingDelta:
			if text := ev.Text(); text != "" && cb.OnThinking != nil {
				cb.OnThinking(text)
			}
		case KindToolUseStart:
			id, _ := ev.Data["id"].(string)
			name, _ := ev.Data["name"].(string)
			tool = &ToolUse{ID: id, Name: name}
			toolInput = ""
		case KindToolUseDelta:
			toolInput += ev.ToolInput()
		case KindToolUseStop:
			if tool != nil {
				tool.Input = ParseToolInput(toolInput)
				if cb.OnToolUse != nil {
					cb.OnToolUse(*tool)
				}
				tool = nil
			}
		case KindError:
			err := ev.Err()
			if cb.OnError != nil {
				cb.OnError(err)
			}
			return last, err
		}

		msg, done := assembler.Process(ev)
		if !done {
			continue
		}
		last = msg
		if IsTerminalStopReason(msg.StopReason) {
			if cb.OnComplete != nil {
				cb.OnComplete(msg)
			}
			go drain(events)
			return msg, nil
		}
		assembler = NewAssembler()
	}

	if last != nil && cb.OnComplete != nil {
		cb.OnComplete(last)
	}
	return last, nil
}

// drain consumes trailing summary frames so the producer can finish. The
// producer may hold the channel open after the terminal stop.
func drain(events <-chan Event) {
	for range events {
	}
}
