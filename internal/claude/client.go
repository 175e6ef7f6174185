package claude

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/vertex"

	"github.com/toshin/competitor-agent/internal/stream"
)

type Config struct {
	APIKey    string // direct API access; Vertex AI is used when empty
	ProjectID string
	Location  string
	Model     string
	MaxTokens int64
}

// ModelClient streams straight from the Messages API and yields the same
// events as the agent runtime transport. It keeps per-session history so a
// conversation can span turns.
type ModelClient struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
	logger    *slog.Logger

	mu      sync.Mutex
	history map[string][]anthropic.MessageParam
}

func NewModelClient(ctx context.Context, cfg Config, logger *slog.Logger, opts ...option.RequestOption) *ModelClient {
	var base []option.RequestOption
	if cfg.APIKey != "" {
		base = append(base, option.WithAPIKey(cfg.APIKey))
	} else {
		base = append(base, vertex.WithGoogleAuth(ctx, cfg.Location, cfg.ProjectID))
	}
	client := anthropic.NewClient(append(base, opts...)...)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &ModelClient{
		client:    &client,
		model:     anthropic.Model(cfg.Model),
		maxTokens: maxTokens,
		logger:    logger,
		history:   make(map[string][]anthropic.MessageParam),
	}
}

// Invoke streams one turn. The company_information parameter, when present,
// becomes part of the system prompt.
func (c *ModelClient) Invoke(ctx context.Context, prompt string, opts stream.InvokeOptions) <-chan stream.Event {
	ch := make(chan stream.Event)
	go func() {
		defer close(ch)
		emit := func(ev stream.Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		user := anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))
		messages := append(c.conversation(opts.SessionID), user)

		s := c.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
			Model:     c.model,
			MaxTokens: c.maxTokens,
			System: []anthropic.TextBlockParam{
				{Text: SystemPrompt(CompanyInfo(opts.Params["company_information"]))},
			},
			Messages: messages,
		})
		defer s.Close()

		tr := newTranslator()
		for s.Next() {
			current := s.Current()
			// History must be in place before the consumer sees the stop.
			if current.Type == "message_stop" {
				if text := tr.text.String(); opts.SessionID != "" && text != "" {
					c.remember(opts.SessionID, user, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
				}
			}
			for _, ev := range tr.translate(current) {
				if !emit(ev) {
					return
				}
			}
		}
		if err := s.Err(); err != nil {
			if ctx.Err() != nil {
				return
			}
			se := classifyErr(err)
			c.logger.Error("model stream failed", "error_type", se.Type, "status", se.Status, "error", se.Message)
			emit(stream.ErrorEvent(se))
		}
	}()
	return ch
}

// Forget drops the history of a session.
func (c *ModelClient) Forget(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.history, sessionID)
}

func (c *ModelClient) conversation(sessionID string) []anthropic.MessageParam {
	if sessionID == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]anthropic.MessageParam(nil), c.history[sessionID]...)
}

func (c *ModelClient) remember(sessionID string, msgs ...anthropic.MessageParam) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history[sessionID] = append(c.history[sessionID], msgs...)
}

func classifyErr(err error) *stream.StreamError {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		se := &stream.StreamError{Type: stream.ErrorTypeStatus, Status: apiErr.StatusCode, Message: apiErr.Error()}
		if apiErr.StatusCode == http.StatusTooManyRequests {
			se.Type = stream.ErrorTypeRateLimit
		}
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &stream.StreamError{Type: stream.ErrorTypeTimeout, Message: "request timed out"}
	}
	return &stream.StreamError{Type: stream.ErrorTypeHTTP, Message: err.Error()}
}

type blockInfo struct {
	kind string
	id   string
	name string
}

// translator maps Messages API stream events onto the agent event vocabulary.
type translator struct {
	blocks     map[int64]blockInfo
	stopReason string
	usage      map[string]any
	text       strings.Builder
}

func newTranslator() *translator {
	return &translator{
		blocks: make(map[int64]blockInfo),
		usage:  make(map[string]any),
	}
}

func (t *translator) translate(ev anthropic.MessageStreamEventUnion) []stream.Event {
	mk := func(kind stream.EventKind, data map[string]any) []stream.Event {
		return []stream.Event{{Kind: kind, Data: data, Raw: ev.RawJSON(), Time: time.Now()}}
	}

	switch ev.Type {
	case "message_start":
		t.usage["inputTokens"] = ev.Message.Usage.InputTokens
		return mk(stream.KindMessageStart, map[string]any{
			"role":  "assistant",
			"model": string(ev.Message.Model),
		})

	case "content_block_start":
		block := ev.ContentBlock
		switch block.Type {
		case "thinking", "redacted_thinking":
			t.blocks[ev.Index] = blockInfo{kind: "thinking"}
			return mk(stream.KindThinkingStart, map[string]any{})
		case "tool_use", "server_tool_use":
			t.blocks[ev.Index] = blockInfo{kind: "tool_use", id: block.ID, name: block.Name}
			return mk(stream.KindToolUseStart, map[string]any{"id": block.ID, "name": block.Name})
		}
		t.blocks[ev.Index] = blockInfo{kind: "text"}
		return mk(stream.KindContentBlockStart, map[string]any{"contentBlockIndex": ev.Index})

	case "content_block_delta":
		switch ev.Delta.Type {
		case "text_delta":
			t.text.WriteString(ev.Delta.Text)
			return mk(stream.KindContentBlockDelta, map[string]any{
				"delta": map[string]any{"text": ev.Delta.Text},
			})
		case "thinking_delta":
			return mk(stream.KindThinkingDelta, map[string]any{
				"delta": map[string]any{"text": ev.Delta.Thinking},
			})
		case "input_json_delta":
			return mk(stream.KindToolUseDelta, map[string]any{
				"delta": map[string]any{"input": ev.Delta.PartialJSON},
			})
		}

	case "content_block_stop":
		info := t.blocks[ev.Index]
		delete(t.blocks, ev.Index)
		switch info.kind {
		case "thinking":
			return mk(stream.KindThinkingStop, map[string]any{})
		case "tool_use":
			return mk(stream.KindToolUseStop, map[string]any{"id": info.id, "name": info.name})
		}
		return mk(stream.KindContentBlockStop, map[string]any{"contentBlockIndex": ev.Index})

	case "message_delta":
		t.stopReason = string(ev.Delta.StopReason)
		t.usage["outputTokens"] = ev.Usage.OutputTokens

	case "message_stop":
		return mk(stream.KindMessageStop, map[string]any{
			"stopReason": t.stopReason,
			"usage":      t.usage,
		})
	}
	return nil
}
