// Package web relays agent turns to browser clients over websockets.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/toshin/competitor-agent/internal/agent"
	"github.com/toshin/competitor-agent/internal/domain"
	"github.com/toshin/competitor-agent/internal/stream"
)

// Outbound message types.
const (
	TypeChunk           = "chunk"
	TypeThinking        = "thinking"
	TypeThinkingContent = "thinking_content"
	TypeToolUseStart    = "tool_use_start"
	TypeToolUseComplete = "tool_use_complete"
	TypeError           = "error"
	TypeComplete        = "complete"
	TypeCleared         = "cleared"
)

// UIMessage is one frame sent to the browser.
type UIMessage struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp"`
	TurnID    string `json:"turn_id,omitempty"`
}

// ClientMessage is one frame received from the browser.
type ClientMessage struct {
	Type    string `json:"type"` // "message" or "clear"
	Content string `json:"content,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

type Relay struct {
	streamer agent.Streamer
	params   map[string]any
	timeout  time.Duration
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewRelay(streamer agent.Streamer, params map[string]any, timeout time.Duration, logger *slog.Logger) *Relay {
	return &Relay{
		streamer: streamer,
		params:   params,
		timeout:  timeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP upgrades the request and serves one conversation until the
// client disconnects.
func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rl.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())

	c := &connection{
		conn:   conn,
		orch:   agent.NewOrchestrator(rl.streamer, domain.NewConversation("", ""), rl.params, rl.logger),
		logger: rl.logger.With("remote_addr", r.RemoteAddr),
	}
	c.logger.Info("websocket connected")

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("websocket read ended", "error", err)
			}
			return
		}

		switch msg.Type {
		case "clear":
			c.orch.Clear()
			c.send(UIMessage{Type: TypeCleared})
		case "message":
			if msg.Content == "" {
				continue
			}
			if !c.busy.CompareAndSwap(false, true) {
				c.send(UIMessage{Type: TypeError, Payload: errorPayload{Message: "a turn is already running"}})
				continue
			}
			wg.Add(1)
			go func(prompt string) {
				defer wg.Done()
				defer c.busy.Store(false)
				turnCtx, turnCancel := context.WithTimeout(ctx, rl.timeout)
				defer turnCancel()
				c.runTurn(turnCtx, prompt)
			}(msg.Content)
		default:
			c.send(UIMessage{Type: TypeError, Payload: errorPayload{Message: "unknown message type: " + msg.Type}})
		}
	}
}

type connection struct {
	conn   *websocket.Conn
	orch   *agent.Orchestrator
	logger *slog.Logger
	busy   atomic.Bool

	writeMu sync.Mutex
}

func (c *connection) runTurn(ctx context.Context, prompt string) {
	turnID := uuid.NewString()
	emit := func(typ string, payload any) {
		c.send(UIMessage{Type: typ, Payload: payload, TurnID: turnID})
	}

	c.orch.Send(ctx, prompt, agent.Callbacks{
		OnChunk:           func(text string) { emit(TypeChunk, text) },
		OnThinking:        func(active bool) { emit(TypeThinking, active) },
		OnThinkingContent: func(text string) { emit(TypeThinkingContent, text) },
		OnToolUseStart: func(tool agent.ToolInfo) {
			emit(TypeToolUseStart, map[string]any{"id": tool.ID, "name": tool.Name})
		},
		OnToolUseComplete: func(tool agent.ToolInfo) {
			emit(TypeToolUseComplete, map[string]any{"id": tool.ID, "name": tool.Name, "input": tool.Input})
		},
		OnError: func(err error) {
			emit(TypeError, errorPayload{Message: agent.DescribeError(err), Type: errorType(err)})
		},
		OnComplete: func() { emit(TypeComplete, nil) },
	})
}

func (c *connection) send(msg UIMessage) {
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to encode ui message", "type", msg.Type, "error", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Warn("websocket write failed", "type", msg.Type, "error", err)
	}
}

func errorType(err error) string {
	var se *stream.StreamError
	if errors.As(err, &se) {
		return se.Type
	}
	return ""
}
