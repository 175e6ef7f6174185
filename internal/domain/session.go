package domain

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
)

// 256-bit session ids, hex encoded.
const sessionIDBytes = 32

// Conversation is one logical chat with the agent: a CLI run, a websocket
// connection or a Slack thread.
type Conversation struct {
	mu sync.Mutex

	Channel   string
	ThreadTS  string
	sessionID string
	running   bool
	turns     int
}

func NewConversation(channel, threadTS string) *Conversation {
	return &Conversation{
		Channel:  channel,
		ThreadTS: threadTS,
	}
}

// SessionID returns the conversation's session id, generating it on first use.
// The id then stays stable until Clear.
func (c *Conversation) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == "" {
		c.sessionID = newSessionID()
	}
	return c.sessionID
}

// SetSessionID pins the session id, e.g. from a --session-id flag.
func (c *Conversation) SetSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

// Clear forgets the session id so the next turn starts a new conversation.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = ""
	c.turns = 0
}

// TryStart marks a turn as running. It returns false, changing nothing, when
// a turn is already running.
func (c *Conversation) TryStart() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return false
	}
	c.running = true
	c.turns++
	return true
}

// Finish ends the running turn.
func (c *Conversation) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
}

func (c *Conversation) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Turns counts the turns started since the last Clear.
func (c *Conversation) Turns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turns
}


func newSessionID() string {
	b := make([]byte, sessionIDBytes)
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
