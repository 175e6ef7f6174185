// Package stream consumes an agent's streamed response and turns it into
// classified events, assembled messages and display-ready text spans.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultSessionHeader carries the conversation session id to the runtime.
const DefaultSessionHeader = "X-Amzn-Bedrock-AgentCore-Runtime-Session-Id"

const readChunkSize = 4096

// ClientConfig configures the transport.
type ClientConfig struct {
	Endpoint      string
	AgentID       string
	Timeout       time.Duration
	SessionHeader string
}

// InvokeOptions are the per-call inputs besides the prompt.
type InvokeOptions struct {
	SessionID string
	Params    map[string]any
}

// Client opens one streamed POST per Invoke and yields its events.
type Client struct {
	endpoint      string
	agentID       string
	timeout       time.Duration
	sessionHeader string
	tokens        oauth2.TokenSource
	httpClient    *http.Client
	logger        *slog.Logger
}

// NewClient builds a transport. tokens supplies the bearer token for each
// request; nil sends no Authorization header.
func NewClient(cfg ClientConfig, tokens oauth2.TokenSource, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	header := cfg.SessionHeader
	if header == "" {
		header = DefaultSessionHeader
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		agentID:       cfg.AgentID,
		timeout:       timeout,
		sessionHeader: header,
		tokens:        tokens,
		httpClient:    httpClient,
		logger:        logger,
	}
}

// Invoke sends prompt and returns the events of the response in arrival
// order. Every failure arrives as a single KindError event followed by the
// channel closing. A stream that ends without MessageStop simply closes.
// Cancelling ctx stops delivery and closes the channel.
func (c *Client) Invoke(ctx context.Context, prompt string, opts InvokeOptions) <-chan Event {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		c.run(ctx, prompt, opts, func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return ch
}

func (c *Client) run(ctx context.Context, prompt string, opts InvokeOptions, emit func(Event) bool) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fail := func(se *StreamError) {
		c.logger.Error("agent stream failed", "error_type", se.Type, "status", se.Status, "error", se.Message)
		emit(ErrorEvent(se))
	}

	req, err := c.newRequest(reqCtx, prompt, opts)
	if err != nil {
		fail(&StreamError{Type: ErrorTypeProcessing, Message: err.Error()})
		return
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		fail(classifyErr(reqCtx, err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		se := &StreamError{Type: ErrorTypeStatus, Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		if resp.StatusCode == http.StatusTooManyRequests {
			se.Type = ErrorTypeRateLimit
		}
		if se.Message == "" {
			se.Message = http.StatusText(resp.StatusCode)
		}
		fail(se)
		return
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		fail(&StreamError{Type: ErrorTypeEmptyBody, Message: "response has no body"})
		return
	}

	parser := NewParser()
	var lines lineBuffer
	dispatch := func(line string) bool {
		ev, ok := parser.ParseLine(stripDataPrefix(line))
		if !ok {
			c.logger.Debug("skip stream line", "line", truncate(line, 100))
			return true
		}
		return emit(ev)
	}

	buf := make([]byte, readChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, line := range lines.Write(buf[:n]) {
				if !dispatch(line) {
					return
				}
			}
		}
		if readErr == io.EOF {
			if rest := lines.Rest(); rest != "" {
				dispatch(rest)
			}
			return
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return
			}
			fail(classifyErr(reqCtx, readErr))
			return
		}
	}
}

func (c *Client) newRequest(ctx context.Context, prompt string, opts InvokeOptions) (*http.Request, error) {
	payload := map[string]any{"prompt": prompt}
	if opts.SessionID != "" {
		payload["session_id"] = opts.SessionID
	}
	if c.agentID != "" {
		payload["agent_id"] = c.agentID
	}
	for k, v := range opts.Params {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	if opts.SessionID != "" {
		req.Header.Set(c.sessionHeader, opts.SessionID)
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("get token: %w", err)
		}
		tok.SetAuthHeader(req)
	}
	return req, nil
}

func classifyErr(ctx context.Context, err error) *StreamError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &StreamError{Type: ErrorTypeTimeout, Message: "request timed out"}
	}
	return &StreamError{Type: ErrorTypeHTTP, Message: err.Error()}
}

// lineBuffer splits a byte stream on '\n' and keeps the trailing fragment
// until the rest of its line arrives.
type lineBuffer struct {
	pending []byte
}

func (b *lineBuffer) Write(p []byte) []string {
	b.pending = append(b.pending, p...)
	var lines []string
	for {
		idx := bytes.IndexByte(b.pending, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(b.pending[:idx]), "\r")
		b.pending = b.pending[idx+1:]
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func (b *lineBuffer) Rest() string {
	rest := strings.TrimRight(string(b.pending), "\r")
	b.pending = nil
	return rest
}

func stripDataPrefix(line string) string {
	if strings.HasPrefix(line, "data: ") {
		return line[len("data: "):]
	}
	return strings.TrimPrefix(line, "data:")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
