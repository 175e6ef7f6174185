package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/toshin/competitor-agent/internal/domain"
	ghclient "github.com/toshin/competitor-agent/internal/github"
	slackclient "github.com/toshin/competitor-agent/internal/slack"
	"github.com/toshin/competitor-agent/internal/stream"
)

var botMentionRe = regexp.MustCompile(`<@U[A-Z0-9]+>`)

const helpText = `Mention me with a question about the market or your competitors.
Reply in the thread to follow up. Commands: *clear* starts over, *export [title]* saves the thread as a gist.`

const busyText = ":hourglass: Still working on the previous question in this thread."

// SlackPoster is the part of the Slack client the agent writes through.
type SlackPoster interface {
	AddReaction(channel, timestamp, emoji string) error
	PostThreadMessage(channel, threadTS, text string) error
	PostThreadMessageReturningTS(channel, threadTS, text string) (string, error)
	UpdateThreadMessage(channel, messageTS, text string) error
	PostEphemeralResponse(responseURL, text string) error
}

// Exporter uploads a transcript and returns where it can be read.
type Exporter interface {
	ExportTranscript(ctx context.Context, t *ghclient.Transcript) (string, error)
}

type Options struct {
	Params         map[string]any // sent with every turn
	Company        string         // shown in exported transcripts
	TurnTimeout    time.Duration
	UpdateInterval time.Duration
}

// Agent answers Slack mentions. Each thread is its own conversation.
type Agent struct {
	slackClient SlackPoster
	streamer    Streamer
	exporter    Exporter
	opts        Options
	logger      *slog.Logger

	mu      sync.Mutex
	threads map[string]*thread
}

type thread struct {
	orch  *Orchestrator
	turns []ghclient.Turn
}

func New(sc SlackPoster, streamer Streamer, exporter Exporter, opts Options, logger *slog.Logger) *Agent {
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = 10 * time.Minute
	}
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = 3 * time.Second
	}
	return &Agent{
		slackClient: sc,
		streamer:    streamer,
		exporter:    exporter,
		opts:        opts,
		logger:      logger,
		threads:     make(map[string]*thread),
	}
}

func (a *Agent) HandleMention(event slackclient.Event) {
	a.handle(event, true)
}

// HandleThreadMessage answers replies in threads the agent already joined.
func (a *Agent) HandleThreadMessage(event slackclient.Event) {
	a.handle(event, false)
}

func (a *Agent) handle(event slackclient.Event, mention bool) {
	key := event.ConversationKey()
	threadTS := event.ThreadTS
	if threadTS == "" {
		threadTS = event.TS
	}
	logger := a.logger.With("channel", event.Channel, "user", event.User, "thread_ts", threadTS)

	th := a.thread(key, event.Channel, threadTS, mention)
	if th == nil {
		return
	}

	text := strings.TrimSpace(botMentionRe.ReplaceAllString(event.Text, ""))
	switch domain.DetectCommand(text) {
	case domain.CommandClear:
		a.mu.Lock()
		th.turns = nil
		a.mu.Unlock()
		th.orch.Clear()
		a.slackClient.PostThreadMessage(event.Channel, threadTS, ":broom: Conversation cleared. The next message starts fresh.")
		return
	case domain.CommandExport:
		a.export(event.Channel, threadTS, th, domain.ExtractExportDescription(text), logger)
		return
	case domain.CommandHelp, domain.CommandExit:
		a.slackClient.PostThreadMessage(event.Channel, threadTS, helpText)
		return
	}

	if text == "" {
		a.slackClient.PostThreadMessage(event.Channel, threadTS, helpText)
		return
	}

	if err := a.slackClient.AddReaction(event.Channel, event.TS, "eyes"); err != nil {
		logger.Warn("failed to add reaction", "error", err)
	}
	a.runTurn(event.Channel, threadTS, th, text, logger)
}

// thread returns the conversation of a thread. Replies to threads the agent
// has not joined return nil.
func (a *Agent) thread(key, channel, threadTS string, create bool) *thread {
	a.mu.Lock()
	defer a.mu.Unlock()
	if th, ok := a.threads[key]; ok {
		return th
	}
	if !create {
		return nil
	}
	conv := domain.NewConversation(channel, threadTS)
	th := &thread{orch: NewOrchestrator(a.streamer, conv, a.opts.Params, a.logger)}
	a.threads[key] = th
	return th
}

type toolEntry struct {
	ID      string
	Name    string
	Input   any
	Summary string
	Done    bool
}

// progress renders a turn into one Slack message that is edited in place.
type progress struct {
	text     strings.Builder
	tools    []toolEntry
	thinking bool
}

func (a *Agent) runTurn(channel, threadTS string, th *thread, prompt string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.TurnTimeout)
	defer cancel()

	msgTS, err := a.slackClient.PostThreadMessageReturningTS(channel, threadTS, ":hourglass_flowing_sand: Researching...")
	if err != nil {
		logger.Error("failed to post initial message", "error", err)
		return
	}
	updateMsg := func(text string) {
		if err := a.slackClient.UpdateThreadMessage(channel, msgTS, text); err != nil {
			logger.Warn("failed to update message", "error", err)
		}
	}

	var p progress
	lastUpdate := time.Now()
	update := func(force bool) {
		// Batch updates to avoid rate limiting
		if !force && time.Since(lastUpdate) < a.opts.UpdateInterval {
			return
		}
		updateMsg(p.render())
		lastUpdate = time.Now()
	}

	startTime := time.Now()
	final, err := th.orch.Send(ctx, prompt, Callbacks{
		OnChunk: func(text string) {
			p.text.WriteString(text)
			update(false)
		},
		OnThinking: func(active bool) {
			p.thinking = active
		},
		OnToolUseStart: func(tool ToolInfo) {
			p.tools = append(p.tools, toolEntry{ID: tool.ID, Name: tool.Name, Summary: toolSummary(tool.Name, nil)})
			update(true)
		},
		OnToolUseComplete: func(tool ToolInfo) {
			for i := range p.tools {
				if p.tools[i].ID == tool.ID && !p.tools[i].Done {
					p.tools[i].Input = tool.Input
					p.tools[i].Summary = toolSummary(tool.Name, tool.Input)
					p.tools[i].Done = true
					break
				}
			}
			update(false)
		},
	})
	elapsed := time.Since(startTime)

	if errors.Is(err, ErrTurnInProgress) {
		updateMsg(busyText)
		return
	}
	if err != nil {
		logger.Error("agent turn failed", "error", err)
		updateMsg(fmt.Sprintf(":x: %s", DescribeError(err)))
		a.slackClient.AddReaction(channel, threadTS, "x")
		return
	}

	finalText := p.text.String()
	summary := buildSummary(p.tools, final, elapsed)

	var finalMsg string
	if finalText != "" {
		finalMsg = formatForSlack(finalText) + "\n\n" + summary
	} else {
		finalMsg = summary
	}
	updateMsg(finalMsg)

	a.mu.Lock()
	th.turns = append(th.turns, ghclient.Turn{Prompt: prompt, Messages: transcriptMessages(finalText, p.tools)})
	a.mu.Unlock()

	a.slackClient.AddReaction(channel, threadTS, "white_check_mark")
	logger.Info("turn completed", "elapsed", elapsed, "tools", len(p.tools))
}

// transcriptMessages condenses a turn into one message for export.
func transcriptMessages(text string, tools []toolEntry) []*stream.Message {
	msg := &stream.Message{Role: "assistant"}
	for _, t := range tools {
		msg.Content = append(msg.Content, stream.ContentBlock{
			Type:    stream.BlockToolUse,
			ToolUse: &stream.ToolUse{ID: t.ID, Name: t.Name, Input: t.Input},
		})
	}
	if text != "" {
		msg.Content = append(msg.Content, stream.ContentBlock{Type: stream.BlockText, Text: text})
	}
	return []*stream.Message{msg}
}

func (a *Agent) export(channel, threadTS string, th *thread, title string, logger *slog.Logger) {
	if a.exporter == nil {
		a.slackClient.PostThreadMessage(channel, threadTS, "Export is not configured (set GITHUB_PAT).")
		return
	}

	a.mu.Lock()
	turns := append([]ghclient.Turn(nil), th.turns...)
	a.mu.Unlock()
	if len(turns) == 0 {
		a.slackClient.PostThreadMessage(channel, threadTS, "Nothing to export yet.")
		return
	}
	if title == "" {
		title = "Competitor research " + time.Now().UTC().Format("2006-01-02")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	link, err := a.exporter.ExportTranscript(ctx, &ghclient.Transcript{
		Title:     title,
		SessionID: th.orch.Conversation().SessionID(),
		Company:   a.opts.Company,
		Turns:     turns,
		CreatedAt: time.Now(),
	})
	if err != nil {
		logger.Error("export failed", "error", err)
		a.slackClient.PostThreadMessage(channel, threadTS, fmt.Sprintf(":x: Export failed: %s", err))
		return
	}
	a.slackClient.PostThreadMessage(channel, threadTS, fmt.Sprintf(":page_facing_up: Exported: %s", link))
}

// HandleSlashCommand answers a one-off question ephemerally.
func (a *Agent) HandleSlashCommand(cmd slackclient.SlashCommand) {
	logger := a.logger.With("command", cmd.Command, "channel", cmd.Channel, "user", cmd.User)

	prompt := strings.TrimSpace(cmd.Text)
	if prompt == "" {
		a.slackClient.PostEphemeralResponse(cmd.ResponseURL, helpText)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.opts.TurnTimeout)
	defer cancel()

	orch := NewOrchestrator(a.streamer, domain.NewConversation(cmd.Channel, ""), a.opts.Params, a.logger)
	var text strings.Builder
	_, err := orch.Send(ctx, prompt, Callbacks{
		OnChunk: func(s string) { text.WriteString(s) },
	})

	reply := formatForSlack(text.String())
	if err != nil {
		logger.Error("slash command failed", "error", err)
		reply = ":x: " + DescribeError(err)
	}
	if err := a.slackClient.PostEphemeralResponse(cmd.ResponseURL, reply); err != nil {
		logger.Warn("failed to respond to slash command", "error", err)
	}
}

func (p *progress) render() string {
	var parts []string

	// Show current activity
	switch {
	case p.thinking:
		parts = append(parts, ":thought_balloon: Thinking...")
	case len(p.tools) > 0 && !p.tools[len(p.tools)-1].Done:
		parts = append(parts, fmt.Sprintf(":wrench: %s", p.tools[len(p.tools)-1].Summary))
	default:
		parts = append(parts, ":hourglass_flowing_sand: Researching...")
	}

	// Show tool history (last 8 entries)
	if len(p.tools) > 0 {
		start := max(0, len(p.tools)-8)
		var history []string
		for _, t := range p.tools[start:] {
			icon := ":hourglass_flowing_sand:"
			if t.Done {
				icon = ":white_check_mark:"
			}
			history = append(history, fmt.Sprintf("  %s %s", icon, t.Summary))
		}
		parts = append(parts, strings.Join(history, "\n"))
	}

	// Show text progress (truncated to tail)
	if text := p.text.String(); text != "" {
		if len(text) > 2000 {
			text = "...\n" + text[len(text)-2000:]
		}
		parts = append(parts, formatForSlack(text))
	}

	return strings.Join(parts, "\n\n")
}

func buildSummary(tools []toolEntry, final *stream.Message, elapsed time.Duration) string {
	var sb strings.Builder
	sb.WriteString("───\n")

	// Tool activity log
	if len(tools) > 0 {
		sb.WriteString(":clipboard: *Research log:*\n")
		for i, t := range tools {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, t.Summary))
		}
	}

	// Stats
	stats := []string{fmt.Sprintf(":stopwatch: %s", formatDuration(elapsed))}
	if final != nil {
		if n, ok := tokenCount(final.Usage, "outputTokens"); ok {
			stats = append(stats, fmt.Sprintf("%d output tokens", n))
		}
	}
	sb.WriteString(strings.Join(stats, "  |  "))

	return sb.String()
}

func tokenCount(usage map[string]any, key string) (int64, bool) {
	switch v := usage[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

// toolSummary describes a tool call in one line, using the most telling
// input field when there is one.
func toolSummary(name string, input any) string {
	m, ok := input.(map[string]any)
	if !ok || len(m) == 0 {
		if s, ok := input.(string); ok && s != "" {
			return fmt.Sprintf("%s: %s", name, truncateRunes(s, 80))
		}
		return name
	}
	for _, key := range []string{"query", "q", "url", "company", "name"} {
		if v, ok := m[key].(string); ok && v != "" {
			return fmt.Sprintf("%s: %s", name, truncateRunes(v, 80))
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("%s (%s)", name, strings.Join(keys, ", "))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// DescribeError turns a turn failure into a message for people.
func DescribeError(err error) string {
	var se *stream.StreamError
	if errors.As(err, &se) {
		switch se.Type {
		case stream.ErrorTypeRateLimit:
			return "The agent is rate limited. Please try again in a minute."
		case stream.ErrorTypeTimeout:
			return "The agent took too long to respond."
		case stream.ErrorTypeHTTP, stream.ErrorTypeEmptyBody:
			return "The connection to the agent was interrupted."
		case stream.ErrorTypeStatus:
			return fmt.Sprintf("The agent returned an error (status %d).", se.Status)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "The request was cancelled."
	}
	return fmt.Sprintf("Unexpected error: %s", err)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", m, s)
}

func formatForSlack(text string) string {
	// Basic conversions
	text = strings.ReplaceAll(text, "**", "*")  // bold
	text = strings.ReplaceAll(text, "###", "*") // h3 → bold
	text = strings.ReplaceAll(text, "## ", "*") // h2 → bold
	text = strings.ReplaceAll(text, "# ", "*")  // h1 → bold

	// Trim excessive whitespace
	lines := strings.Split(text, "\n")
	var result []string
	emptyCount := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			emptyCount++
			if emptyCount <= 2 {
				result = append(result, "")
			}
		} else {
			emptyCount = 0
			result = append(result, line)
		}
	}

	return strings.TrimSpace(strings.Join(result, "\n"))
}
