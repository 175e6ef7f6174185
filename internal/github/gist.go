package github

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	gh "github.com/google/go-github/v60/github"

	"github.com/toshin/competitor-agent/internal/stream"
)

// Turn is one prompt and the messages the agent answered it with.
type Turn struct {
	Prompt   string
	Messages []*stream.Message
}

// Transcript is an exported conversation.
type Transcript struct {
	Title     string
	SessionID string
	Company   string
	Turns     []Turn
	CreatedAt time.Time
}

// ExportTranscript uploads the transcript as a secret gist and returns its URL.
func (c *Client) ExportTranscript(ctx context.Context, t *Transcript) (string, error) {
	if len(t.Turns) == 0 {
		return "", fmt.Errorf("transcript is empty")
	}

	filename := transcriptFilename(t)
	gist := &gh.Gist{
		Description: gh.String(t.Title),
		Public:      gh.Bool(false),
		Files: map[gh.GistFilename]gh.GistFile{
			gh.GistFilename(filename): {
				Filename: gh.String(filename),
				Content:  gh.String(RenderMarkdown(t)),
			},
		},
	}

	created, _, err := c.client.Gists.Create(ctx, gist)
	if err != nil {
		return "", fmt.Errorf("failed to create gist: %w", err)
	}

	slog.Info("transcript exported", "gist_id", created.GetID(), "turns", len(t.Turns))
	return created.GetHTMLURL(), nil
}

// RenderMarkdown formats a transcript for reading on GitHub.
func RenderMarkdown(t *Transcript) string {
	var sb strings.Builder

	title := t.Title
	if title == "" {
		title = "Competitor research"
	}
	sb.WriteString(fmt.Sprintf("# %s\n\n", title))
	if !t.CreatedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("_Exported %s_\n\n", t.CreatedAt.UTC().Format(time.RFC3339)))
	}
	if t.SessionID != "" {
		sb.WriteString(fmt.Sprintf("Session: `%s`\n\n", t.SessionID))
	}
	if t.Company != "" {
		sb.WriteString("## Company\n\n")
		sb.WriteString(t.Company)
		sb.WriteString("\n\n")
	}

	for i, turn := range t.Turns {
		sb.WriteString(fmt.Sprintf("## Turn %d\n\n", i+1))
		sb.WriteString("**Prompt:**\n\n")
		sb.WriteString(quote(turn.Prompt))
		sb.WriteString("\n\n")

		for _, msg := range turn.Messages {
			if msg == nil {
				continue
			}
			for _, tool := range msg.ToolUses() {
				sb.WriteString(fmt.Sprintf("- :wrench: `%s` %s\n", tool.Name, toolInputSummary(tool.Input)))
			}
			if text := strings.TrimSpace(msg.Text()); text != "" {
				sb.WriteString("\n")
				sb.WriteString(text)
				sb.WriteString("\n\n")
			}
		}
	}

	return strings.TrimRight(sb.String(), "\n") + "\n"
}

var unsafeFilenameRe = regexp.MustCompile(`[^a-z0-9]+`)

func transcriptFilename(t *Transcript) string {
	name := strings.Trim(unsafeFilenameRe.ReplaceAllString(strings.ToLower(t.Title), "-"), "-")
	if name == "" {
		name = "transcript"
	}
	if len(name) > 40 {
		name = strings.TrimRight(name[:40], "-")
	}
	return name + ".md"
}

func quote(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

func toolInputSummary(input any) string {
	switch v := input.(type) {
	case nil:
		return ""
	case string:
		if v == "" {
			return ""
		}
		return "`" + v + "`"
	}
	b, err := json.Marshal(input)
	if err != nil {
		return ""
	}
	return "`" + string(b) + "`"
}
