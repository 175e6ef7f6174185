// Package app builds the agent stack from configuration.
package app

import (
	"context"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/toshin/competitor-agent/internal/agent"
	"github.com/toshin/competitor-agent/internal/claude"
	"github.com/toshin/competitor-agent/internal/config"
	"github.com/toshin/competitor-agent/internal/stream"
)

// NewStreamer returns the agent runtime transport, or the direct model client
// when USE_MODEL is set.
func NewStreamer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (agent.Streamer, error) {
	if cfg.UseModel {
		logger.Info("using direct model mode", "model", cfg.ClaudeModel)
		return claude.NewModelClient(ctx, claude.Config{
			APIKey:    cfg.AnthropicAPIKey,
			ProjectID: cfg.GCPProjectID,
			Location:  cfg.GCPLocation,
			Model:     cfg.ClaudeModel,
		}, logger), nil
	}

	var tokens oauth2.TokenSource
	if cfg.AgentToken != "" {
		tokens = oauth2.ReuseTokenSource(nil, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AgentToken}))
	}
	logger.Info("using agent runtime", "endpoint", cfg.AgentEndpoint)
	return stream.NewClient(stream.ClientConfig{
		Endpoint:      cfg.AgentEndpoint,
		AgentID:       cfg.AgentID,
		Timeout:       cfg.AgentTimeout,
		SessionHeader: cfg.SessionHeader,
	}, tokens, &http.Client{}, logger), nil
}

// TurnParams are the extra body fields sent with every turn.
func TurnParams(cfg *config.Config) map[string]any {
	params := map[string]any{}
	if cfg.Company != nil {
		params["company_information"] = cfg.Company.String()
	}
	return params
}

// CompanySummary is the company profile as shown to people.
func CompanySummary(cfg *config.Config) string {
	if cfg.Company == nil {
		return ""
	}
	return cfg.Company.String()
}
