package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/toshin/competitor-agent/internal/domain"
)

type Config struct {
	// HTTP server
	Port string `yaml:"port"`

	// Agent runtime
	AgentEndpoint string        `yaml:"agent_endpoint"` // full invocation URL; derived from ARN and region when empty
	AgentARN      string        `yaml:"agent_arn"`
	AWSRegion     string        `yaml:"aws_region"`
	AgentID       string        `yaml:"agent_id"`
	AgentToken    string        `yaml:"agent_token"`
	AgentTimeout  time.Duration `yaml:"agent_timeout"`
	SessionHeader string        `yaml:"session_header"`

	// Direct model mode bypasses the agent runtime
	UseModel        bool   `yaml:"use_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	GCPProjectID    string `yaml:"gcp_project_id"`
	GCPLocation     string `yaml:"gcp_location"`
	ClaudeModel     string `yaml:"claude_model"`

	// Slack
	SlackBotToken      string `yaml:"slack_bot_token"`
	SlackAppToken      string `yaml:"slack_app_token"`
	SlackSigningSecret string `yaml:"slack_signing_secret"`

	// GitHub transcript export
	GitHubPAT string `yaml:"github_pat"`

	// Company profile sent with every turn
	CompanyFile string          `yaml:"company_file"`
	Company     *domain.Company `yaml:"company"`
}

// Load reads CONFIG_FILE (optional), applies environment overrides and
// resolves secretmanager:// references.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, nil)
}

func load(ctx context.Context, resolver SecretResolver) (*Config, error) {
	cfg := &Config{
		Port:          "8080",
		AgentTimeout:  5 * time.Minute,
		SessionHeader: "X-Amzn-Bedrock-AgentCore-Runtime-Session-Id",
		AWSRegion:     "us-east-1",
		GCPLocation:   "us-east5",
		ClaudeModel:   "claude-sonnet-4-5",
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if cfg.hasSecretRefs() {
		if resolver == nil {
			sm, err := NewSecretManagerResolver(ctx)
			if err != nil {
				return nil, err
			}
			defer sm.Close()
			resolver = sm
		}
		if err := cfg.resolveSecrets(ctx, resolver); err != nil {
			return nil, err
		}
	}

	if cfg.AgentEndpoint == "" && cfg.AgentARN != "" {
		cfg.AgentEndpoint = AgentCoreEndpoint(cfg.AWSRegion, cfg.AgentARN)
	}

	if cfg.Company == nil && cfg.CompanyFile != "" {
		company, err := domain.LoadCompany(cfg.CompanyFile)
		if err != nil {
			return nil, err
		}
		cfg.Company = company
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvDefault("PORT", c.Port)
	c.AgentEndpoint = getEnvDefault("AGENT_ENDPOINT", c.AgentEndpoint)
	c.AgentARN = getEnvDefault("AGENT_ARN", c.AgentARN)
	c.AWSRegion = getEnvDefault("AWS_REGION", c.AWSRegion)
	c.AgentID = getEnvDefault("AGENT_ID", c.AgentID)
	c.AgentToken = getEnvDefault("AGENT_TOKEN", c.AgentToken)
	c.AgentTimeout = time.Duration(getEnvIntDefault("AGENT_TIMEOUT_SECONDS", int(c.AgentTimeout/time.Second))) * time.Second
	c.SessionHeader = getEnvDefault("SESSION_HEADER", c.SessionHeader)
	c.UseModel = getEnvBoolDefault("USE_MODEL", c.UseModel)
	c.AnthropicAPIKey = getEnvDefault("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.GCPProjectID = getEnvDefault("GCP_PROJECT_ID", c.GCPProjectID)
	c.GCPLocation = getEnvDefault("GCP_LOCATION", c.GCPLocation)
	c.ClaudeModel = getEnvDefault("CLAUDE_MODEL", c.ClaudeModel)
	c.SlackBotToken = getEnvDefault("SLACK_BOT_TOKEN", c.SlackBotToken)
	c.SlackAppToken = getEnvDefault("SLACK_APP_TOKEN", c.SlackAppToken)
	c.SlackSigningSecret = getEnvDefault("SLACK_SIGNING_SECRET", c.SlackSigningSecret)
	c.GitHubPAT = getEnvDefault("GITHUB_PAT", c.GitHubPAT)
	c.CompanyFile = getEnvDefault("COMPANY_FILE", c.CompanyFile)
}

// secretFields lists the values that may hold a secretmanager:// reference.
func (c *Config) secretFields() map[string]*string {
	return map[string]*string{
		"AGENT_TOKEN":          &c.AgentToken,
		"ANTHROPIC_API_KEY":    &c.AnthropicAPIKey,
		"SLACK_BOT_TOKEN":      &c.SlackBotToken,
		"SLACK_APP_TOKEN":      &c.SlackAppToken,
		"SLACK_SIGNING_SECRET": &c.SlackSigningSecret,
		"GITHUB_PAT":           &c.GitHubPAT,
	}
}

func (c *Config) hasSecretRefs() bool {
	for _, v := range c.secretFields() {
		if IsSecretRef(*v) {
			return true
		}
	}
	return false
}

func (c *Config) resolveSecrets(ctx context.Context, resolver SecretResolver) error {
	for name, v := range c.secretFields() {
		if !IsSecretRef(*v) {
			continue
		}
		secret, err := resolver.Resolve(ctx, strings.TrimPrefix(*v, secretScheme))
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", name, err)
		}
		*v = secret
	}
	return nil
}

// AgentCoreEndpoint builds the invocation URL of an agent runtime.
func AgentCoreEndpoint(region, arn string) string {
	return fmt.Sprintf("https://bedrock-agentcore.%s.amazonaws.com/runtimes/%s/invocations?qualifier=DEFAULT",
		region, url.QueryEscape(arn))
}

func (c *Config) validate() error {
	if c.UseModel {
		if c.AnthropicAPIKey == "" && c.GCPProjectID == "" {
			return fmt.Errorf("direct model mode needs ANTHROPIC_API_KEY or GCP_PROJECT_ID")
		}
	} else if c.AgentEndpoint == "" {
		return fmt.Errorf("required config AGENT_ENDPOINT or AGENT_ARN is not set")
	}

	if c.AgentTimeout <= 0 {
		return fmt.Errorf("AGENT_TIMEOUT_SECONDS must be positive")
	}

	// Socket mode needs both tokens
	if c.SlackAppToken != "" && c.SlackBotToken == "" {
		return fmt.Errorf("required config SLACK_BOT_TOKEN is not set")
	}

	return nil
}

// SlackEnabled reports whether the Slack front-end should start.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

func getEnvDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvIntDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvBoolDefault(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
