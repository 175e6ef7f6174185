// Command agentcli chats with the competitor research agent from a terminal.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/toshin/competitor-agent/internal/agent"
	"github.com/toshin/competitor-agent/internal/app"
	"github.com/toshin/competitor-agent/internal/config"
	"github.com/toshin/competitor-agent/internal/console"
	"github.com/toshin/competitor-agent/internal/domain"
)

var (
	verbose    bool
	noThinking bool
	sessionID  string
	agentARN   string
	region     string
	prompt     string
)

var rootCmd = &cobra.Command{
	Use:   "agentcli",
	Short: "Chat with the competitor research agent",
	Long: `agentcli streams answers from the competitor research agent.
Without --prompt it starts an interactive session; type "clear" to start
over and "exit" to leave.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every raw stream event")
	rootCmd.Flags().BoolVar(&noThinking, "no-thinking", false, "Hide the agent's thinking")
	rootCmd.Flags().StringVar(&sessionID, "session-id", "", "Resume an existing session id")
	rootCmd.Flags().StringVar(&agentARN, "agent-arn", "", "Agent runtime ARN (overrides AGENT_ARN)")
	rootCmd.Flags().StringVar(&region, "region", "", "AWS region of the agent runtime (overrides AWS_REGION)")
	rootCmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Ask one question and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger()

	if agentARN != "" {
		os.Setenv("AGENT_ARN", agentARN)
		os.Setenv("AGENT_ENDPOINT", "")
	}
	if region != "" {
		os.Setenv("AWS_REGION", region)
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	streamer, err := app.NewStreamer(ctx, cfg, logger)
	if err != nil {
		return err
	}

	conv := domain.NewConversation("", "")
	if sessionID != "" {
		conv.SetSessionID(sessionID)
	}
	orch := agent.NewOrchestrator(streamer, conv, app.TurnParams(cfg), logger)
	display := console.NewDisplay(cmd.OutOrStdout(), console.Options{Verbose: verbose, HideThinking: noThinking})

	if prompt != "" {
		_, err := orch.Send(ctx, prompt, display.Callbacks())
		return err
	}

	display.Info("session %s (type \"exit\" to quit, \"clear\" to start over)", conv.SessionID())
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(cmd.OutOrStdout(), "\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch domain.DetectCommand(line) {
		case domain.CommandExit:
			return nil
		case domain.CommandClear:
			orch.Clear()
			display.Info("conversation cleared, new session %s", conv.SessionID())
			continue
		case domain.CommandHelp:
			display.Info("ask anything about your market; commands: clear, exit")
			continue
		}

		if _, err := orch.Send(ctx, line, display.Callbacks()); err != nil && ctx.Err() != nil {
			return nil
		}
	}
}

// newLogger creates a structured logger with the configured verbosity.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
