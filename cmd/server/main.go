package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/toshin/competitor-agent/internal/agent"
	"github.com/toshin/competitor-agent/internal/app"
	"github.com/toshin/competitor-agent/internal/config"
	ghclient "github.com/toshin/competitor-agent/internal/github"
	slackclient "github.com/toshin/competitor-agent/internal/slack"
	"github.com/toshin/competitor-agent/internal/web"
)

func main() {
	// JSON structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := config.Load(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	streamer, err := app.NewStreamer(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to create agent client", "error", err)
		os.Exit(1)
	}
	params := app.TurnParams(cfg)

	// Setup router
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/ws", web.NewRelay(streamer, params, cfg.AgentTimeout, logger).ServeHTTP)

	if cfg.SlackEnabled() {
		var exporter agent.Exporter
		if cfg.GitHubPAT != "" {
			exporter = ghclient.NewClient(cfg.GitHubPAT)
		}

		slackHandler := slackclient.NewHandler(cfg.SlackAppToken, cfg.SlackBotToken, nil)
		ag := agent.New(slackclient.NewClient(slackHandler.APIClient()), streamer, exporter, agent.Options{
			Params:      params,
			Company:     app.CompanySummary(cfg),
			TurnTimeout: cfg.AgentTimeout,
		}, logger)
		slackHandler.SetMentionHandler(ag)

		if cfg.SlackSigningSecret != "" {
			r.With(slackclient.VerifyMiddleware(cfg.SlackSigningSecret)).Post("/slack/commands", slackHandler.ServeCommands)
		}

		go func() {
			slog.Info("slack socket mode starting")
			if err := slackHandler.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("slack socket mode error", "error", err)
			}
		}()
	}

	// Server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
