package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/quietriver/assistant/internal/api"
	"github.com/quietriver/assistant/internal/config"
	"github.com/quietriver/assistant/internal/llm"
	"github.com/quietriver/assistant/internal/ratelimit"
	"github.com/quietriver/assistant/internal/server"
	"github.com/quietriver/assistant/internal/session"
	"github.com/quietriver/assistant/internal/storage/sqlite"
	"github.com/quietriver/assistant/internal/telemetry"
	"github.com/quietriver/assistant/internal/tokens"
	"github.com/quietriver/assistant/internal/tools"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("assistant", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	limiters := api.Limiters{
		API: ratelimit.NewFixedWindow(ratelimit.Config{
			Window:  cfg.RateLimit.API.Window,
			Max:     cfg.RateLimit.API.Max,
			Message: "too many requests, slow down",
		}),
		Chat: ratelimit.NewSlidingWindow(ratelimit.Config{
			Window:  cfg.RateLimit.Chat.Window,
			Max:     cfg.RateLimit.Chat.Max,
			Message: "chat limit reached, wait a moment",
		}),
		Auth: ratelimit.NewFixedWindow(ratelimit.Config{
			Window:  cfg.RateLimit.Auth.Window,
			Max:     cfg.RateLimit.Auth.Max,
			Message: "too many auth attempts",
		}),
		Tools: ratelimit.NewFixedWindow(ratelimit.Config{
			Window:  cfg.RateLimit.Tools.Window,
			Max:     cfg.RateLimit.Tools.Max,
			Message: "tool budget exhausted",
		}),
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go ratelimit.SweepLoop(sweepCtx, ratelimit.SweepInterval,
		limiters.API, limiters.Chat, limiters.Auth, limiters.Tools)

	budgeter, err := tokens.NewBudgeter(cfg.LLM.TokenBudget)
	if err != nil {
		log.Fatalf("Failed to load tokenizer: %v", err)
	}

	registry := tools.NewRegistry(
		tools.NewWeather(http.DefaultClient, cfg.Tools.GeocodeURL, cfg.Tools.ForecastURL),
		tools.NewMotorsport(http.DefaultClient, cfg.Tools.ErgastURL),
		tools.NewStocks(http.DefaultClient, cfg.Tools.FinnhubURL, cfg.Tools.FinnhubKey),
	)

	client := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	resolver := session.NewResolver(store, cfg.Session.CookieName)

	srv := server.New(cfg.Server.Port, logger)
	srv.Router.Use(server.TimeoutMiddleware(cfg.Server.RequestTimeout))

	handlers := api.NewHandlers(store, client, registry, budgeter, resolver, limiters, logger)
	handlers.Mount(srv.Router, server.NewWrapper(logger, resolver))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info("assistant started",
		slog.Int("port", cfg.Server.Port),
		slog.String("model", cfg.LLM.Model),
		slog.String("db", cfg.Database.Path))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
