package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/attestra/ledgerd/internal/api"
	"github.com/attestra/ledgerd/internal/assembler"
	"github.com/attestra/ledgerd/internal/config"
	"github.com/attestra/ledgerd/internal/events"
	"github.com/attestra/ledgerd/internal/ledger"
	"github.com/attestra/ledgerd/internal/llm"
	"github.com/attestra/ledgerd/internal/retrieval"
	"github.com/attestra/ledgerd/internal/store"
	"github.com/attestra/ledgerd/internal/verify"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("ledgerd starting", "port", cfg.Port, "provider", cfg.Provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	slog.Info("database connected")

	// Inference provider
	provider, err := buildProvider(cfg)
	if err != nil {
		slog.Error("failed to configure inference provider", "error", err)
		os.Exit(1)
	}
	slog.Info("inference provider ready", "provider", cfg.Provider)

	// Retrieval (optional — empty context when unconfigured)
	retriever := retrieval.NewClient(cfg.RetrievalURL, cfg.RetrievalTimeout, slog.Default())
	if cfg.RetrievalURL == "" {
		slog.Warn("retrieval not configured — prompts will carry no external context")
	}

	// NATS (optional — the ledger works without event publishing)
	var publisher *events.Publisher
	if cfg.NatsURL != "" {
		publisher, err = events.Connect(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS not configured — running without turn events")
	}

	asm := assembler.New(cfg.Instructions)

	// A nil *events.Publisher must stay a nil interface inside the service.
	var pub ledger.EventPublisher
	if publisher != nil {
		pub = publisher
	}
	svc := ledger.New(db, provider, retriever, asm, pub, cfg.InferenceTimeout, cfg.HistoryLimit, slog.Default())

	verifier := verify.New(db, slog.Default())

	srv := api.NewServer(cfg.Port, svc, verifier, db, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	if publisher != nil {
		if err := publisher.Publish(events.SubjectRegistered, map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      cfg.Port,
			"provider":  cfg.Provider,
		}); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	}

	slog.Info("ledgerd ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown error", "error", err)
	}
	cancel()
	slog.Info("ledgerd stopped")
}

func buildProvider(cfg config.Config) (llm.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for provider anthropic")
		}
		return llm.NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.MaxTokens), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for provider openai")
		}
		return llm.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want anthropic or openai)", cfg.Provider)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
