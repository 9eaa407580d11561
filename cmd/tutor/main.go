package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/praxislearn/tutor/internal/answer"
	"github.com/praxislearn/tutor/internal/anthropic"
	"github.com/praxislearn/tutor/internal/api"
	"github.com/praxislearn/tutor/internal/config"
	"github.com/praxislearn/tutor/internal/corpus"
	"github.com/praxislearn/tutor/internal/embedding"
	"github.com/praxislearn/tutor/internal/engine"
	"github.com/praxislearn/tutor/internal/events"
	"github.com/praxislearn/tutor/internal/indexer"
	"github.com/praxislearn/tutor/internal/prompt"
	"github.com/praxislearn/tutor/internal/scope"
	"github.com/praxislearn/tutor/internal/session"
	"github.com/praxislearn/tutor/internal/vectorindex"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("tutor starting", "port", cfg.Port)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Database: one pool shared by the session store and the vector index.
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := newPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("database connected")

	sessions := session.NewPostgresFromPool(pool, cfg.SessionTTL)

	// Embedding provider; the vector index is sized to whatever it emits.
	if cfg.EmbeddingAPIKey == "" {
		slog.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}
	embedder := embedding.NewOpenAI(embedding.OpenAIConfig{
		BaseURL:   cfg.EmbeddingBaseURL,
		APIKey:    cfg.EmbeddingAPIKey,
		Model:     cfg.EmbeddingModel,
		Dimension: cfg.EmbeddingDim,
		Timeout:   cfg.EmbeddingTimeout,
	})
	slog.Info("embedding client ready", "model", cfg.EmbeddingModel, "dimensions", embedder.Dimension())

	index := vectorindex.NewPostgresFromPool(pool, embedder.Dimension())

	// Anthropic client
	if cfg.AnthropicAPIKey == "" {
		slog.Error("ANTHROPIC_API_KEY is required")
		os.Exit(1)
	}
	llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, 0)
	slog.Info("anthropic client ready", "model", cfg.AnthropicModel)

	classifier := scope.New(scope.Config{
		Threshold: cfg.ScopeThreshold,
		Blacklist: cfg.Blacklist,
	}, embedder, index)
	builder := prompt.NewBuilder(cfg.ContextCharBudget, cfg.HistoryWindow)
	generator := answer.NewLLM(llm, cfg.GenerateMaxToken)

	eng := engine.New(sessions, index, embedder, classifier, builder, generator, engine.Config{
		TopK:            cfg.TopK,
		HistoryWindow:   cfg.HistoryWindow,
		EmbedTimeout:    cfg.EmbeddingTimeout,
		QueryTimeout:    cfg.QueryTimeout,
		GenerateTimeout: cfg.GenerateTimeout,
	}, slog.Default())

	// NATS (optional, without it the service just skips content events)
	if cfg.NatsURL != "" {
		bus, err := events.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer bus.Close()
		slog.Info("NATS connected", "url", cfg.NatsURL)

		// Re-index a chapter in place when its source changes.
		chunker := corpus.NewChunker(cfg.ChunkTargetChars, cfg.ChunkOverlapPercent)
		runner := indexer.NewRunner(indexer.Config{ContentDir: cfg.ContentDir},
			chunker, embedder, index, slog.Default())
		if err := runner.Listen(ctx, bus); err != nil {
			slog.Error("failed to subscribe to content events", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("NATS not configured, running without content events")
	}

	srv := api.NewServer(cfg.Port, eng, slog.Default())
	slog.Info("tutor ready", "port", cfg.Port)
	if err := srv.Start(ctx); err != nil {
		slog.Error("HTTP server error", "error", err)
		os.Exit(1)
	}
	slog.Info("tutor stopped")
}

func newPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return pool, nil
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
