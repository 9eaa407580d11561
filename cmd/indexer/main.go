package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/praxislearn/tutor/internal/config"
	"github.com/praxislearn/tutor/internal/corpus"
	"github.com/praxislearn/tutor/internal/embedding"
	"github.com/praxislearn/tutor/internal/events"
	"github.com/praxislearn/tutor/internal/indexer"
	"github.com/praxislearn/tutor/internal/vectorindex"
)

func main() {
	contentDir := flag.String("content", "./content", "directory of chapter Markdown files")
	chapters := flag.String("chapters", "", "comma-separated chapter ids to index (default: all)")
	full := flag.Bool("full", false, "re-embed every chunk instead of diffing by chunk id")
	dryRun := flag.Bool("dry-run", false, "report what would change without writing")
	watch := flag.Bool("watch", false, "keep running and re-index on content events")
	batchSize := flag.Int("batch", 32, "chunks per embedding request")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

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

	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	index, err := vectorindex.NewPostgres(ctx, cfg.DatabaseURL, embedder.Dimension())
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer index.Close()

	runCfg := indexer.Config{
		ContentDir: *contentDir,
		Full:       *full,
		DryRun:     *dryRun,
		BatchSize:  *batchSize,
	}
	if *chapters != "" {
		for _, c := range strings.Split(*chapters, ",") {
			if c = strings.TrimSpace(c); c != "" {
				runCfg.Chapters = append(runCfg.Chapters, c)
			}
		}
	}

	chunker := corpus.NewChunker(cfg.ChunkTargetChars, cfg.ChunkOverlapPercent)
	runner := indexer.NewRunner(runCfg, chunker, embedder, index, slog.Default())

	var bus *events.Client
	if cfg.NatsURL != "" {
		bus, err = events.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer bus.Close()
	}

	stats, err := runner.Run(ctx)
	if err != nil {
		slog.Error("indexing failed", "error", err)
		os.Exit(1)
	}

	if bus != nil && !*dryRun {
		if err := bus.Publish(events.SubjectIndexCompleted, events.IndexCompleted{
			Chapters:    stats.Chapters,
			Chunks:      stats.Upserted,
			Full:        *full,
			CompletedAt: time.Now().UTC(),
		}); err != nil {
			slog.Warn("failed to publish index completion", "error", err)
		}
	}

	if *watch {
		if bus == nil {
			slog.Error("watch mode requires NATS_URL")
			os.Exit(1)
		}
		if err := runner.Listen(ctx, bus); err != nil {
			slog.Error("failed to subscribe to content events", "error", err)
			os.Exit(1)
		}
		slog.Info("watching for content updates")
		<-ctx.Done()
	}

	slog.Info("indexer finished",
		"chapters", len(stats.Chapters),
		"upserted", stats.Upserted,
		"skipped", stats.Skipped,
		"deleted", stats.Deleted,
	)
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
