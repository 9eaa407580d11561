package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/praxislearn/tutor/internal/config"
)

// statements run in order; each is idempotent so the command can be re-run
// against an existing database.
func statements(dimension int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id           TEXT PRIMARY KEY,
			chapter_id   TEXT NOT NULL,
			heading_path TEXT[],
			kind         TEXT NOT NULL,
			position     INTEGER NOT NULL,
			content      TEXT NOT NULL,
			embedding    VECTOR(%d) NOT NULL
		)`, dimension),
		`CREATE INDEX IF NOT EXISTS idx_chunks_chapter ON chunks (chapter_id)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id               TEXT PRIMARY KEY,
			created_at       TIMESTAMPTZ NOT NULL,
			last_activity_at TIMESTAMPTZ NOT NULL,
			expires_at       TIMESTAMPTZ NOT NULL,
			metadata         JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions (expires_at)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id            TEXT PRIMARY KEY,
			seq           BIGSERIAL,
			session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role          TEXT NOT NULL,
			content       TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL,
			chapter_id    TEXT,
			selected_text TEXT,
			sources       JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_seq ON messages (session_id, seq)`,
	}
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	handler := slog.NewJSONHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(handler))

	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	for _, stmt := range statements(cfg.EmbeddingDim) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			slog.Error("schema statement failed", "error", err, "statement", stmt)
			os.Exit(1)
		}
	}

	slog.Info("schema ready", "embedding_dimensions", cfg.EmbeddingDim)
}
