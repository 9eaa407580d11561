package vectorindex

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/praxislearn/tutor/internal/corpus"
)

// Postgres stores chunk vectors in a pgvector column and ranks by cosine
// similarity in SQL. Writes happen only through the offline indexing
// pipeline; the live query path is read-only.
type Postgres struct {
	pool      *pgxpool.Pool
	dimension int
}

func NewPostgres(ctx context.Context, databaseURL string, dimension int) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool, dimension: dimension}, nil
}

// NewPostgresFromPool wraps an existing pool; the caller keeps ownership.
func NewPostgresFromPool(pool *pgxpool.Pool, dimension int) *Postgres {
	return &Postgres{pool: pool, dimension: dimension}
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Upsert(ctx context.Context, chunk corpus.Chunk, vec []float32) error {
	if len(vec) != p.dimension {
		return &IndexError{Op: "upsert", Err: fmt.Errorf("vector dimension %d, index expects %d", len(vec), p.dimension)}
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO chunks (id, chapter_id, heading_path, kind, position, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			chapter_id = EXCLUDED.chapter_id,
			heading_path = EXCLUDED.heading_path,
			kind = EXCLUDED.kind,
			position = EXCLUDED.position,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`,
		chunk.ID, chunk.ChapterID, chunk.HeadingPath, string(chunk.Kind), chunk.Position, chunk.Text, pgvector.NewVector(vec),
	)
	if err != nil {
		return &IndexError{Op: "upsert", Err: err}
	}
	return nil
}

func (p *Postgres) Query(ctx context.Context, vec []float32, topK int, filter *Filter) ([]Hit, error) {
	if len(vec) != p.dimension {
		return nil, &IndexError{Op: "query", Err: fmt.Errorf("vector dimension %d, index expects %d", len(vec), p.dimension)}
	}
	if topK <= 0 {
		return nil, nil
	}

	query := `
		SELECT id, chapter_id, heading_path, kind, position, content,
		       1 - (embedding <=> $1) AS score
		FROM chunks`
	args := []any{pgvector.NewVector(vec)}
	if filter != nil && filter.ChapterID != "" {
		query += ` WHERE chapter_id = $2`
		args = append(args, filter.ChapterID)
	}
	query += fmt.Sprintf(` ORDER BY score DESC, position ASC LIMIT %d`, topK)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &IndexError{Op: "query", Err: err}
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var kind string
		if err := rows.Scan(&h.Chunk.ID, &h.Chunk.ChapterID, &h.Chunk.HeadingPath, &kind, &h.Chunk.Position, &h.Chunk.Text, &h.Score); err != nil {
			return nil, &IndexError{Op: "query scan", Err: err}
		}
		h.Chunk.Kind = corpus.Kind(kind)
		hits = append(hits, h)
	}
	if rows.Err() != nil {
		return nil, &IndexError{Op: "query rows", Err: rows.Err()}
	}
	return hits, nil
}

func (p *Postgres) Delete(ctx context.Context, chunkID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE id = $1`, chunkID); err != nil {
		return &IndexError{Op: "delete", Err: err}
	}
	return nil
}

func (p *Postgres) ChunkIDs(ctx context.Context, chapterID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT id FROM chunks WHERE chapter_id = $1 ORDER BY id`, chapterID)
	if err != nil {
		return nil, &IndexError{Op: "list ids", Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &IndexError{Op: "list ids scan", Err: err}
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, &IndexError{Op: "list ids rows", Err: rows.Err()}
	}
	return ids, nil
}
