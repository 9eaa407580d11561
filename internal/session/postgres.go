package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores sessions and messages in the relational schema created by
// cmd/create-schema.
type Postgres struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

func NewPostgres(ctx context.Context, databaseURL string, ttl time.Duration) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewPostgresFromPool(pool, ttl), nil
}

// NewPostgresFromPool wraps an existing pool; the caller keeps ownership.
func NewPostgresFromPool(pool *pgxpool.Pool, ttl time.Duration) *Postgres {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Postgres{pool: pool, ttl: ttl}
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Create(ctx context.Context, metadata map[string]string) (Session, error) {
	now := time.Now().UTC()
	s := Session{
		ID:             newSessionID(),
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(p.ttl),
		Metadata:       metadata,
	}

	meta, err := json.Marshal(metadata)
	if err != nil {
		return Session{}, fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO sessions (id, created_at, last_activity_at, expires_at, metadata)
		VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.CreatedAt, s.LastActivityAt, s.ExpiresAt, meta,
	)
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

func (p *Postgres) Get(ctx context.Context, id string) (Session, error) {
	s, err := p.scanSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if time.Now().After(s.ExpiresAt) {
		// Lazy deletion; messages go with the session.
		_, _ = p.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
		return Session{}, ErrExpired
	}
	return s, nil
}

func (p *Postgres) Touch(ctx context.Context, id string) (Session, error) {
	s, err := p.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	now := time.Now().UTC()
	s.LastActivityAt = now
	s.ExpiresAt = now.Add(p.ttl)
	_, err = p.pool.Exec(ctx, `
		UPDATE sessions SET last_activity_at = $1, expires_at = $2 WHERE id = $3`,
		s.LastActivityAt, s.ExpiresAt, id,
	)
	if err != nil {
		return Session{}, fmt.Errorf("touch session: %w", err)
	}
	return s, nil
}

func (p *Postgres) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = newMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var sources any
	if msg.Sources != nil {
		b, err := json.Marshal(msg.Sources)
		if err != nil {
			return fmt.Errorf("marshal sources: %w", err)
		}
		sources = b
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO messages (id, session_id, role, content, created_at, chapter_id, selected_text, sources)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.CreatedAt,
		nullable(msg.ChapterID), nullable(msg.SelectedText), sources,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (p *Postgres) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	return p.listMessages(ctx, sessionID, 0)
}

func (p *Postgres) Recent(ctx context.Context, sessionID string, n int) ([]Message, error) {
	return p.listMessages(ctx, sessionID, n)
}

func (p *Postgres) listMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if _, err := p.scanSession(ctx, sessionID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, session_id, role, content, created_at, chapter_id, selected_text, sources
		FROM (
			SELECT m.*, m.seq AS ord FROM messages m
			WHERE m.session_id = $1
			ORDER BY m.seq DESC
			%s
		) sub ORDER BY ord ASC`
	limitClause := ""
	if limit > 0 {
		limitClause = fmt.Sprintf("LIMIT %d", limit)
	}

	rows, err := p.pool.Query(ctx, fmt.Sprintf(query, limitClause), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var chapterID, selectedText *string
		var sources []byte
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt, &chapterID, &selectedText, &sources); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if chapterID != nil {
			m.ChapterID = *chapterID
		}
		if selectedText != nil {
			m.SelectedText = *selectedText
		}
		if sources != nil {
			if err := json.Unmarshal(sources, &m.Sources); err != nil {
				return nil, fmt.Errorf("unmarshal sources: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate messages: %w", rows.Err())
	}
	return msgs, nil
}

func (p *Postgres) scanSession(ctx context.Context, id string) (Session, error) {
	var s Session
	var meta []byte
	err := p.pool.QueryRow(ctx, `
		SELECT id, created_at, last_activity_at, expires_at, metadata
		FROM sessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt, &meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("select session: %w", err)
	}
	if meta != nil {
		if err := json.Unmarshal(meta, &s.Metadata); err != nil {
			return Session{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return s, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
