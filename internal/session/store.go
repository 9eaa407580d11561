package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means no session exists with the given id.
	ErrNotFound = errors.New("session not found")
	// ErrExpired means the session existed but its TTL has lapsed. The
	// orchestrator treats it like ErrNotFound and starts a fresh session.
	ErrExpired = errors.New("session expired")
)

// Session is one learner's conversation. The TTL slides: every message
// pushes ExpiresAt out from LastActivityAt.
type Session struct {
	ID             string
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
	Metadata       map[string]string
}

// Source is one citation attached to an assistant message.
type Source struct {
	ChunkID        string  `json:"chunk_id"`
	ChapterID      string  `json:"chapter_id"`
	Section        string  `json:"section"`
	Excerpt        string  `json:"excerpt"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Message is one turn within a session. Messages are append-only; sources
// are set when the assistant turn is persisted and never mutated after.
type Message struct {
	ID           string
	SessionID    string
	Role         string
	Content      string
	CreatedAt    time.Time
	ChapterID    string
	SelectedText string
	Sources      []Source
}

// Store persists sessions and their messages.
type Store interface {
	// Create starts a new session with a fresh id and full TTL.
	Create(ctx context.Context, metadata map[string]string) (Session, error)
	// Get returns a live session, ErrExpired for a lapsed one (which may be
	// lazily deleted), or ErrNotFound.
	Get(ctx context.Context, id string) (Session, error)
	// Touch slides the TTL from now and returns the updated session.
	Touch(ctx context.Context, id string) (Session, error)
	// AppendMessage stores one turn. Empty ID and CreatedAt are filled in.
	AppendMessage(ctx context.Context, msg *Message) error
	// Messages returns all turns in chronological order.
	Messages(ctx context.Context, sessionID string) ([]Message, error)
	// Recent returns the last n turns in chronological order.
	Recent(ctx context.Context, sessionID string, n int) ([]Message, error)
}

func newSessionID() string {
	return "sess-" + shortHex()
}

func newMessageID() string {
	return "msg-" + shortHex()
}

func shortHex() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}
