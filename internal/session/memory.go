package session

import (
	"context"
	"sync"
	"time"
)

// Memory keeps sessions in process memory. It backs unit tests and local
// development without Postgres.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]Session
	messages map[string][]Message
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Memory{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]Session),
		messages: make(map[string][]Message),
	}
}

// SetClock overrides the time source for expiry tests.
func (m *Memory) SetClock(now func() time.Time) { m.now = now }

func (m *Memory) Create(_ context.Context, metadata map[string]string) (Session, error) {
	now := m.now().UTC()
	s := Session{
		ID:             newSessionID(),
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(m.ttl),
		Metadata:       metadata,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return s, nil
}

func (m *Memory) Get(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if m.now().After(s.ExpiresAt) {
		delete(m.sessions, id)
		delete(m.messages, id)
		return Session{}, ErrExpired
	}
	return s, nil
}

func (m *Memory) Touch(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	now := m.now().UTC()
	if now.After(s.ExpiresAt) {
		delete(m.sessions, id)
		delete(m.messages, id)
		return Session{}, ErrExpired
	}
	s.LastActivityAt = now
	s.ExpiresAt = now.Add(m.ttl)
	m.sessions[id] = s
	return s, nil
}

func (m *Memory) AppendMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[msg.SessionID]; !ok {
		return ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = newMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now().UTC()
	}
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], *msg)
	return nil
}

func (m *Memory) Messages(_ context.Context, sessionID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	msgs := m.messages[sessionID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *Memory) Recent(ctx context.Context, sessionID string, n int) ([]Message, error) {
	msgs, err := m.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}
