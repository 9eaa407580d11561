//go:build integration

package session

import (
	"context"
	"os"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *Postgres {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := NewPostgres(ctx, dbURL, 24*time.Hour)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestIntegration_SessionRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, map[string]string{"initial_chapter_id": "ch-1-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.AppendMessage(ctx, &Message{
		SessionID: sess.ID, Role: "user", Content: "What is embodied intelligence?", ChapterID: "ch-1-1",
	}); err != nil {
		t.Fatalf("append user: %v", err)
	}
	if err := s.AppendMessage(ctx, &Message{
		SessionID: sess.ID, Role: "assistant", Content: "It couples perception and action.",
		Sources: []Source{{ChunkID: "c1", ChapterID: "ch-1-1", Section: "Chapter 1", Excerpt: "...", RelevanceScore: 0.9}},
	}); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	msgs, err := s.Messages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("wrong order: %s then %s", msgs[0].Role, msgs[1].Role)
	}
	if len(msgs[1].Sources) != 1 || msgs[1].Sources[0].ChunkID != "c1" {
		t.Errorf("sources not round-tripped: %+v", msgs[1].Sources)
	}

	touched, err := s.Touch(ctx, sess.ID)
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if !touched.ExpiresAt.After(sess.ExpiresAt) {
		t.Errorf("touch did not slide expiry: %v vs %v", touched.ExpiresAt, sess.ExpiresAt)
	}
}
