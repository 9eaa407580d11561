package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"TUTOR_PORT", "DATABASE_URL", "NATS_URL", "NATS_TOKEN", "LOG_LEVEL",
		"OPENAI_API_KEY", "EMBEDDING_BASE_URL", "EMBEDDING_MODEL",
		"EMBEDDING_DIMENSIONS", "ANTHROPIC_API_KEY", "TUTOR_MODEL",
		"TOP_K_RESULTS", "SCOPE_THRESHOLD", "SCOPE_BLACKLIST",
		"CONTEXT_CHAR_BUDGET", "HISTORY_WINDOW", "CHUNK_TARGET_CHARS",
		"CHUNK_OVERLAP_PERCENT", "SESSION_TTL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.EmbeddingModel != "text-embedding-3-small" {
		t.Errorf("EmbeddingModel = %q", cfg.EmbeddingModel)
	}
	if cfg.EmbeddingDim != 768 {
		t.Errorf("EmbeddingDim = %d, want 768", cfg.EmbeddingDim)
	}
	if cfg.ScopeThreshold != 0.5 {
		t.Errorf("ScopeThreshold = %v, want 0.5", cfg.ScopeThreshold)
	}
	if cfg.TopK != 5 {
		t.Errorf("TopK = %d, want 5", cfg.TopK)
	}
	if cfg.HistoryWindow != 10 {
		t.Errorf("HistoryWindow = %d, want 10", cfg.HistoryWindow)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("SessionTTL = %v, want 24h", cfg.SessionTTL)
	}
	if cfg.Blacklist != nil {
		t.Errorf("Blacklist = %v, want nil", cfg.Blacklist)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TUTOR_PORT", "9090")
	t.Setenv("SCOPE_THRESHOLD", "0.65")
	t.Setenv("SESSION_TTL", "48h")
	t.Setenv("SCOPE_BLACKLIST", "stock, crypto ,lawsuit")

	cfg := Load()

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.ScopeThreshold != 0.65 {
		t.Errorf("ScopeThreshold = %v, want 0.65", cfg.ScopeThreshold)
	}
	if cfg.SessionTTL != 48*time.Hour {
		t.Errorf("SessionTTL = %v, want 48h", cfg.SessionTTL)
	}
	want := []string{"stock", "crypto", "lawsuit"}
	if len(cfg.Blacklist) != len(want) {
		t.Fatalf("Blacklist = %v, want %v", cfg.Blacklist, want)
	}
	for i := range want {
		if cfg.Blacklist[i] != want[i] {
			t.Errorf("Blacklist[%d] = %q, want %q", i, cfg.Blacklist[i], want[i])
		}
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("TUTOR_PORT", "not-a-number")
	t.Setenv("SCOPE_THRESHOLD", "high")
	t.Setenv("SESSION_TTL", "tomorrow")

	cfg := Load()

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want fallback 8080", cfg.Port)
	}
	if cfg.ScopeThreshold != 0.5 {
		t.Errorf("ScopeThreshold = %v, want fallback 0.5", cfg.ScopeThreshold)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("SessionTTL = %v, want fallback 24h", cfg.SessionTTL)
	}
}
