package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        int
	DatabaseURL string
	NatsURL     string
	NatsToken   string
	LogLevel    string

	// Embedding provider (OpenAI-compatible)
	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	EmbeddingModel   string
	EmbeddingDim     int
	EmbeddingTimeout time.Duration

	// Answer generation (Anthropic)
	AnthropicAPIKey  string
	AnthropicModel   string
	GenerateTimeout  time.Duration
	GenerateMaxToken int

	// Retrieval
	TopK         int
	QueryTimeout time.Duration

	// Out-of-scope classification
	ScopeThreshold float64
	Blacklist      []string

	// Context assembly
	ContextCharBudget int
	HistoryWindow     int

	// Chunking and content
	ContentDir          string
	ChunkTargetChars    int
	ChunkOverlapPercent int

	// Sessions
	SessionTTL time.Duration
}

func Load() Config {
	return Config{
		Port:        envInt("TUTOR_PORT", 8080),
		DatabaseURL: envStr("DATABASE_URL", ""),
		NatsURL:     envStr("NATS_URL", ""),
		NatsToken:   envStr("NATS_TOKEN", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),

		EmbeddingAPIKey:  envStr("OPENAI_API_KEY", ""),
		EmbeddingBaseURL: envStr("EMBEDDING_BASE_URL", "https://api.openai.com/v1"),
		EmbeddingModel:   envStr("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDim:     envInt("EMBEDDING_DIMENSIONS", 768),
		EmbeddingTimeout: envDur("EMBEDDING_TIMEOUT", 15*time.Second),

		AnthropicAPIKey:  envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:   envStr("TUTOR_MODEL", "claude-sonnet-4-20250514"),
		GenerateTimeout:  envDur("GENERATE_TIMEOUT", 60*time.Second),
		GenerateMaxToken: envInt("GENERATE_MAX_TOKENS", 1024),

		TopK:         envInt("TOP_K_RESULTS", 5),
		QueryTimeout: envDur("QUERY_TIMEOUT", 10*time.Second),

		ScopeThreshold: envFloat("SCOPE_THRESHOLD", 0.5),
		Blacklist:      envList("SCOPE_BLACKLIST", nil),

		ContextCharBudget: envInt("CONTEXT_CHAR_BUDGET", 12000),
		HistoryWindow:     envInt("HISTORY_WINDOW", 10),

		ContentDir:          envStr("CONTENT_DIR", "./content"),
		ChunkTargetChars:    envInt("CHUNK_TARGET_CHARS", 2500),
		ChunkOverlapPercent: envInt("CHUNK_OVERLAP_PERCENT", 20),

		SessionTTL: envDur("SESSION_TTL", 24*time.Hour),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList parses a comma-separated env var into a trimmed string slice.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
