package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/praxislearn/tutor/internal/anthropic"
	"github.com/praxislearn/tutor/internal/prompt"
)

// Result is a completed generation. Refused is set when the model invoked
// the fixed refusal phrase because the excerpts could not support an
// answer; the orchestrator treats that as a clean terminal outcome, not a
// failure.
type Result struct {
	Text    string
	Refused bool
}

// Generator produces a grounded answer from an assembled context.
type Generator interface {
	Generate(ctx context.Context, pc prompt.Context) (Result, error)
}

// GenerationError wraps LLM transport failures and malformed output. The
// orchestrator converts it to a user-facing apology and persists nothing
// for the turn.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("answer generation: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// LLM generates answers through the Anthropic messages API.
type LLM struct {
	client    *anthropic.Client
	maxTokens int
}

func NewLLM(client *anthropic.Client, maxTokens int) *LLM {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &LLM{client: client, maxTokens: maxTokens}
}

func (g *LLM) Generate(ctx context.Context, pc prompt.Context) (Result, error) {
	messages := make([]anthropic.Message, 0, len(pc.History)+1)
	for _, turn := range pc.History {
		if turn.Role != "user" && turn.Role != "assistant" {
			continue
		}
		messages = append(messages, anthropic.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, anthropic.Message{Role: "user", Content: pc.UserMessage()})

	text, err := g.client.Complete(ctx, pc.System, messages, g.maxTokens)
	if err != nil {
		return Result{}, &GenerationError{Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, &GenerationError{Err: fmt.Errorf("empty completion")}
	}

	return Result{
		Text:    text,
		Refused: strings.Contains(text, prompt.RefusalPhrase),
	}, nil
}
