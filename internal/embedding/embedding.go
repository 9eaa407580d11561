package embedding

import (
	"context"
	"fmt"
)

// Client maps text to fixed-dimension vectors. All vectors produced by one
// client share the same dimensionality; the vector index rejects anything
// else.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// ProviderError is returned when the external embedding call fails
// (network, quota, auth). Callers decide retry policy; the client never
// retries on its own.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
