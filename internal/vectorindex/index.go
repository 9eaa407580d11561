package vectorindex

import (
	"context"
	"fmt"

	"github.com/praxislearn/tutor/internal/corpus"
)

// Hit is one nearest-neighbor match: the stored chunk plus its cosine
// similarity to the query vector on a 0-1 scale.
type Hit struct {
	Chunk corpus.Chunk
	Score float64
}

// Filter restricts a query to chunks whose payload matches. Zero values
// mean no restriction.
type Filter struct {
	ChapterID string
}

// Index stores chunk vectors with their payload and answers nearest-neighbor
// queries. Results come back sorted by similarity descending; ties break by
// chunk position ascending so queries are reproducible.
type Index interface {
	// Upsert is idempotent: re-upserting a chunk id replaces the prior
	// vector and payload.
	Upsert(ctx context.Context, chunk corpus.Chunk, vec []float32) error
	Query(ctx context.Context, vec []float32, topK int, filter *Filter) ([]Hit, error)
	Delete(ctx context.Context, chunkID string) error
	// ChunkIDs lists the ids currently stored for a chapter; the indexer
	// diffs against it to delete stale chunks on incremental runs.
	ChunkIDs(ctx context.Context, chapterID string) ([]string, error)
}

// IndexError wraps a query or upsert failure from the backing store.
type IndexError struct {
	Op  string
	Err error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("vector index: %s: %v", e.Op, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }
