package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/praxislearn/tutor/internal/corpus"
)

// Memory is a brute-force in-memory index. It backs unit tests and small
// corpora; the production path uses Postgres.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	entries   map[string]memoryEntry
}

type memoryEntry struct {
	chunk corpus.Chunk
	vec   []float32
}

func NewMemory(dimension int) *Memory {
	return &Memory{
		dimension: dimension,
		entries:   make(map[string]memoryEntry),
	}
}

func (m *Memory) Upsert(_ context.Context, chunk corpus.Chunk, vec []float32) error {
	if len(vec) != m.dimension {
		return &IndexError{Op: "upsert", Err: fmt.Errorf("vector dimension %d, index expects %d", len(vec), m.dimension)}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]float32, len(vec))
	copy(v, vec)
	m.entries[chunk.ID] = memoryEntry{chunk: chunk, vec: v}
	return nil
}

func (m *Memory) Query(_ context.Context, vec []float32, topK int, filter *Filter) ([]Hit, error) {
	if len(vec) != m.dimension {
		return nil, &IndexError{Op: "query", Err: fmt.Errorf("vector dimension %d, index expects %d", len(vec), m.dimension)}
	}
	if topK <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]Hit, 0, len(m.entries))
	for _, e := range m.entries {
		if filter != nil && filter.ChapterID != "" && e.chunk.ChapterID != filter.ChapterID {
			continue
		}
		hits = append(hits, Hit{Chunk: e.chunk, Score: cosine(vec, e.vec)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.Position < hits[j].Chunk.Position
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *Memory) Delete(_ context.Context, chunkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, chunkID)
	return nil
}

func (m *Memory) ChunkIDs(_ context.Context, chapterID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, e := range m.entries {
		if e.chunk.ChapterID == chapterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// cosine returns the cosine similarity of a and b. Zero vectors score 0.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
