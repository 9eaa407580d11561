package indexer

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/praxislearn/tutor/internal/corpus"
	"github.com/praxislearn/tutor/internal/vectorindex"
)

// countingEmbedder hands out constant unit vectors and counts how many texts
// it was asked to embed.
type countingEmbedder struct {
	embedded atomic.Int64
}

func (c *countingEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	c.embedded.Add(1)
	return []float32{1, 0, 0}, nil
}

func (c *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	c.embedded.Add(int64(len(texts)))
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (c *countingEmbedder) Dimension() int { return 3 }

func writeChapter(t *testing.T, dir, name, text string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644); err != nil {
		t.Fatalf("write chapter: %v", err)
	}
}

func newTestRunner(t *testing.T, cfg Config) (*Runner, *countingEmbedder, *vectorindex.Memory) {
	t.Helper()
	embedder := &countingEmbedder{}
	index := vectorindex.NewMemory(3)
	chunker := corpus.NewChunker(2500, 20)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(cfg, chunker, embedder, index, logger), embedder, index
}

const chapterOne = `# Chapter 1

## What is Physical AI?

Physical AI systems couple perception, reasoning, and action in a body.
`

const chapterTwo = `# Chapter 2

## ROS 2 Topics

Nodes communicate over topics using a publish-subscribe model.
`

func TestRun_IndexesAllChapters(t *testing.T) {
	dir := t.TempDir()
	writeChapter(t, dir, "ch-1-1.md", chapterOne)
	writeChapter(t, dir, "ch-2-3.md", chapterTwo)

	r, embedder, index := newTestRunner(t, Config{ContentDir: dir})

	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(stats.Chapters) != 2 {
		t.Errorf("chapters = %v", stats.Chapters)
	}
	if stats.Upserted == 0 {
		t.Error("nothing upserted")
	}
	if embedder.embedded.Load() != int64(stats.Upserted) {
		t.Errorf("embedded %d texts for %d upserts", embedder.embedded.Load(), stats.Upserted)
	}

	ids, err := index.ChunkIDs(context.Background(), "ch-1-1")
	if err != nil {
		t.Fatalf("chunk ids: %v", err)
	}
	if len(ids) == 0 {
		t.Error("no chunks indexed for ch-1-1")
	}
}

func TestRun_IncrementalSkipsUnchanged(t *testing.T) {
	dir := t.TempDir()
	writeChapter(t, dir, "ch-1-1.md", chapterOne)

	r, embedder, _ := newTestRunner(t, Config{ContentDir: dir})

	first, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	embedder.embedded.Store(0)

	second, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Upserted != 0 || second.Skipped != first.Upserted {
		t.Errorf("second run upserted %d, skipped %d; want 0 upserts", second.Upserted, second.Skipped)
	}
	if embedder.embedded.Load() != 0 {
		t.Errorf("unchanged content embedded %d texts", embedder.embedded.Load())
	}
}

func TestRun_ChangedContentReplacesStaleChunks(t *testing.T) {
	dir := t.TempDir()
	writeChapter(t, dir, "ch-1-1.md", chapterOne)

	r, _, index := newTestRunner(t, Config{ContentDir: dir})
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before, _ := index.ChunkIDs(context.Background(), "ch-1-1")

	writeChapter(t, dir, "ch-1-1.md", `# Chapter 1

## What is Physical AI?

A completely rewritten introduction to embodied intelligence.
`)
	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Deleted == 0 {
		t.Error("stale chunks not deleted")
	}

	after, _ := index.ChunkIDs(context.Background(), "ch-1-1")
	for _, old := range before {
		for _, cur := range after {
			if old == cur {
				t.Errorf("stale chunk %s survived the rewrite", old)
			}
		}
	}
}

func TestRun_FullReembedsEverything(t *testing.T) {
	dir := t.TempDir()
	writeChapter(t, dir, "ch-1-1.md", chapterOne)

	embedder := &countingEmbedder{}
	index := vectorindex.NewMemory(3)
	chunker := corpus.NewChunker(2500, 20)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	inc := NewRunner(Config{ContentDir: dir}, chunker, embedder, index, logger)
	first, err := inc.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	embedder.embedded.Store(0)

	full := NewRunner(Config{ContentDir: dir, Full: true}, chunker, embedder, index, logger)
	stats, err := full.Run(context.Background())
	if err != nil {
		t.Fatalf("full run: %v", err)
	}
	if stats.Upserted != first.Upserted {
		t.Errorf("full run upserted %d, want %d", stats.Upserted, first.Upserted)
	}
	if embedder.embedded.Load() != int64(first.Upserted) {
		t.Errorf("full run embedded %d texts, want %d", embedder.embedded.Load(), first.Upserted)
	}
}

func TestRun_ChapterRestriction(t *testing.T) {
	dir := t.TempDir()
	writeChapter(t, dir, "ch-1-1.md", chapterOne)
	writeChapter(t, dir, "ch-2-3.md", chapterTwo)

	r, _, index := newTestRunner(t, Config{ContentDir: dir, Chapters: []string{"ch-2-3"}})
	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(stats.Chapters) != 1 || stats.Chapters[0] != "ch-2-3" {
		t.Errorf("chapters = %v, want only ch-2-3", stats.Chapters)
	}

	ids, _ := index.ChunkIDs(context.Background(), "ch-1-1")
	if len(ids) != 0 {
		t.Errorf("out-of-scope chapter indexed: %v", ids)
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	writeChapter(t, dir, "ch-1-1.md", chapterOne)

	r, embedder, index := newTestRunner(t, Config{ContentDir: dir, DryRun: true})
	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Upserted == 0 {
		t.Error("dry run should still report pending upserts")
	}
	if embedder.embedded.Load() != 0 {
		t.Error("dry run embedded text")
	}
	ids, _ := index.ChunkIDs(context.Background(), "ch-1-1")
	if len(ids) != 0 {
		t.Errorf("dry run wrote chunks: %v", ids)
	}
}
