package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/praxislearn/tutor/internal/corpus"
	"github.com/praxislearn/tutor/internal/embedding"
	"github.com/praxislearn/tutor/internal/events"
	"github.com/praxislearn/tutor/internal/vectorindex"
)

// Config holds the indexing run configuration.
type Config struct {
	ContentDir string
	Chapters   []string // restrict to these chapter ids; empty means all
	Full       bool     // re-embed every chunk instead of diffing by chunk id
	BatchSize  int      // chunks per embedding request
	DryRun     bool     // report what would change without writing
}

// Stats summarises one indexing run.
type Stats struct {
	Chapters []string
	Upserted int
	Skipped  int
	Deleted  int
}

// Runner turns chapter Markdown into indexed, embedded chunks. Chunk ids are
// content-addressed, so an incremental run embeds only chunks whose text
// changed and deletes the ones that no longer exist.
type Runner struct {
	cfg      Config
	chunker  *corpus.Chunker
	embedder embedding.Client
	index    vectorindex.Index
	logger   *slog.Logger
}

func NewRunner(cfg Config, chunker *corpus.Chunker, embedder embedding.Client, index vectorindex.Index, logger *slog.Logger) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	return &Runner{
		cfg:      cfg,
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		logger:   logger,
	}
}

// Run indexes every discovered chapter and returns aggregate stats.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	docs, err := r.discoverChapters()
	if err != nil {
		return Stats{}, fmt.Errorf("discover chapters: %w", err)
	}
	r.logger.Info("chapters discovered", "count", len(docs))

	var stats Stats
	for _, doc := range docs {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		cs, err := r.IndexDocument(ctx, doc)
		if err != nil {
			return stats, fmt.Errorf("index %s: %w", doc.ChapterID, err)
		}
		stats.Chapters = append(stats.Chapters, doc.ChapterID)
		stats.Upserted += cs.Upserted
		stats.Skipped += cs.Skipped
		stats.Deleted += cs.Deleted
	}

	r.logger.Info("indexing complete",
		"chapters", len(stats.Chapters),
		"upserted", stats.Upserted,
		"skipped", stats.Skipped,
		"deleted", stats.Deleted,
		"dry_run", r.cfg.DryRun,
	)
	return stats, nil
}

// IndexDocument chunks one chapter and reconciles the index with it: new
// chunks are embedded and upserted, unchanged ones skipped, stale ones
// deleted.
func (r *Runner) IndexDocument(ctx context.Context, doc corpus.Document) (Stats, error) {
	chunks := r.chunker.Split(doc)

	existing, err := r.index.ChunkIDs(ctx, doc.ChapterID)
	if err != nil {
		return Stats{}, fmt.Errorf("list chunk ids: %w", err)
	}
	existingSet := make(map[string]bool, len(existing))
	for _, id := range existing {
		existingSet[id] = true
	}

	var toEmbed []corpus.Chunk
	current := make(map[string]bool, len(chunks))
	skipped := 0
	for _, c := range chunks {
		current[c.ID] = true
		if !r.cfg.Full && existingSet[c.ID] {
			skipped++
			continue
		}
		toEmbed = append(toEmbed, c)
	}

	var stale []string
	for _, id := range existing {
		if !current[id] {
			stale = append(stale, id)
		}
	}

	r.logger.Info("chapter reconciled",
		"chapter_id", doc.ChapterID,
		"chunks", len(chunks),
		"to_embed", len(toEmbed),
		"skipped", skipped,
		"stale", len(stale),
	)

	if r.cfg.DryRun {
		return Stats{Upserted: len(toEmbed), Skipped: skipped, Deleted: len(stale)}, nil
	}

	for start := 0; start < len(toEmbed); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(toEmbed))
		batch := toEmbed[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vecs, err := r.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return Stats{}, fmt.Errorf("embed batch: %w", err)
		}
		for i, c := range batch {
			if err := r.index.Upsert(ctx, c, vecs[i]); err != nil {
				return Stats{}, fmt.Errorf("upsert chunk %s: %w", c.ID, err)
			}
		}
	}

	for _, id := range stale {
		if err := r.index.Delete(ctx, id); err != nil {
			return Stats{}, fmt.Errorf("delete stale chunk %s: %w", id, err)
		}
	}

	return Stats{Upserted: len(toEmbed), Skipped: skipped, Deleted: len(stale)}, nil
}

// Listen re-indexes chapters as content-updated events arrive. Handler
// errors are logged, not fatal; the next event gets a fresh attempt.
func (r *Runner) Listen(ctx context.Context, bus *events.Client) error {
	return bus.Subscribe(events.SubjectContentUpdated, func(_ string, data []byte) {
		var ev events.ContentUpdated
		if err := json.Unmarshal(data, &ev); err != nil {
			r.logger.Warn("malformed content event", "error", err)
			return
		}

		doc, err := r.loadChapter(ev.ChapterID, ev.Path)
		if err != nil {
			r.logger.Error("failed to load updated chapter", "chapter_id", ev.ChapterID, "error", err)
			return
		}

		cs, err := r.IndexDocument(ctx, doc)
		if err != nil {
			r.logger.Error("failed to re-index chapter", "chapter_id", ev.ChapterID, "error", err)
			return
		}

		if err := bus.Publish(events.SubjectIndexCompleted, events.IndexCompleted{
			Chapters:    []string{ev.ChapterID},
			Chunks:      cs.Upserted,
			CompletedAt: time.Now().UTC(),
		}); err != nil {
			r.logger.Warn("failed to publish index completion", "error", err)
		}
	})
}

func (r *Runner) loadChapter(chapterID, relPath string) (corpus.Document, error) {
	path := filepath.Join(r.cfg.ContentDir, relPath)
	if relPath == "" {
		path = filepath.Join(r.cfg.ContentDir, chapterID+".md")
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return corpus.Document{}, err
	}
	return corpus.Document{ChapterID: chapterID, Text: string(text)}, nil
}

// discoverChapters walks the content dir for Markdown files. The chapter id
// is the file name without extension, e.g. module-1/ch-1-2.md is ch-1-2.
func (r *Runner) discoverChapters() ([]corpus.Document, error) {
	want := make(map[string]bool, len(r.cfg.Chapters))
	for _, c := range r.cfg.Chapters {
		want[c] = true
	}

	var docs []corpus.Document
	err := filepath.Walk(r.cfg.ContentDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".md") {
			return nil
		}
		chapterID := strings.TrimSuffix(info.Name(), ".md")
		if len(want) > 0 && !want[chapterID] {
			return nil
		}
		text, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		docs = append(docs, corpus.Document{ChapterID: chapterID, Text: string(text)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}
