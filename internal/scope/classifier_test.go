package scope

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/praxislearn/tutor/internal/corpus"
	"github.com/praxislearn/tutor/internal/vectorindex"
)

// stubEmbedder returns a fixed vector per exact text, or the fallback.
type stubEmbedder struct {
	vecs     map[string][]float32
	fallback []float32
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := s.vecs[text]; ok {
		return v, nil
	}
	return s.fallback, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimension() int { return 3 }

func seedIndex(t *testing.T, chunks ...corpus.Chunk) *vectorindex.Memory {
	t.Helper()
	idx := vectorindex.NewMemory(3)
	for i, ch := range chunks {
		vec := []float32{1, 0, 0}
		if err := idx.Upsert(context.Background(), ch, vec); err != nil {
			t.Fatalf("seed chunk %d: %v", i, err)
		}
	}
	return idx
}

func TestCheck_BlacklistPrecedence(t *testing.T) {
	// Even with a perfectly matching vector, a blacklisted term must decline.
	emb := &stubEmbedder{fallback: []float32{1, 0, 0}}
	idx := seedIndex(t, corpus.Chunk{
		ID: "c1", ChapterID: "ch-1-1", HeadingPath: []string{"Chapter 1", "Embodied Intelligence"}, Position: 0,
	})
	c := New(Config{}, emb, idx)

	res, err := c.Check(context.Background(), "What is the stock price of Tesla?", "")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.InScope {
		t.Error("blacklisted question classified in scope")
	}
	if !strings.HasPrefix(res.Reason, "blacklist:") {
		t.Errorf("reason = %q, want blacklist:*", res.Reason)
	}
	if len(res.SuggestedTopics) == 0 {
		t.Error("refusal should still carry suggested topics")
	}
	if res.QueryVec != nil {
		t.Error("blacklist tier must short-circuit before embedding")
	}
}

func TestCheck_BlacklistMatchesWholeWordsOnly(t *testing.T) {
	emb := &stubEmbedder{fallback: []float32{1, 0, 0}}
	idx := seedIndex(t, corpus.Chunk{ID: "c1", ChapterID: "ch-1-1", HeadingPath: []string{"Stocks of parts"}, Position: 0})
	c := New(Config{Blacklist: []string{"stock"}}, emb, idx)

	// "restocking" contains "stock" as a substring but not as a word.
	res, err := c.Check(context.Background(), "How does the robot handle restocking shelves?", "")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.InScope {
		t.Errorf("substring match wrongly declined: reason=%q", res.Reason)
	}
}

func TestCheck_ThresholdBoundary(t *testing.T) {
	tests := []struct {
		name    string
		score   float32
		inScope bool
	}{
		{"just below", 0.49, false},
		{"just above", 0.51, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Unit query vector whose dot with the stored [1,0,0] is the score.
			q := []float32{tt.score, sqrt32(1 - tt.score*tt.score), 0}
			emb := &stubEmbedder{fallback: q}
			idx := seedIndex(t, corpus.Chunk{
				ID: "c1", ChapterID: "ch-1-1", HeadingPath: []string{"Chapter 1"}, Position: 0,
			})
			c := New(Config{Threshold: 0.5}, emb, idx)

			res, err := c.Check(context.Background(), "What is embodied intelligence?", "")
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if res.InScope != tt.inScope {
				t.Errorf("score %v: inScope = %v, want %v (best %v)", tt.score, res.InScope, tt.inScope, res.BestScore)
			}
			if !res.InScope && res.Reason != "low_relevance" {
				t.Errorf("reason = %q", res.Reason)
			}
		})
	}
}

func TestCheck_EmptyIndexIsOutOfScope(t *testing.T) {
	emb := &stubEmbedder{fallback: []float32{1, 0, 0}}
	idx := vectorindex.NewMemory(3)
	c := New(Config{}, emb, idx)

	res, err := c.Check(context.Background(), "What is embodied intelligence?", "")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.InScope {
		t.Error("empty index should classify everything out of scope")
	}
	if len(res.SuggestedTopics) == 0 {
		t.Error("expected fallback topics")
	}
}

func TestCheck_ModuleMismatch(t *testing.T) {
	emb := &stubEmbedder{fallback: []float32{0.55, sqrt32(1 - 0.55*0.55), 0}}
	idx := seedIndex(t, corpus.Chunk{
		ID: "c1", ChapterID: "ch-4-2", HeadingPath: []string{"Module 4"}, Position: 0,
	})
	c := New(Config{Threshold: 0.5, CrossModuleMargin: 0.15}, emb, idx)

	// Score 0.55 passes the base threshold but the best match is in module 4
	// while the question is anchored to module 1.
	res, err := c.Check(context.Background(), "How does this relate to my chapter?", "ch-1-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.InScope {
		t.Error("cross-module match below margin should be out of scope")
	}
	if res.Reason != "module_mismatch" {
		t.Errorf("reason = %q", res.Reason)
	}
}

func TestCheck_SameModulePasses(t *testing.T) {
	emb := &stubEmbedder{fallback: []float32{0.55, sqrt32(1 - 0.55*0.55), 0}}
	idx := seedIndex(t, corpus.Chunk{
		ID: "c1", ChapterID: "ch-1-3", HeadingPath: []string{"Module 1"}, Position: 0,
	})
	c := New(Config{Threshold: 0.5, CrossModuleMargin: 0.15}, emb, idx)

	res, err := c.Check(context.Background(), "How does this relate to my chapter?", "ch-1-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.InScope {
		t.Errorf("same-module match wrongly declined: reason=%q", res.Reason)
	}
}

func TestCheck_StrongCrossModuleMatchStaysInScope(t *testing.T) {
	emb := &stubEmbedder{fallback: []float32{1, 0, 0}}
	idx := seedIndex(t, corpus.Chunk{
		ID: "c1", ChapterID: "ch-4-2", HeadingPath: []string{"Module 4"}, Position: 0,
	})
	c := New(Config{Threshold: 0.5, CrossModuleMargin: 0.15}, emb, idx)

	res, err := c.Check(context.Background(), "Tell me about VLA models", "ch-1-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.InScope {
		t.Errorf("strong cross-module match should stay in scope: reason=%q", res.Reason)
	}
}

func TestCheck_SuggestedTopicsFromHeadings(t *testing.T) {
	emb := &stubEmbedder{fallback: []float32{1, 0, 0}}
	idx := seedIndex(t,
		corpus.Chunk{ID: "c1", ChapterID: "ch-1-1", HeadingPath: []string{"Chapter 1", "Embodied Intelligence"}, Position: 0},
		corpus.Chunk{ID: "c2", ChapterID: "ch-1-2", HeadingPath: []string{"Chapter 1", "Sensors"}, Position: 1},
	)
	c := New(Config{}, emb, idx)

	res, err := c.Check(context.Background(), "What is embodied intelligence?", "")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(res.SuggestedTopics) < 2 {
		t.Fatalf("topics = %v", res.SuggestedTopics)
	}
	if res.SuggestedTopics[0] != "Chapter 1 > Embodied Intelligence" {
		t.Errorf("first topic = %q", res.SuggestedTopics[0])
	}
}

func TestCheck_Deterministic(t *testing.T) {
	emb := &stubEmbedder{fallback: []float32{1, 0, 0}}
	idx := seedIndex(t, corpus.Chunk{ID: "c1", ChapterID: "ch-1-1", HeadingPath: []string{"Chapter 1"}, Position: 0})
	c := New(Config{}, emb, idx)

	first, err := c.Check(context.Background(), "What is embodied intelligence?", "ch-1-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	second, err := c.Check(context.Background(), "What is embodied intelligence?", "ch-1-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if first.InScope != second.InScope || first.Reason != second.Reason || first.BestScore != second.BestScore {
		t.Errorf("classification not deterministic: %+v vs %+v", first, second)
	}
}

func sqrt32(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}
