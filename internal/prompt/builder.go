package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/praxislearn/tutor/internal/vectorindex"
)

// System is the framing every generation runs under: answer only from the
// supplied excerpts, decline otherwise.
const System = `You are a helpful tutor for the Physical AI & Humanoid Robotics textbook.

Your role:
- Answer questions ONLY based on the provided textbook excerpts
- If the answer is not in the provided excerpts, reply exactly with: ` + RefusalPhrase + `
- Cite the section heading when referencing information
- Be educational and encouraging, and explain technical concepts clearly

Important:
- Do NOT make up information not in the excerpts
- Do NOT answer questions unrelated to the textbook content`

// RefusalPhrase is the fixed sentence the generator must emit when the
// assembled context cannot support a confident answer. The orchestrator
// matches on it, so it must stay stable.
const RefusalPhrase = "I don't have enough textbook content to answer that confidently."

// Turn is one prior conversation message.
type Turn struct {
	Role    string
	Content string
}

// Excerpt is one retrieved chunk admitted into the context.
type Excerpt struct {
	ChunkID   string
	ChapterID string
	Section   string
	Text      string
	Score     float64
}

// Input is everything the builder may draw from.
type Input struct {
	Question     string
	SelectedText string
	Retrieved    []vectorindex.Hit
	History      []Turn
}

// Context is the bounded input handed to the answer generator.
type Context struct {
	System       string
	Question     string
	SelectedText string
	Excerpts     []Excerpt
	History      []Turn
}

type Builder struct {
	charBudget    int
	historyWindow int
}

// NewBuilder configures the builder. charBudget bounds the total assembled
// characters; historyWindow is the sliding window of prior turns (oldest
// dropped first).
func NewBuilder(charBudget, historyWindow int) *Builder {
	if charBudget <= 0 {
		charBudget = 12000
	}
	if historyWindow <= 0 {
		historyWindow = 10
	}
	return &Builder{charBudget: charBudget, historyWindow: historyWindow}
}

// Build assembles the context. Retrieved chunks are deduplicated by chunk id
// (highest score wins) and admitted highest-score-first under the remaining
// character budget, so going over budget always sheds the lowest-relevance
// chunks. The selected text and the most recent conversation turn are never
// sacrificed for a chunk.
func (b *Builder) Build(in Input) Context {
	ctx := Context{
		System:       System,
		Question:     in.Question,
		SelectedText: in.SelectedText,
	}

	// Sliding history window.
	history := in.History
	if len(history) > b.historyWindow {
		history = history[len(history)-b.historyWindow:]
	}

	// Reserved space: framing, question, selected text, most recent turn.
	used := len(System) + len(in.Question) + len(in.SelectedText)
	if len(history) > 0 {
		used += len(history[len(history)-1].Content)
	}

	// Dedupe by chunk id, keeping the best score.
	bestByID := make(map[string]vectorindex.Hit)
	for _, h := range in.Retrieved {
		if prev, ok := bestByID[h.Chunk.ID]; !ok || h.Score > prev.Score {
			bestByID[h.Chunk.ID] = h
		}
	}
	hits := make([]vectorindex.Hit, 0, len(bestByID))
	for _, h := range bestByID {
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.Position < hits[j].Chunk.Position
	})

	// Admit in rank order and stop at the first chunk that does not fit:
	// going over budget sheds from the bottom of the ranking, never a
	// higher-scoring chunk in favor of a smaller lower-scoring one.
	for _, h := range hits {
		if used+len(h.Chunk.Text) > b.charBudget {
			break
		}
		used += len(h.Chunk.Text)
		ctx.Excerpts = append(ctx.Excerpts, Excerpt{
			ChunkID:   h.Chunk.ID,
			ChapterID: h.Chunk.ChapterID,
			Section:   h.Chunk.Section(),
			Text:      h.Chunk.Text,
			Score:     h.Score,
		})
	}

	// Admit history newest-first within what remains; emit oldest-first.
	// The most recent turn was already reserved above.
	var kept []Turn
	for i := len(history) - 1; i >= 0; i-- {
		if i == len(history)-1 {
			// Already reserved; kept unconditionally.
			kept = append(kept, history[i])
			continue
		}
		cost := len(history[i].Content)
		if used+cost > b.charBudget {
			break
		}
		used += cost
		kept = append(kept, history[i])
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	ctx.History = kept

	return ctx
}

// UserMessage renders the excerpts, optional highlighted passage and the
// question as the final user turn for the generator.
func (c Context) UserMessage() string {
	var sb strings.Builder

	if c.SelectedText != "" {
		sb.WriteString("## Highlighted Text\n\n")
		sb.WriteString(c.SelectedText)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Textbook Excerpts\n\n")
	if len(c.Excerpts) == 0 {
		sb.WriteString("(no relevant excerpts found)\n")
	}
	for i, ex := range c.Excerpts {
		if i > 0 {
			sb.WriteString("\n---\n\n")
		}
		fmt.Fprintf(&sb, "**%s** (Chapter: %s)\n%s\n", ex.Section, ex.ChapterID, ex.Text)
	}

	sb.WriteString("\n---\n\n## Question\n\n")
	sb.WriteString(c.Question)
	return sb.String()
}
