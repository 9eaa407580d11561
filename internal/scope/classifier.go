package scope

import (
	"context"
	"fmt"
	"strings"

	"github.com/praxislearn/tutor/internal/embedding"
	"github.com/praxislearn/tutor/internal/vectorindex"
)

// DefaultBlacklist covers topics the tutor must always decline: finance,
// medical, legal, and general off-domain chatter. Multi-word terms match as
// substrings, single words match whole words only.
var DefaultBlacklist = []string{
	"stock", "invest", "crypto", "bitcoin", "trading", "forex",
	"loan", "mortgage", "credit card", "debt", "insurance", "tax",
	"medical", "disease", "symptom", "diagnosis", "medication", "prescription",
	"lawyer", "attorney", "lawsuit", "legal advice", "divorce", "custody",
	"dating", "relationship advice",
	"recipe", "restaurant",
	"celebrity", "gossip",
	"election", "politics",
}

// DefaultTopics is the static suggestion list used when the refusal happens
// before any index lookup (blacklist tier) or when retrieval finds nothing.
var DefaultTopics = []string{
	"Physical AI and embodied intelligence",
	"ROS 2 architecture and programming",
	"Robotics simulation (Gazebo, Isaac Sim)",
	"Vision-Language-Action models",
	"Humanoid robot development",
}

// Result is the classification outcome. QueryVec carries the question
// embedding computed during the semantic tier so the caller can reuse it for
// retrieval instead of embedding twice. SuggestedTopics is populated even
// for out-of-scope results so the refusal can point somewhere useful.
type Result struct {
	InScope         bool
	Reason          string
	SuggestedTopics []string
	BestScore       float64
	QueryVec        []float32
}

type Config struct {
	// Threshold is the minimum top-1 cosine similarity for a question to
	// count as semantically related to the corpus.
	Threshold float64
	// CrossModuleMargin widens the threshold for the module-mismatch tier:
	// a question anchored to one module whose best match lives in another
	// module must clear Threshold+CrossModuleMargin to stay in scope.
	CrossModuleMargin float64
	Blacklist         []string
	FallbackTopics    []string
	// TopicCount is how many nearest chunks to mine for topic suggestions.
	TopicCount int
}

// Classifier decides, before any LLM call is spent, whether a question can
// be answered from the textbook at all. Three tiers, each able to force
// out-of-scope on its own; a question is in scope only by passing all of
// them. Given the same question and an unchanged index the decision is
// deterministic.
type Classifier struct {
	cfg      Config
	embedder embedding.Client
	index    vectorindex.Index
}

func New(cfg Config, embedder embedding.Client, index vectorindex.Index) *Classifier {
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.5
	}
	if cfg.CrossModuleMargin == 0 {
		cfg.CrossModuleMargin = 0.15
	}
	if len(cfg.Blacklist) == 0 {
		cfg.Blacklist = DefaultBlacklist
	}
	if len(cfg.FallbackTopics) == 0 {
		cfg.FallbackTopics = DefaultTopics
	}
	if cfg.TopicCount <= 0 {
		cfg.TopicCount = 3
	}
	return &Classifier{cfg: cfg, embedder: embedder, index: index}
}

// Check runs the tiers in order. A blacklist hit short-circuits before the
// question is ever embedded, so declined junk costs no provider call.
func (c *Classifier) Check(ctx context.Context, question, chapterID string) (Result, error) {
	// Tier 1: keyword blacklist.
	if term := c.blacklistMatch(question); term != "" {
		return Result{
			InScope:         false,
			Reason:          "blacklist:" + term,
			SuggestedTopics: c.cfg.FallbackTopics,
		}, nil
	}

	// Tier 2: semantic relevance against the corpus.
	vec, err := c.embedder.Embed(ctx, question)
	if err != nil {
		return Result{}, fmt.Errorf("embed question: %w", err)
	}
	hits, err := c.index.Query(ctx, vec, c.cfg.TopicCount, nil)
	if err != nil {
		return Result{}, fmt.Errorf("relevance query: %w", err)
	}

	topics := topicsFrom(hits)
	if len(topics) == 0 {
		topics = c.cfg.FallbackTopics
	}

	if len(hits) == 0 || hits[0].Score < c.cfg.Threshold {
		best := 0.0
		if len(hits) > 0 {
			best = hits[0].Score
		}
		return Result{
			InScope:         false,
			Reason:          "low_relevance",
			SuggestedTopics: topics,
			BestScore:       best,
			QueryVec:        vec,
		}, nil
	}

	// Tier 3: module classification. A question anchored to one module whose
	// best match sits in a different module needs a clearly stronger score,
	// otherwise it is cross-domain confusion.
	best := hits[0]
	if chapterID != "" {
		qm, bm := moduleOf(chapterID), moduleOf(best.Chunk.ChapterID)
		if qm != "" && bm != "" && qm != bm && best.Score < c.cfg.Threshold+c.cfg.CrossModuleMargin {
			return Result{
				InScope:         false,
				Reason:          "module_mismatch",
				SuggestedTopics: topics,
				BestScore:       best.Score,
				QueryVec:        vec,
			}, nil
		}
	}

	return Result{
		InScope:         true,
		SuggestedTopics: topics,
		BestScore:       best.Score,
		QueryVec:        vec,
	}, nil
}

// blacklistMatch returns the first matching blacklist term, or "".
func (c *Classifier) blacklistMatch(question string) string {
	lowered := strings.ToLower(question)
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(lowered, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		words[w] = true
	}

	for _, term := range c.cfg.Blacklist {
		term = strings.ToLower(term)
		if strings.ContainsRune(term, ' ') {
			if strings.Contains(lowered, term) {
				return term
			}
			continue
		}
		if words[term] {
			return term
		}
	}
	return ""
}

// topicsFrom derives suggestion strings from the heading paths of the
// nearest chunks, deduplicated in rank order.
func topicsFrom(hits []vectorindex.Hit) []string {
	var topics []string
	seen := make(map[string]bool)
	for _, h := range hits {
		section := h.Chunk.Section()
		if section == "" || seen[section] {
			continue
		}
		seen[section] = true
		topics = append(topics, section)
	}
	return topics
}

// moduleOf extracts the module component from chapter ids of the form
// "ch-<module>-<chapter>". Unknown shapes yield "".
func moduleOf(chapterID string) string {
	parts := strings.Split(chapterID, "-")
	if len(parts) < 2 || parts[0] != "ch" {
		return ""
	}
	return parts[1]
}
