package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/praxislearn/tutor/internal/answer"
	"github.com/praxislearn/tutor/internal/embedding"
	"github.com/praxislearn/tutor/internal/prompt"
	"github.com/praxislearn/tutor/internal/scope"
	"github.com/praxislearn/tutor/internal/session"
	"github.com/praxislearn/tutor/internal/vectorindex"
)

// ErrEmptyQuestion rejects blank input before any external call is spent.
var ErrEmptyQuestion = errors.New("question must not be empty")

// AskRequest is one incoming chat turn.
type AskRequest struct {
	SessionID    string
	ChapterID    string
	Content      string
	SelectedText string
}

// AskResponse is the completed turn returned to the UI.
type AskResponse struct {
	SessionID       string
	Response        string
	Sources         []session.Source
	OutOfScope      bool
	SuggestedTopics []string
}

type Config struct {
	TopK            int
	HistoryWindow   int
	ClassifyTimeout time.Duration
	EmbedTimeout    time.Duration
	QueryTimeout    time.Duration
	GenerateTimeout time.Duration
}

func (c *Config) fillDefaults() {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 10
	}
	if c.ClassifyTimeout <= 0 {
		c.ClassifyTimeout = 20 * time.Second
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = 15 * time.Second
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 10 * time.Second
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = 60 * time.Second
	}
}

// Engine runs one question through classify → retrieve → build → generate
// and keeps the session record consistent. Requests for different sessions
// run in parallel; requests within one session are strictly serialized so a
// turn never reads stale history from before its predecessor finished.
type Engine struct {
	store    session.Store
	index    vectorindex.Index
	embedder embedding.Client
	scope    *scope.Classifier
	builder  *prompt.Builder
	gen      answer.Generator
	logger   *slog.Logger
	cfg      Config

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock serializes turns within one session. Refcounting lets the
// entry be evicted as soon as no request holds or waits on it, so abandoned
// session ids do not accumulate idle mutexes.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func New(store session.Store, index vectorindex.Index, embedder embedding.Client,
	classifier *scope.Classifier, builder *prompt.Builder, gen answer.Generator,
	cfg Config, logger *slog.Logger) *Engine {
	cfg.fillDefaults()
	return &Engine{
		store:    store,
		index:    index,
		embedder: embedder,
		scope:    classifier,
		builder:  builder,
		gen:      gen,
		logger:   logger,
		cfg:      cfg,
		locks:    make(map[string]*sessionLock),
	}
}

// Ask processes one chat turn. An expired or unknown session id starts a
// fresh session instead of failing the request.
func (e *Engine) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	if strings.TrimSpace(req.Content) == "" {
		return AskResponse{}, ErrEmptyQuestion
	}

	sess, err := e.resolveSession(ctx, req)
	if err != nil {
		return AskResponse{}, fmt.Errorf("resolve session: %w", err)
	}

	lock := e.lockSession(sess.ID)
	defer e.unlockSession(sess.ID, lock)

	return e.process(ctx, sess, req)
}

func (e *Engine) process(ctx context.Context, sess session.Session, req AskRequest) (AskResponse, error) {
	log := e.logger.With("session_id", sess.ID)

	// Prior turns, read before this turn's user message is appended.
	history, err := e.store.Recent(ctx, sess.ID, e.cfg.HistoryWindow)
	if err != nil {
		return AskResponse{}, fmt.Errorf("load history: %w", err)
	}

	userMsg := &session.Message{
		SessionID:    sess.ID,
		Role:         "user",
		Content:      req.Content,
		ChapterID:    req.ChapterID,
		SelectedText: req.SelectedText,
	}
	if err := e.store.AppendMessage(ctx, userMsg); err != nil {
		return AskResponse{}, fmt.Errorf("persist user message: %w", err)
	}

	classifyCtx, cancel := context.WithTimeout(ctx, e.cfg.ClassifyTimeout)
	res, err := e.scope.Check(classifyCtx, req.Content, req.ChapterID)
	cancel()
	if err != nil {
		log.Error("classification failed", "stage", "classifying", "error", err)
		return AskResponse{}, err
	}

	if !res.InScope {
		return e.refuse(ctx, sess, req, res, log)
	}

	hits, err := e.retrieve(ctx, req, res.QueryVec)
	if err != nil {
		log.Error("retrieval failed", "stage", "retrieving", "error", err)
		return AskResponse{}, err
	}

	pc := e.builder.Build(prompt.Input{
		Question:     req.Content,
		SelectedText: req.SelectedText,
		Retrieved:    hits,
		History:      toTurns(history),
	})

	// Generation and the writes that follow are detached from the caller:
	// if the client disconnects mid-generation the turn still completes, so
	// the session history stays consistent for the next request.
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.GenerateTimeout)
	defer cancel()

	result, err := e.gen.Generate(genCtx, pc)
	if err != nil {
		// No assistant message is persisted for a failed turn; the last
		// valid state is the user message alone.
		log.Error("generation failed", "stage", "generating", "error", err)
		return AskResponse{}, err
	}

	sources := sourcesFrom(pc.Excerpts)
	assistantMsg := &session.Message{
		SessionID: sess.ID,
		Role:      "assistant",
		Content:   result.Text,
		ChapterID: req.ChapterID,
		Sources:   sources,
	}
	if err := e.store.AppendMessage(genCtx, assistantMsg); err != nil {
		return AskResponse{}, fmt.Errorf("persist assistant message: %w", err)
	}
	if _, err := e.store.Touch(genCtx, sess.ID); err != nil {
		log.Warn("failed to slide session expiry", "error", err)
	}

	log.Info("turn complete",
		"chapter_id", req.ChapterID,
		"excerpts", len(pc.Excerpts),
		"refused_by_generator", result.Refused,
	)

	return AskResponse{
		SessionID:       sess.ID,
		Response:        result.Text,
		Sources:         sources,
		SuggestedTopics: res.SuggestedTopics,
	}, nil
}

// refuse finishes an out-of-scope turn: templated decline, no sources, no
// LLM call.
func (e *Engine) refuse(ctx context.Context, sess session.Session, req AskRequest, res scope.Result, log *slog.Logger) (AskResponse, error) {
	text := refusalMessage(res.SuggestedTopics)
	assistantMsg := &session.Message{
		SessionID: sess.ID,
		Role:      "assistant",
		Content:   text,
		ChapterID: req.ChapterID,
	}
	if err := e.store.AppendMessage(ctx, assistantMsg); err != nil {
		return AskResponse{}, fmt.Errorf("persist refusal: %w", err)
	}
	if _, err := e.store.Touch(ctx, sess.ID); err != nil {
		log.Warn("failed to slide session expiry", "error", err)
	}

	log.Info("turn refused", "reason", res.Reason, "best_score", res.BestScore)

	return AskResponse{
		SessionID:       sess.ID,
		Response:        text,
		Sources:         []session.Source{},
		OutOfScope:      true,
		SuggestedTopics: res.SuggestedTopics,
	}, nil
}

// retrieve runs the primary question query, falling back to an unfiltered
// query when a chapter filter finds nothing, plus a second pass anchored to
// the selected text's chapter when a passage is highlighted. Every external
// call gets its own timeout window.
func (e *Engine) retrieve(ctx context.Context, req AskRequest, queryVec []float32) ([]vectorindex.Hit, error) {
	var filter *vectorindex.Filter
	if req.ChapterID != "" {
		filter = &vectorindex.Filter{ChapterID: req.ChapterID}
	}

	hits, err := e.queryIndex(ctx, queryVec, filter)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 && filter != nil {
		hits, err = e.queryIndex(ctx, queryVec, nil)
		if err != nil {
			return nil, err
		}
	}

	if req.SelectedText != "" {
		embedCtx, cancel := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
		selVec, err := e.embedder.Embed(embedCtx, req.SelectedText)
		cancel()
		if err != nil {
			return nil, err
		}
		selHits, err := e.queryIndex(ctx, selVec, filter)
		if err != nil {
			return nil, err
		}
		hits = append(hits, selHits...)
	}

	return hits, nil
}

func (e *Engine) queryIndex(ctx context.Context, vec []float32, filter *vectorindex.Filter) ([]vectorindex.Hit, error) {
	queryCtx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()
	return e.index.Query(queryCtx, vec, e.cfg.TopK, filter)
}

func (e *Engine) resolveSession(ctx context.Context, req AskRequest) (session.Session, error) {
	if req.SessionID != "" {
		sess, err := e.store.Get(ctx, req.SessionID)
		switch {
		case err == nil:
			return sess, nil
		case errors.Is(err, session.ErrExpired) || errors.Is(err, session.ErrNotFound):
			// Fall through to a fresh session.
		default:
			return session.Session{}, err
		}
	}
	return e.store.Create(ctx, sessionMetadata(req))
}

func sessionMetadata(req AskRequest) map[string]string {
	if req.ChapterID == "" {
		return nil
	}
	return map[string]string{"initial_chapter_id": req.ChapterID}
}

// Session returns a live session and its full message history.
func (e *Engine) Session(ctx context.Context, id string) (session.Session, []session.Message, error) {
	sess, err := e.store.Get(ctx, id)
	if err != nil {
		return session.Session{}, nil, err
	}
	msgs, err := e.store.Messages(ctx, id)
	if err != nil {
		return session.Session{}, nil, err
	}
	return sess, msgs, nil
}

func (e *Engine) lockSession(id string) *sessionLock {
	e.mu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &sessionLock{}
		e.locks[id] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()
	return l
}

func (e *Engine) unlockSession(id string, l *sessionLock) {
	l.mu.Unlock()

	e.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(e.locks, id)
	}
	e.mu.Unlock()
}

func toTurns(msgs []session.Message) []prompt.Turn {
	turns := make([]prompt.Turn, len(msgs))
	for i, m := range msgs {
		turns[i] = prompt.Turn{Role: m.Role, Content: m.Content}
	}
	return turns
}

const excerptLimit = 200

func sourcesFrom(excerpts []prompt.Excerpt) []session.Source {
	sources := make([]session.Source, len(excerpts))
	for i, ex := range excerpts {
		excerpt := ex.Text
		if len(excerpt) > excerptLimit {
			excerpt = excerpt[:excerptLimit] + "..."
		}
		sources[i] = session.Source{
			ChunkID:        ex.ChunkID,
			ChapterID:      ex.ChapterID,
			Section:        ex.Section,
			Excerpt:        excerpt,
			RelevanceScore: ex.Score,
		}
	}
	return sources
}

func refusalMessage(topics []string) string {
	var sb strings.Builder
	sb.WriteString("I can only answer questions about the textbook content, and that one falls outside it.\n\n")
	if len(topics) > 0 {
		sb.WriteString("**Topics I can help with:**\n")
		for _, t := range topics {
			sb.WriteString("- " + t + "\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Would you like to ask about any of these topics?")
	return sb.String()
}
