package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/praxislearn/tutor/internal/engine"
	"github.com/praxislearn/tutor/internal/session"
)

// Engine is the orchestrator surface the HTTP layer needs.
type Engine interface {
	Ask(ctx context.Context, req engine.AskRequest) (engine.AskResponse, error)
	Session(ctx context.Context, id string) (session.Session, []session.Message, error)
}

type Server struct {
	router *chi.Mux
	engine Engine
	logger *slog.Logger
	port   int
}

func NewServer(port int, eng Engine, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		engine: eng,
		logger: logger,
		port:   port,
	}

	router.Get("/health", s.health)
	router.Post("/chat/message", s.postMessage)
	router.Get("/chat/session/{id}", s.getSession)

	return s
}

// Start blocks until the context is cancelled, then drains in-flight
// requests before returning.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type messageRequest struct {
	SessionID    string `json:"session_id,omitempty"`
	ChapterID    string `json:"chapter_id,omitempty"`
	Content      string `json:"content"`
	SelectedText string `json:"selected_text,omitempty"`
}

type messageResponse struct {
	SessionID       string           `json:"session_id"`
	Response        string           `json:"response"`
	Sources         []session.Source `json:"sources"`
	IsOutOfScope    bool             `json:"is_out_of_scope"`
	SuggestedTopics []string         `json:"suggested_topics,omitempty"`
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	resp, err := s.engine.Ask(r.Context(), engine.AskRequest{
		SessionID:    req.SessionID,
		ChapterID:    req.ChapterID,
		Content:      req.Content,
		SelectedText: req.SelectedText,
	})
	if err != nil {
		if errors.Is(err, engine.ErrEmptyQuestion) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("chat turn failed", "error", err)
		s.writeError(w, http.StatusBadGateway, "failed to generate a response, please retry")
		return
	}

	sources := resp.Sources
	if sources == nil {
		sources = []session.Source{}
	}
	s.writeJSON(w, http.StatusOK, messageResponse{
		SessionID:       resp.SessionID,
		Response:        resp.Response,
		Sources:         sources,
		IsOutOfScope:    resp.OutOfScope,
		SuggestedTopics: resp.SuggestedTopics,
	})
}

type sessionResponse struct {
	ID             string            `json:"id"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
	Messages       []sessionMessage  `json:"messages"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type sessionMessage struct {
	ID           string           `json:"id"`
	Role         string           `json:"role"`
	Content      string           `json:"content"`
	CreatedAt    time.Time        `json:"created_at"`
	ChapterID    string           `json:"chapter_id,omitempty"`
	SelectedText string           `json:"selected_text,omitempty"`
	Sources      []session.Source `json:"sources,omitempty"`
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, msgs, err := s.engine.Session(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrExpired) {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("session lookup failed", "session_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "session lookup failed")
		return
	}

	out := sessionResponse{
		ID:             sess.ID,
		CreatedAt:      sess.CreatedAt,
		LastActivityAt: sess.LastActivityAt,
		ExpiresAt:      sess.ExpiresAt,
		Metadata:       sess.Metadata,
		Messages:       make([]sessionMessage, len(msgs)),
	}
	for i, m := range msgs {
		out.Messages[i] = sessionMessage{
			ID:           m.ID,
			Role:         m.Role,
			Content:      m.Content,
			CreatedAt:    m.CreatedAt,
			ChapterID:    m.ChapterID,
			SelectedText: m.SelectedText,
			Sources:      m.Sources,
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
