// Package api exposes the HTTP surface: dataset upload, session and chat
// resources, the streaming answer endpoint, and credential diagnostics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/insightx/insightx/internal/application/orchestrator"
	"github.com/insightx/insightx/internal/domain"
	"github.com/insightx/insightx/internal/log"
	"github.com/insightx/insightx/internal/ports"
)

const maxUploadBytes = 32 << 20

// Streamer runs one question through the answer pipeline.
type Streamer interface {
	Stream(ctx context.Context, req orchestrator.Request) <-chan domain.OrchestrationEvent
}

// Ingestor turns an uploaded CSV into a registered session.
type Ingestor interface {
	IngestCSV(ctx context.Context, filename string, r io.Reader) (domain.Session, error)
}

// StatsSource reports the credential pool snapshot.
type StatsSource interface {
	Stats() domain.PoolStats
}

// Server wires the handlers to their collaborators.
type Server struct {
	Repo     ports.SessionRepository
	Ingestor Ingestor
	Pipeline Streamer
	Keys     StatsSource

	logger zerolog.Logger
}

// Router builds the chi router with all routes registered.
func (s *Server) Router() chi.Router {
	s.logger = log.WithComponent("api")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/upload", s.handleUpload)
	r.Get("/sessions/{id}", s.handleSession)
	r.Get("/sessions/{id}/insights", s.handleInsights)
	r.Post("/chats", s.handleCreateChat)
	r.Get("/chats/{id}/messages", s.handleMessages)
	r.Post("/chat/stream", s.handleChatStream)
	r.Get("/keys/stats", s.handleKeyStats)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	session, err := s.Ingestor.IngestCSV(r.Context(), header.Filename, file)
	if err != nil {
		s.logger.Error().Err(err).Str("filename", header.Filename).Msg("ingest failed")
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.Repo.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if _, err := s.Repo.Session(r.Context(), sessionID); err != nil {
		writeDomainError(w, err)
		return
	}
	findings, err := s.Repo.Findings(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if findings == nil {
		findings = []domain.Finding{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "findings": findings})
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
		Title     string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if _, err := s.Repo.Session(r.Context(), body.SessionID); err != nil {
		writeDomainError(w, err)
		return
	}
	if body.Title == "" {
		body.Title = "New chat"
	}
	chat := domain.Chat{
		ID:        uuid.NewString(),
		SessionID: body.SessionID,
		Title:     body.Title,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Repo.CreateChat(r.Context(), chat); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	if _, err := s.Repo.Chat(r.Context(), chatID); err != nil {
		writeDomainError(w, err)
		return
	}
	messages, err := s.Repo.Messages(r.Context(), chatID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleKeyStats(w http.ResponseWriter, r *http.Request) {
	if s.Keys == nil {
		writeError(w, http.StatusServiceUnavailable, "credential pool not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.Keys.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var domainErr *domain.Error
	status := http.StatusInternalServerError
	if errors.As(err, &domainErr) && domainErr.Kind == domain.ErrSessionNotFound {
		status = http.StatusNotFound
	}
	writeError(w, status, err.Error())
}
