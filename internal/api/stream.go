package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/insightx/insightx/internal/application/orchestrator"
	"github.com/insightx/insightx/internal/domain"
)

const persistTimeout = 5 * time.Second

// handleChatStream answers one question over Server-Sent Events. The user
// turn is persisted before the pipeline starts; the assistant turn and the
// new finding are persisted after the terminal event.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ChatID  string `json:"chat_id"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ChatID == "" || body.Message == "" {
		writeError(w, http.StatusBadRequest, "chat_id and message are required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	chat, err := s.Repo.Chat(ctx, body.ChatID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	session, err := s.Repo.Session(ctx, chat.SessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	findings, err := s.Repo.Findings(ctx, session.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.Repo.SaveMessage(ctx, domain.Message{
		ID:        uuid.NewString(),
		ChatID:    chat.ID,
		Role:      "user",
		Content:   body.Message,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	req := orchestrator.Request{
		Question: body.Message,
		Context: domain.SessionContext{
			SessionID:     session.ID,
			Dataset:       domain.DatasetHandle{Table: session.Table},
			Profile:       session.Profile,
			PriorFindings: findings,
		},
	}

	for event := range s.Pipeline.Stream(ctx, req) {
		if err := writeSSE(w, flusher, event); err != nil {
			s.logger.Warn().Err(err).Str("chat", chat.ID).Msg("client went away mid-stream")
			return
		}
		if event.Type == domain.EventFinalResponse {
			s.persistOutcome(chat, session.ID, event)
		}
	}
}

// persistOutcome stores the assistant turn and the finding. A background
// context is used so a client disconnect right after the terminal event does
// not lose the completed turn.
func (s *Server) persistOutcome(chat domain.Chat, sessionID string, event domain.OrchestrationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	content, err := json.Marshal(event.Final)
	if err != nil {
		s.logger.Error().Err(err).Msg("final answer not serializable")
		return
	}
	if err := s.Repo.SaveMessage(ctx, domain.Message{
		ID:        uuid.NewString(),
		ChatID:    chat.ID,
		Role:      "assistant",
		Content:   string(content),
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		s.logger.Error().Err(err).Str("chat", chat.ID).Msg("could not persist assistant turn")
	}
	if event.Finding != nil && event.Finding.Finding != "" {
		if err := s.Repo.AppendFinding(ctx, sessionID, *event.Finding); err != nil {
			s.logger.Error().Err(err).Str("session", sessionID).Msg("could not persist finding")
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event domain.OrchestrationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
