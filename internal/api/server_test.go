package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/insightx/insightx/internal/application/orchestrator"
	"github.com/insightx/insightx/internal/domain"
)

type memRepo struct {
	sessions map[string]domain.Session
	chats    map[string]domain.Chat
	messages map[string][]domain.Message
	findings map[string][]domain.Finding
}

func newMemRepo() *memRepo {
	return &memRepo{
		sessions: make(map[string]domain.Session),
		chats:    make(map[string]domain.Chat),
		messages: make(map[string][]domain.Message),
		findings: make(map[string][]domain.Finding),
	}
}

func (m *memRepo) CreateSession(_ context.Context, session domain.Session) error {
	m.sessions[session.ID] = session
	return nil
}

func (m *memRepo) Session(_ context.Context, id string) (domain.Session, error) {
	session, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, domain.NewError(domain.ErrSessionNotFound, "session %s not found", id)
	}
	return session, nil
}

func (m *memRepo) CreateChat(_ context.Context, chat domain.Chat) error {
	m.chats[chat.ID] = chat
	return nil
}

func (m *memRepo) Chat(_ context.Context, id string) (domain.Chat, error) {
	chat, ok := m.chats[id]
	if !ok {
		return domain.Chat{}, domain.NewError(domain.ErrSessionNotFound, "chat %s not found", id)
	}
	return chat, nil
}

func (m *memRepo) SaveMessage(_ context.Context, msg domain.Message) error {
	m.messages[msg.ChatID] = append(m.messages[msg.ChatID], msg)
	return nil
}

func (m *memRepo) Messages(_ context.Context, chatID string) ([]domain.Message, error) {
	return m.messages[chatID], nil
}

func (m *memRepo) AppendFinding(_ context.Context, sessionID string, finding domain.Finding) error {
	m.findings[sessionID] = append(m.findings[sessionID], finding)
	return nil
}

func (m *memRepo) Findings(_ context.Context, sessionID string) ([]domain.Finding, error) {
	return m.findings[sessionID], nil
}

type stubIngestor struct {
	session domain.Session
	err     error
}

func (s *stubIngestor) IngestCSV(_ context.Context, filename string, r io.Reader) (domain.Session, error) {
	io.Copy(io.Discard, r)
	if s.err != nil {
		return domain.Session{}, s.err
	}
	session := s.session
	session.Filename = filename
	return session, nil
}

type stubStreamer struct {
	events []domain.OrchestrationEvent
	reqs   []orchestrator.Request
}

func (s *stubStreamer) Stream(_ context.Context, req orchestrator.Request) <-chan domain.OrchestrationEvent {
	s.reqs = append(s.reqs, req)
	ch := make(chan domain.OrchestrationEvent, len(s.events))
	for _, event := range s.events {
		ch <- event
	}
	close(ch)
	return ch
}

type stubStats struct{ stats domain.PoolStats }

func (s *stubStats) Stats() domain.PoolStats { return s.stats }

func seedSession(repo *memRepo) domain.Session {
	session := domain.Session{
		ID:        "s-1",
		Filename:  "spend.csv",
		RowCount:  100,
		Status:    "ready",
		Table:     "ds_abc",
		CreatedAt: time.Now().UTC(),
	}
	repo.sessions[session.ID] = session
	return session
}

func TestUploadCreatesSession(t *testing.T) {
	repo := newMemRepo()
	server := &Server{Repo: repo, Ingestor: &stubIngestor{session: domain.Session{ID: "s-9", Status: "ready"}}}
	router := server.Router()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "spend.csv")
	part.Write([]byte("merchant,amount\nalpha,10\n"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var session domain.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatal(err)
	}
	if session.ID != "s-9" || session.Filename != "spend.csv" {
		t.Fatalf("session = %+v", session)
	}
}

func TestSessionNotFoundIs404(t *testing.T) {
	server := &Server{Repo: newMemRepo()}
	router := server.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCreateChatAndListMessages(t *testing.T) {
	repo := newMemRepo()
	seedSession(repo)
	server := &Server{Repo: repo}
	router := server.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chats",
		strings.NewReader(`{"session_id": "s-1"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var chat domain.Chat
	if err := json.Unmarshal(rec.Body.Bytes(), &chat); err != nil {
		t.Fatal(err)
	}
	if chat.SessionID != "s-1" || chat.Title != "New chat" {
		t.Fatalf("chat = %+v", chat)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chats/"+chat.ID+"/messages", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("messages = %s, want empty list", body)
	}
}

func TestChatStreamEmitsSSEAndPersistsOutcome(t *testing.T) {
	repo := newMemRepo()
	session := seedSession(repo)
	chat := domain.Chat{ID: "c-1", SessionID: session.ID, CreatedAt: time.Now().UTC()}
	repo.chats[chat.ID] = chat

	final := domain.FinalAnswer{Text: "Alpha leads.", Confidence: 90}
	finding := domain.Finding{Finding: "Alpha leads.", Confidence: 90, Timestamp: time.Now().UTC()}
	streamer := &stubStreamer{events: []domain.OrchestrationEvent{
		domain.StatusEvent(domain.StageClassifying, "Understanding your question"),
		{Type: domain.EventClassification, Classification: &domain.ClassificationResult{Route: domain.RouteNone}},
		domain.StatusEvent(domain.StageComposing, "Composing the answer"),
		{Type: domain.EventFinalResponse, Final: &final, Finding: &finding},
	}}

	server := &Server{Repo: repo, Pipeline: streamer}
	router := server.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat/stream",
		strings.NewReader(`{"chat_id": "c-1", "message": "Who leads?"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	for _, marker := range []string{"event: status", "event: classification", "event: final_response"} {
		if !strings.Contains(body, marker) {
			t.Fatalf("stream body missing %q:\n%s", marker, body)
		}
	}

	if len(streamer.reqs) != 1 || streamer.reqs[0].Context.Dataset.Table != "ds_abc" {
		t.Fatalf("pipeline request = %+v", streamer.reqs)
	}

	messages := repo.messages["c-1"]
	if len(messages) != 2 || messages[0].Role != "user" || messages[1].Role != "assistant" {
		t.Fatalf("persisted messages = %+v", messages)
	}
	if !strings.Contains(messages[1].Content, "Alpha leads.") {
		t.Fatalf("assistant content = %q", messages[1].Content)
	}
	if len(repo.findings[session.ID]) != 1 {
		t.Fatalf("findings = %+v", repo.findings[session.ID])
	}
}

func TestChatStreamRequiresChatAndMessage(t *testing.T) {
	server := &Server{Repo: newMemRepo()}
	router := server.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat/stream",
		strings.NewReader(`{"chat_id": ""}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestKeyStats(t *testing.T) {
	server := &Server{Repo: newMemRepo(), Keys: &stubStats{stats: domain.PoolStats{
		TotalCredentials: 3,
		CurrentIndex:     1,
	}}}
	router := server.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/keys/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats domain.PoolStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalCredentials != 3 || stats.CurrentIndex != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}
