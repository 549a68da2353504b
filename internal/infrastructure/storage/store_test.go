package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/insightx/insightx/internal/domain"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	mean := 15.0
	session := domain.Session{
		ID:       "s-1",
		Filename: "spend.csv",
		RowCount: 2,
		Status:   "ready",
		Table:    "ds_abc",
		Profile: &domain.DatasetProfile{
			TotalRows:    2,
			TotalColumns: 1,
			Columns:      []domain.ColumnProfile{{Name: "amount", Type: "numeric", Mean: &mean}},
		},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	got, err := store.Session(ctx, "s-1")
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if diff := cmp.Diff(session, got); diff != "" {
		t.Fatalf("session mismatch (-want +got):\n%s", diff)
	}

	handle, err := store.Resolve(ctx, "s-1")
	if err != nil || handle.Table != "ds_abc" {
		t.Fatalf("Resolve() = %+v, %v", handle, err)
	}
}

func TestSessionNotFoundKind(t *testing.T) {
	store := openStore(t)
	_, err := store.Session(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrSessionNotFound) {
		t.Fatalf("error kind = %v, want session_not_found", err)
	}
}

func TestChatMessagesAndFindings(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	chat := domain.Chat{ID: "c-1", SessionID: "s-1", Title: "Spend", CreatedAt: time.Now().UTC().Truncate(time.Second)}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	got, err := store.Chat(ctx, "c-1")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if diff := cmp.Diff(chat, got); diff != "" {
		t.Fatalf("chat mismatch (-want +got):\n%s", diff)
	}

	base := time.Now().UTC().Truncate(time.Second)
	for i, role := range []string{"user", "assistant", "user"} {
		msg := domain.Message{
			ID:        string(rune('a' + i)),
			ChatID:    "c-1",
			Role:      role,
			Content:   role + " turn",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage() error = %v", err)
		}
	}
	messages, err := store.Messages(ctx, "c-1")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(messages) != 3 || messages[0].Role != "user" || messages[1].Role != "assistant" {
		t.Fatalf("messages out of order: %+v", messages)
	}

	for i := 0; i < 2; i++ {
		finding := domain.Finding{
			Query:      "SELECT 1",
			Finding:    "insight",
			Confidence: 90,
			Timestamp:  base.Add(time.Duration(i) * time.Second),
		}
		if err := store.AppendFinding(ctx, "s-1", finding); err != nil {
			t.Fatalf("AppendFinding() error = %v", err)
		}
	}
	findings, err := store.Findings(ctx, "s-1")
	if err != nil {
		t.Fatalf("Findings() error = %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("findings = %+v", findings)
	}
}

func TestIngestCSVCreatesTypedTableAndProfile(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	csv := strings.NewReader("Merchant Name,Amount,Count\nalpha,10.5,1\nbeta,20.5,2\ngamma,,3\n")
	session, err := store.IngestCSV(ctx, "spend.csv", csv)
	if err != nil {
		t.Fatalf("IngestCSV() error = %v", err)
	}

	if session.Status != "ready" || session.RowCount != 3 {
		t.Fatalf("session = %+v", session)
	}
	if !strings.HasPrefix(session.Table, "ds_") {
		t.Fatalf("table name = %q", session.Table)
	}
	if session.Profile == nil || session.Profile.TotalColumns != 3 {
		t.Fatalf("profile = %+v", session.Profile)
	}

	cols := session.Profile.ColumnNames()
	if diff := cmp.Diff([]string{"merchant_name", "amount", "count"}, cols); diff != "" {
		t.Fatalf("sanitized columns mismatch (-want +got):\n%s", diff)
	}

	var total float64
	row := store.DB().QueryRowContext(ctx, "SELECT SUM(amount) FROM \""+session.Table+"\"")
	if err := row.Scan(&total); err != nil {
		t.Fatalf("dataset table not queryable: %v", err)
	}
	if total != 31.0 {
		t.Fatalf("SUM(amount) = %v, want 31", total)
	}

	loaded, err := store.Session(ctx, session.ID)
	if err != nil {
		t.Fatalf("Session() after ingest error = %v", err)
	}
	if loaded.Table != session.Table {
		t.Fatalf("persisted table = %q, want %q", loaded.Table, session.Table)
	}
}

func TestIngestCSVRejectsEmptyInput(t *testing.T) {
	store := openStore(t)
	_, err := store.IngestCSV(context.Background(), "empty.csv", strings.NewReader(""))
	if err == nil {
		t.Fatal("expected error for empty CSV")
	}
}
