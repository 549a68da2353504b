package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/insightx/insightx/internal/domain"
	"github.com/insightx/insightx/internal/infrastructure/credentials"
)

func newTestGateway(t *testing.T, secrets []string, url string) (*Gateway, *credentials.Pool) {
	t.Helper()
	pool, err := credentials.NewPool(secrets)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	gw := NewGateway(pool, domain.GatewaySettings{BaseURL: url, TimeoutSeconds: 5, MaxNetRetries: 1})
	gw.sleep = func(time.Duration) {}
	return gw, pool
}

func completionBody(text string) string {
	return `{"choices":[{"message":{"role":"assistant","content":"` + text + `"}}]}`
}

func TestCompleteReturnsAssistantText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k1" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(completionBody("hello")))
	}))
	defer srv.Close()

	gw, pool := newTestGateway(t, []string{"k1"}, srv.URL)
	text, err := gw.Complete(context.Background(), domain.AgentClassifier, []domain.ChatMessage{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "hello" {
		t.Fatalf("text = %q, want hello", text)
	}
	if stats := pool.Stats(); stats.UsesByID["credential_1"] != 1 {
		t.Fatalf("success not reported: %+v", stats)
	}
}

func TestCompleteRotatesOnUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer bad" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(completionBody("ok")))
	}))
	defer srv.Close()

	gw, pool := newTestGateway(t, []string{"bad", "good"}, srv.URL)
	text, err := gw.Complete(context.Background(), domain.AgentQueryGenerator, []domain.ChatMessage{{Role: "user", Content: "q"}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "ok" {
		t.Fatalf("text = %q, want ok", text)
	}

	event := pool.TakeLastRotation()
	if event == nil || event.FromIndex != 0 || event.ToIndex != 1 {
		t.Fatalf("rotation event = %+v, want 0->1", event)
	}
}

func TestCompleteExhaustsAfterFullCycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	gw, _ := newTestGateway(t, []string{"k1", "k2"}, srv.URL)
	_, err := gw.Complete(context.Background(), domain.AgentSynthesizer, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsKind(err, domain.ErrUpstreamExhausted) {
		t.Fatalf("error kind = %s, want upstream_exhausted", domain.KindOf(err))
	}
}

func TestCompleteDoesNotRotateOnBadRequest(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	gw, pool := newTestGateway(t, []string{"k1", "k2"}, srv.URL)
	_, err := gw.Complete(context.Background(), domain.AgentClassifier, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on 400)", calls)
	}
	if event := pool.TakeLastRotation(); event != nil {
		t.Fatalf("unexpected rotation: %+v", event)
	}
}

func TestCompleteCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	gw, _ := newTestGateway(t, []string{"k1"}, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := gw.Complete(ctx, domain.AgentClassifier, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
