package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"canvasrelay/internal/session"
	"canvasrelay/internal/storage"
	"canvasrelay/pkg/types"
)

type negotiateRecord struct {
	Path        string `json:"path"`
	ContentType string `json:"contentType"`
}

func testPipeline(t *testing.T, gateway *storage.Gateway) *Pipeline {
	t.Helper()
	factory := session.NewFactory(session.Options{
		UserAgent:     "canvasrelay-test",
		RetryAttempts: 1,
		RetryBackoff:  time.Millisecond,
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPipeline(factory, gateway, nil, Options{
		Workers:       3,
		Root:          "Canvas",
		TermLabel:     "Fall 2025",
		TargetTimeout: 10 * time.Second,
	}, logger)
}

func TestRelayOutcomesPerTarget(t *testing.T) {
	var uploadMu sync.Mutex
	uploads := make(map[string][]byte)

	uploadServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		uploadMu.Lock()
		uploads[r.URL.Path] = body
		uploadMu.Unlock()
	}))
	defer uploadServer.Close()

	var negotiateMu sync.Mutex
	var negotiated []negotiateRecord
	gatewayServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rec negotiateRecord
		json.NewDecoder(r.Body).Decode(&rec)
		negotiateMu.Lock()
		negotiated = append(negotiated, rec)
		negotiateMu.Unlock()

		if rec.Path == "Canvas/Fall 2025/CPSC 4390/existing.pdf" {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"error": "object already exists"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"url": uploadServer.URL + "/" + rec.Path})
	}))
	defer gatewayServer.Close()

	canvas := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Cookie"); got != "canvas_session=abc" {
			t.Errorf("expected session cookie on download, got %q", got)
		}
		switch r.URL.Path {
		case "/courses/1/files/10/download":
			w.Header().Set("Content-Disposition", `attachment; filename="new.pdf"`)
			w.Header().Set("Content-Type", "application/pdf")
			io.WriteString(w, "%PDF new bytes")
		case "/courses/1/files/20/download":
			w.Header().Set("Content-Disposition", `attachment; filename="existing.pdf"`)
			io.WriteString(w, "%PDF existing bytes")
		default:
			http.NotFound(w, r)
		}
	}))
	defer canvas.Close()

	gateway, err := storage.NewGateway(gatewayServer.URL, "anon-key")
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}

	targets := map[string]struct{}{
		canvas.URL + "/courses/1/files/10/download":  {},
		canvas.URL + "/courses/1/files/20/download":  {},
		canvas.URL + "/courses/1/files/404/download": {},
	}
	cookies := types.Cookies{"canvas_session": "abc"}

	outcomes := testPipeline(t, gateway).Relay(context.Background(), targets, cookies, "CPSC 4390")
	if len(outcomes) != len(targets) {
		t.Fatalf("expected %d outcomes, got %d", len(targets), len(outcomes))
	}

	counts := map[types.OutcomeKind]int{}
	for _, outcome := range outcomes {
		counts[outcome.Kind]++
	}
	if counts[types.OutcomeUploaded] != 1 || counts[types.OutcomeAlreadyExists] != 1 || counts[types.OutcomeFailed] != 1 {
		t.Fatalf("unexpected outcome mix: %+v", counts)
	}

	uploadMu.Lock()
	body, ok := uploads["/Canvas/Fall 2025/CPSC 4390/new.pdf"]
	uploadMu.Unlock()
	if !ok {
		t.Fatalf("expected upload at course path, got %v", keys(uploads))
	}
	if string(body) != "%PDF new bytes" {
		t.Fatalf("uploaded bytes mangled: %q", body)
	}

	negotiateMu.Lock()
	defer negotiateMu.Unlock()
	for _, rec := range negotiated {
		if rec.Path == "" || rec.Path[0] == '/' {
			t.Fatalf("negotiated path must be relative, got %q", rec.Path)
		}
	}
}

func TestRelayEmptyTargetSet(t *testing.T) {
	gateway, err := storage.NewGateway("https://unused.example.com", "anon-key")
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	if outcomes := testPipeline(t, gateway).Relay(context.Background(), nil, nil, "CPSC 4390"); outcomes != nil {
		t.Fatalf("expected no outcomes for empty set, got %v", outcomes)
	}
}

func TestJoinPathSkipsEmptySegments(t *testing.T) {
	got := joinPath("Canvas", "", "Fall 2025", "CPSC 4390/", "notes.pdf")
	want := "Canvas/Fall 2025/CPSC 4390/notes.pdf"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
