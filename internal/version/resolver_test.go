package version

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"canvasrelay/internal/session"
	"canvasrelay/pkg/types"
)

func testResolver(base string, workers int) *Resolver {
	factory := session.NewFactory(session.Options{
		RetryAttempts: 1,
		RetryBackoff:  time.Millisecond,
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewResolver(base, factory, workers, logger)
}

func TestResolveExtractsVersionLinks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
<a href="/courses/1/files/10/download">Current</a>
<a href="/courses/1/files/10/download?download_frd=1&ver=2">Version 2</a>
<a href="/courses/1/modules">Unrelated</a>
</body></html>`)
	}))
	defer server.Close()

	resolver := testResolver(server.URL, 2)
	client := resolver.factory.NewClient(session.Canvas)
	urls, err := resolver.Resolve(context.Background(), client, types.FileIdentity{CourseID: "1", FileID: "10"}, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("expected 2 version links, got %d: %v", len(urls), urls)
	}
}

func TestResolveSynthesizesFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>No file links here</body></html>`)
	}))
	defer server.Close()

	resolver := testResolver(server.URL, 2)
	client := resolver.factory.NewClient(session.Canvas)
	urls, err := resolver.Resolve(context.Background(), client, types.FileIdentity{CourseID: "1", FileID: "10"}, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(urls) != 1 {
		t.Fatalf("expected exactly the fallback URL, got %v", urls)
	}
	want := server.URL + "/courses/1/files/10/download"
	if urls[0] != want {
		t.Fatalf("expected %q, got %q", want, urls[0])
	}
}

func TestResolveAllNeverEmptyPerIdentity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// File 20 errors out; it must still produce its fallback URL.
		if r.URL.Path == "/courses/1/files/20" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `<a href="/courses/1/files/10/download">Current</a>`)
	}))
	defer server.Close()

	resolver := testResolver(server.URL, 4)
	ids := []types.FileIdentity{
		{CourseID: "1", FileID: "10"},
		{CourseID: "1", FileID: "20"},
	}
	out, err := resolver.ResolveAll(context.Background(), ids, nil)
	if err != nil {
		t.Fatalf("resolve all: %v", err)
	}
	if _, ok := out[server.URL+"/courses/1/files/10/download"]; !ok {
		t.Fatalf("missing resolved URL for file 10: %v", out)
	}
	if _, ok := out[server.URL+"/courses/1/files/20/download"]; !ok {
		t.Fatalf("missing fallback URL for failed file 20: %v", out)
	}
}

func TestResolveAllAbortsOnSessionExpiry(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login/saml", http.StatusFound)
	})
	mux.HandleFunc("/login/saml", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<input type='password'>")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	resolver := testResolver(server.URL, 2)
	_, err := resolver.ResolveAll(context.Background(), []types.FileIdentity{{CourseID: "1", FileID: "10"}}, nil)
	if !errors.Is(err, session.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}
