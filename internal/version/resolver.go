// Package version resolves logical file references to the concrete set
// of downloadable URLs. A file may expose multiple dated versions.
package version

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"canvasrelay/internal/canonical"
	"canvasrelay/internal/session"
	"canvasrelay/pkg/types"
)

var (
	versionLinkRE = regexp.MustCompile(`(?i)href="([^"]*?/files/\d+/(?:download|[^"]*?\bver=\d+)[^"]*)"`)
	hrefAttrRE    = regexp.MustCompile(`href="([^"]+)"`)
)

// Resolver expands file identities into download URLs over plain HTTP,
// authenticated by the shared cookie set rather than the browser.
type Resolver struct {
	base    string
	factory *session.Factory
	workers int
	logger  *slog.Logger
}

// NewResolver builds a resolver bounded to the given worker count.
func NewResolver(base string, factory *session.Factory, workers int, logger *slog.Logger) *Resolver {
	if workers <= 0 {
		workers = 8
	}
	return &Resolver{
		base:    strings.TrimSuffix(base, "/"),
		factory: factory,
		workers: workers,
		logger:  logger,
	}
}

// Resolve fetches the file's detail page and extracts its version and
// download links. It never returns an empty set: when no explicit links
// are found the canonical /download URL is synthesized. A login redirect
// surfaces as session.ErrSessionExpired.
func (r *Resolver) Resolve(ctx context.Context, client *http.Client, id types.FileIdentity, cookies types.Cookies) ([]string, error) {
	pageURL := fmt.Sprintf("%s/courses/%s/files/%s", r.base, id.CourseID, id.FileID)
	markup, err := session.FetchHTML(ctx, client, pageURL, cookies)
	if err != nil {
		return nil, err
	}

	found := make(map[string]struct{})
	for _, m := range versionLinkRE.FindAllStringSubmatch(markup, -1) {
		if abs, err := canonical.Absolutize(m[1], r.base); err == nil {
			found[abs] = struct{}{}
		}
	}
	if len(found) == 0 {
		marker := "/files/" + id.FileID
		for _, m := range hrefAttrRE.FindAllStringSubmatch(markup, -1) {
			href := m[1]
			if !strings.Contains(href, marker) {
				continue
			}
			if !strings.Contains(href, "download") && !strings.Contains(href, "ver=") {
				continue
			}
			if abs, err := canonical.Absolutize(href, r.base); err == nil {
				found[abs] = struct{}{}
			}
		}
	}
	if len(found) == 0 {
		found[r.fallback(id)] = struct{}{}
	}

	out := make([]string, 0, len(found))
	for u := range found {
		out = append(out, u)
	}
	return out, nil
}

// ResolveAll expands a batch of file identities in parallel. Session
// expiry aborts the whole batch; any other per-file failure degrades to
// the synthesized download URL so the file is still attempted.
func (r *Resolver) ResolveAll(ctx context.Context, ids []types.FileIdentity, cookies types.Cookies) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(ids) == 0 {
		return out, nil
	}

	// Lazily created clients, one per in-flight worker.
	clients := make(chan *http.Client, r.workers)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, id := range ids {
		g.Go(func() error {
			var client *http.Client
			select {
			case client = <-clients:
			default:
				client = r.factory.NewClient(session.Canvas)
			}
			defer func() { clients <- client }()

			urls, err := r.Resolve(gctx, client, id, cookies)
			if err != nil {
				if errors.Is(err, session.ErrSessionExpired) {
					return err
				}
				r.logger.Warn("version resolution failed, using canonical download URL",
					"course_id", id.CourseID, "file_id", id.FileID, "error", err)
				urls = []string{r.fallback(id)}
			}
			mu.Lock()
			for _, u := range urls {
				out[u] = struct{}{}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resolver) fallback(id types.FileIdentity) string {
	return fmt.Sprintf("%s/courses/%s/files/%s/download", r.base, id.CourseID, id.FileID)
}
