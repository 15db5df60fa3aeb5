package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"canvasrelay/internal/extract"
	"canvasrelay/internal/session"
	"canvasrelay/pkg/types"
)

// Supplemental sources are single authenticated HTML fetches, no
// rendering required. Each is best-effort: a source that fails is logged
// and skipped without touching the others.
var supplementalSources = []struct {
	name string
	path string
}{
	{"modules", "/courses/%s/modules"},
	{"assignments", "/courses/%s/assignments"},
	{"syllabus", "/courses/%s/assignments/syllabus"},
}

func (e *Engine) crawlSupplemental(ctx context.Context, client *http.Client, courseID string, cookies types.Cookies) map[string]struct{} {
	docs := make(map[string]struct{})
	for _, src := range supplementalSources {
		if ctx.Err() != nil {
			break
		}
		if err := e.limiter.Wait(ctx, e.baseHost); err != nil {
			break
		}
		url := e.base + fmt.Sprintf(src.path, courseID)
		reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Canvas.RequestTimeout.Duration)
		markup, err := session.FetchHTML(reqCtx, client, url, cookies)
		cancel()
		if err != nil {
			if errors.Is(err, session.ErrSessionExpired) {
				e.logger.Error("supplemental source hit the login page", "source", src.name, "url", url)
			} else {
				e.logger.Warn("supplemental source skipped", "source", src.name, "url", url, "error", err)
			}
			continue
		}
		found := 0
		for u := range extract.DocumentLinks(markup, e.base) {
			docs[u] = struct{}{}
			found++
		}
		e.logger.Debug("supplemental source crawled", "source", src.name, "links", found)
	}
	return docs
}
