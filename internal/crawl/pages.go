package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"canvasrelay/internal/canonical"
	"canvasrelay/internal/extract"
	"canvasrelay/internal/session"
	"canvasrelay/pkg/types"
)

// crawlPages collects document links from the course wiki. The index is
// rendered once (it lazy-loads like the files listing); individual pages
// are plain authenticated fetches. Traversal is bounded by both a page
// budget and a shallow depth so a heavily cross-linked wiki cannot run
// away. Session expiry aborts; any other per-page failure is skipped.
func (e *Engine) crawlPages(ctx context.Context, r PageRenderer, client *http.Client, courseID string, cookies types.Cookies) (map[string]struct{}, error) {
	docs := make(map[string]struct{})
	seen := make(map[string]struct{})
	var queue []types.FrontierEntry

	indexURL := fmt.Sprintf("%s/courses/%s/pages", e.base, courseID)
	if err := r.Navigate(ctx, indexURL); err != nil {
		e.logger.Warn("pages index render failed", "url", indexURL, "error", err)
	} else {
		if loc, err := r.Location(ctx); err == nil && session.IsLoginPage(loc, "") {
			return docs, session.ErrSessionExpired
		}
		e.scrollAndSettle(ctx, r, e.cfg.Crawl.LazyLoad.IndexMaxScrolls)

		var hrefs []string
		if found, err := r.AnchorHrefs(ctx, `a[href*="/pages/"]`); err == nil {
			hrefs = found
		}
		if markup, err := r.HTML(ctx); err == nil {
			hrefs = append(hrefs, extract.CoursePageLinks(markup, e.base, courseID)...)
		}
		for _, href := range hrefs {
			if len(seen) >= e.cfg.Crawl.MaxWikiPages {
				break
			}
			abs, err := canonical.Absolutize(href, e.base)
			if err != nil || !extract.SameCoursePage(abs, courseID) {
				continue
			}
			if _, ok := seen[abs]; ok {
				continue
			}
			seen[abs] = struct{}{}
			queue = append(queue, types.FrontierEntry{URL: abs, Depth: 0})
		}
	}

	maxPages := e.cfg.Crawl.MaxWikiPages
	maxDepth := e.cfg.Crawl.MaxWikiDepth
	for len(queue) > 0 && len(seen) <= maxPages {
		entry := queue[0]
		queue = queue[1:]
		if entry.Depth >= maxDepth {
			continue
		}
		if err := ctx.Err(); err != nil {
			return docs, err
		}
		if err := e.limiter.Wait(ctx, e.baseHost); err != nil {
			return docs, err
		}

		reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Canvas.RequestTimeout.Duration)
		markup, err := session.FetchHTML(reqCtx, client, entry.URL, cookies)
		cancel()
		if err != nil {
			if errors.Is(err, session.ErrSessionExpired) {
				return docs, err
			}
			e.logger.Warn("wiki page skipped", "url", entry.URL, "error", err)
			continue
		}

		for u := range extract.DocumentLinks(markup, e.base) {
			docs[u] = struct{}{}
		}
		for _, abs := range extract.CoursePageLinks(markup, e.base, courseID) {
			if _, ok := seen[abs]; ok {
				continue
			}
			if len(seen) >= maxPages {
				break
			}
			seen[abs] = struct{}{}
			queue = append(queue, types.FrontierEntry{URL: abs, Depth: entry.Depth + 1})
		}
	}
	return docs, nil
}
