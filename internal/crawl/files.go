package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"canvasrelay/internal/canonical"
	"canvasrelay/internal/extract"
	"canvasrelay/internal/session"
)

// crawlFilesBFS walks the course's file listing breadth-first through the
// rendering engine: the listing relies on client-side incremental
// rendering, so each node is rendered, lazy-load forced when needed, and
// only then read. Folders and pagination pages are enqueued up to the
// depth bound. Per-node failures are logged and treated as "no links
// here"; only session expiry aborts the traversal.
func (e *Engine) crawlFilesBFS(ctx context.Context, r PageRenderer, courseID string) (map[string]struct{}, error) {
	docs := make(map[string]struct{})
	start, err := canonical.Canonicalize(fmt.Sprintf("/courses/%s/files", courseID), e.base)
	if err != nil {
		return docs, fmt.Errorf("canonicalize files listing: %w", err)
	}

	frontier := NewFrontier(start)
	maxDepth := e.cfg.Crawl.MaxFilesDepth
	for {
		entry, ok := frontier.Next()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return docs, err
		}
		if err := e.limiter.Wait(ctx, e.baseHost); err != nil {
			return docs, err
		}

		markup, err := e.renderFilesPage(ctx, r, entry.URL)
		if err != nil {
			if errors.Is(err, session.ErrSessionExpired) {
				return docs, err
			}
			e.logger.Warn("files page crawl failed", "url", entry.URL, "error", err)
			continue
		}

		links := extract.Links(markup, e.base)
		for u := range links.Documents {
			docs[u] = struct{}{}
		}
		if entry.Depth+1 > maxDepth {
			continue
		}
		for u := range links.Folders {
			frontier.Enqueue(u, entry.Depth+1)
		}
		for u := range links.Pagination {
			frontier.Enqueue(u, entry.Depth+1)
		}
	}
	return docs, nil
}

func (e *Engine) renderFilesPage(ctx context.Context, r PageRenderer, url string) (string, error) {
	if err := r.Navigate(ctx, url); err != nil {
		return "", err
	}
	if loc, err := r.Location(ctx); err == nil && session.IsLoginPage(loc, "") {
		return "", session.ErrSessionExpired
	}

	ll := e.cfg.Crawl.LazyLoad
	selector := e.cfg.Rendering.RowSelector
	rows, err := r.RowCount(ctx, selector)
	if err != nil {
		return "", err
	}
	if rows == 0 {
		_ = r.WaitForRows(ctx, selector, ll.RowWait.Duration)
		rows, err = r.RowCount(ctx, selector)
		if err != nil {
			return "", err
		}
		if rows == 0 {
			e.forceLazyLoad(ctx, r)
		}
	}
	return r.HTML(ctx)
}

// forceLazyLoad scrolls the rendered view until the item-row count
// settles. A listing that still reports zero rows after the first cap
// gets one escalation with a larger cap; first loads sometimes need more
// scroll cycles.
func (e *Engine) forceLazyLoad(ctx context.Context, r PageRenderer) int {
	ll := e.cfg.Crawl.LazyLoad
	rows := e.scrollAndSettle(ctx, r, ll.MaxScrolls)
	if rows == 0 && ll.EscalateTo > ll.MaxScrolls {
		rows = e.scrollAndSettle(ctx, r, ll.EscalateTo)
	}
	return rows
}

func (e *Engine) scrollAndSettle(ctx context.Context, r PageRenderer, limit int) int {
	ll := e.cfg.Crawl.LazyLoad
	selector := e.cfg.Rendering.RowSelector
	last, stable := -1, 0
	for i := 0; i < limit; i++ {
		if ctx.Err() != nil {
			break
		}
		if err := r.ScrollBy(ctx, ll.ScrollDeltaPx); err != nil {
			break
		}
		sleepCtx(ctx, ll.PollDelay.Duration)
		count, err := r.RowCount(ctx, selector)
		if err != nil {
			break
		}
		if count == last {
			stable++
			if stable >= ll.SettleChecks {
				break
			}
		} else {
			stable, last = 0, count
		}
	}
	if last < 0 {
		return 0
	}
	return last
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
