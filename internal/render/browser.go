// Package render drives a single headless Chrome tab for pages that only
// materialize their content client-side.
package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	cdpstorage "github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"canvasrelay/pkg/types"
)

// Options configures the browser session.
type Options struct {
	Headless   bool
	UserAgent  string
	NavTimeout time.Duration
	OpTimeout  time.Duration
}

// Browser owns one long-lived tab. It is driven by exactly one goroutine,
// the crawl loop, and is not safe for concurrent use.
type Browser struct {
	opts        Options
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

// NewBrowser launches Chrome and opens the tab the crawl loop will drive.
func NewBrowser(opts Options) (*Browser, error) {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 60 * time.Second
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 15 * time.Second
	}

	execOpts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	}
	if ua := strings.TrimSpace(opts.UserAgent); ua != "" {
		execOpts = append(execOpts, chromedp.UserAgent(ua))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), execOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	b := &Browser{
		opts:        opts,
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
	}
	if err := chromedp.Run(tabCtx); err != nil {
		b.Close()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	return b, nil
}

// Close tears down the tab and the browser process.
func (b *Browser) Close() error {
	if b == nil {
		return nil
	}
	if b.cancelTab != nil {
		b.cancelTab()
	}
	if b.cancelAlloc != nil {
		b.cancelAlloc()
	}
	return nil
}

// run executes actions against the tab with a deadline, honouring the
// caller's cancellation.
func (b *Browser) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(b.tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads a URL and waits for the document body.
func (b *Browser) Navigate(ctx context.Context, url string) error {
	if err := b.run(ctx, b.opts.NavTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Location reports the tab's current URL.
func (b *Browser) Location(ctx context.Context) (string, error) {
	var loc string
	if err := b.run(ctx, b.opts.OpTimeout, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// HTML exports the rendered DOM as markup.
func (b *Browser) HTML(ctx context.Context) (string, error) {
	var markup string
	if err := b.run(ctx, b.opts.OpTimeout, chromedp.OuterHTML("html", &markup, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return markup, nil
}

// RowCount counts rendered elements matching the selector.
func (b *Browser) RowCount(ctx context.Context, selector string) (int, error) {
	var count int
	js := fmt.Sprintf("document.querySelectorAll(%q).length", selector)
	if err := b.run(ctx, b.opts.OpTimeout, chromedp.Evaluate(js, &count)); err != nil {
		return 0, err
	}
	return count, nil
}

// WaitForRows waits briefly for the selector to appear. A timeout is not
// an error worth surfacing; the caller escalates to scroll forcing.
func (b *Browser) WaitForRows(ctx context.Context, selector string, timeout time.Duration) error {
	err := b.run(ctx, timeout, chromedp.WaitReady(selector, chromedp.ByQuery))
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		return nil
	}
	return err
}

// ScrollBy scrolls the viewport vertically to trigger lazy loading.
func (b *Browser) ScrollBy(ctx context.Context, dy int) error {
	var ignored any
	js := fmt.Sprintf("window.scrollBy(0, %d); true", dy)
	return b.run(ctx, b.opts.OpTimeout, chromedp.Evaluate(js, &ignored))
}

// AnchorHrefs returns the href attributes of rendered anchors matching
// the selector.
func (b *Browser) AnchorHrefs(ctx context.Context, selector string) ([]string, error) {
	var hrefs []string
	js := fmt.Sprintf(
		"Array.from(document.querySelectorAll(%q), a => a.getAttribute('href')).filter(h => h)",
		selector,
	)
	if err := b.run(ctx, b.opts.OpTimeout, chromedp.Evaluate(js, &hrefs)); err != nil {
		return nil, err
	}
	return hrefs, nil
}

// ImportCookies installs persisted session cookies into the tab.
func (b *Browser) ImportCookies(ctx context.Context, cookies []types.SessionCookie) error {
	if len(cookies) == 0 {
		return nil
	}
	return b.run(ctx, b.opts.OpTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			err := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

// ExportCookies captures the tab's cookies for reuse by HTTP workers and
// for persistence across runs.
func (b *Browser) ExportCookies(ctx context.Context) ([]types.SessionCookie, error) {
	var out []types.SessionCookie
	err := b.run(ctx, b.opts.OpTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := cdpstorage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		out = make([]types.SessionCookie, 0, len(cookies))
		for _, c := range cookies {
			out = append(out, types.SessionCookie{
				Name:   c.Name,
				Value:  c.Value,
				Domain: c.Domain,
				Path:   c.Path,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("export cookies: %w", err)
	}
	return out, nil
}
