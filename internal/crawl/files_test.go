package crawl

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"canvasrelay/internal/config"
	"canvasrelay/internal/session"
	"canvasrelay/pkg/types"
)

const testBase = "https://canvas.example.edu"

type fakePage struct {
	html         string
	rows         int
	htmlScrolled string
	rowsScrolled int
}

// fakeRenderer drives the crawl loop without a browser. Pages can report
// different content before and after scrolling to exercise the lazy-load
// forcing path.
type fakeRenderer struct {
	pages    map[string]*fakePage
	current  string
	visits   []string
	scrolled bool
}

func (f *fakeRenderer) Navigate(ctx context.Context, url string) error {
	if _, ok := f.pages[url]; !ok {
		return errors.New("no route for " + url)
	}
	f.current = url
	f.scrolled = false
	f.visits = append(f.visits, url)
	return nil
}

func (f *fakeRenderer) Location(ctx context.Context) (string, error) {
	return f.current, nil
}

func (f *fakeRenderer) HTML(ctx context.Context) (string, error) {
	page := f.pages[f.current]
	if f.scrolled && page.htmlScrolled != "" {
		return page.htmlScrolled, nil
	}
	return page.html, nil
}

func (f *fakeRenderer) RowCount(ctx context.Context, selector string) (int, error) {
	page := f.pages[f.current]
	if f.scrolled {
		return page.rowsScrolled, nil
	}
	return page.rows, nil
}

func (f *fakeRenderer) WaitForRows(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}

func (f *fakeRenderer) ScrollBy(ctx context.Context, dy int) error {
	f.scrolled = true
	return nil
}

func (f *fakeRenderer) AnchorHrefs(ctx context.Context, selector string) ([]string, error) {
	return nil, nil
}

func (f *fakeRenderer) ImportCookies(ctx context.Context, cookies []types.SessionCookie) error {
	return nil
}

func (f *fakeRenderer) ExportCookies(ctx context.Context) ([]types.SessionCookie, error) {
	return nil, nil
}

func (f *fakeRenderer) Close() error { return nil }

func testEngine() *Engine {
	cfg := config.Default()
	cfg.Canvas.BaseURL = testBase
	cfg.Crawl.LazyLoad.PollDelay = config.DurationFrom(0)
	cfg.Crawl.LazyLoad.RowWait = config.DurationFrom(0)
	return &Engine{
		cfg:      cfg,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		limiter:  NewLimiter(0, RateLimiterSettings{}),
		base:     testBase,
		baseHost: "canvas.example.edu",
	}
}

func TestCrawlFilesBFSVisitsFoldersOnce(t *testing.T) {
	listing := testBase + "/courses/101/files"
	folder := testBase + "/courses/101/files/folder/Week%201"

	r := &fakeRenderer{pages: map[string]*fakePage{
		listing: {
			rows: 3,
			html: `<html><body>
<a href="/courses/101/files/111?wrap=1">Syllabus.pdf</a>
<a href="/courses/101/files/222/download">Notes.docx</a>
<a href="/courses/101/files/folder/Week%201">Week 1</a>
<a href="/courses/101/files/folder/Week%201/">Week 1 again</a>
</body></html>`,
		},
		folder: {
			rows: 1,
			html: `<a href="/courses/101/files/333?module_item_id=5">Reading.pdf</a>`,
		},
	}}

	docs, err := testEngine().crawlFilesBFS(context.Background(), r, "101")
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 documents, got %d: %v", len(docs), docs)
	}
	if len(r.visits) != 2 {
		t.Fatalf("expected duplicate folder link to be visited once (2 total visits), got %v", r.visits)
	}
}

func TestCrawlFilesBFSForcesLazyLoad(t *testing.T) {
	listing := testBase + "/courses/101/files"
	r := &fakeRenderer{pages: map[string]*fakePage{
		listing: {
			rows:         0,
			html:         `<html><body>loading…</body></html>`,
			rowsScrolled: 5,
			htmlScrolled: `<html><body>
<a href="/courses/101/files/1/download">a.pdf</a>
<a href="/courses/101/files/2/download">b.pdf</a>
<a href="/courses/101/files/3/download">c.pdf</a>
<a href="/courses/101/files/4/download">d.pdf</a>
<a href="/courses/101/files/5/download">e.pdf</a>
</body></html>`,
		},
	}}

	docs, err := testEngine().crawlFilesBFS(context.Background(), r, "101")
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if len(docs) != 5 {
		t.Fatalf("expected 5 documents after forced lazy load, got %d: %v", len(docs), docs)
	}
}

func TestCrawlFilesBFSRespectsDepthBound(t *testing.T) {
	// Chain of folders deeper than the bound; nodes at the bound are
	// still visited, their children are not enqueued.
	pages := map[string]*fakePage{
		testBase + "/courses/101/files": {
			rows: 1,
			html: `<a href="/courses/101/files/folder/d1">d1</a>`,
		},
		testBase + "/courses/101/files/folder/d1": {
			rows: 1,
			html: `<a href="/courses/101/files/folder/d1/d2">d2</a>`,
		},
		testBase + "/courses/101/files/folder/d1/d2": {
			rows: 1,
			html: `<a href="/courses/101/files/folder/d1/d2/d3">d3</a>`,
		},
	}
	r := &fakeRenderer{pages: pages}

	engine := testEngine()
	engine.cfg.Crawl.MaxFilesDepth = 2
	if _, err := engine.crawlFilesBFS(context.Background(), r, "101"); err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if len(r.visits) != 3 {
		t.Fatalf("expected root plus two folder levels (3 visits), got %v", r.visits)
	}
}

func TestCrawlFilesBFSSessionExpiryAborts(t *testing.T) {
	listing := testBase + "/courses/101/files"
	r := &loginRedirectRenderer{fakeRenderer: &fakeRenderer{pages: map[string]*fakePage{
		listing: {rows: 1, html: `<html></html>`},
	}}}

	_, err := testEngine().crawlFilesBFS(context.Background(), r, "101")
	if !errors.Is(err, session.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

type loginRedirectRenderer struct {
	*fakeRenderer
}

func (l *loginRedirectRenderer) Location(ctx context.Context) (string, error) {
	return testBase + "/login/saml", nil
}
