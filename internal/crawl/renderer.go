package crawl

import (
	"context"
	"time"

	"canvasrelay/pkg/types"
)

// PageRenderer is the browser surface the crawl loop drives. Exactly one
// goroutine uses it; implementations need not be concurrency safe.
// render.Browser satisfies it.
type PageRenderer interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	RowCount(ctx context.Context, selector string) (int, error)
	WaitForRows(ctx context.Context, selector string, timeout time.Duration) error
	ScrollBy(ctx context.Context, dy int) error
	AnchorHrefs(ctx context.Context, selector string) ([]string, error)
	ImportCookies(ctx context.Context, cookies []types.SessionCookie) error
	ExportCookies(ctx context.Context) ([]types.SessionCookie, error)
	Close() error
}
