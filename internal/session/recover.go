package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"canvasrelay/internal/render"
)

// RecoverInteractive drives the human-in-the-loop re-authentication flow:
// it opens a visible browser window on the site, blocks until the operator
// confirms SSO completed, then captures and persists the session cookies.
//
// This is a startup-only, single-threaded escape hatch. It must never be
// invoked from worker goroutines.
func RecoverInteractive(ctx context.Context, baseURL string, jar *Jar, prompt io.Reader, out io.Writer, logger *slog.Logger) (Snapshot, error) {
	browser, err := render.NewBrowser(render.Options{
		Headless:   false,
		NavTimeout: 2 * time.Minute,
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("open login window: %w", err)
	}
	defer browser.Close()

	if err := browser.Navigate(ctx, baseURL); err != nil {
		return Snapshot{}, err
	}

	fmt.Fprintln(out, "Session expired. Complete SSO/DUO in the opened window, then press Enter here…")
	if _, err := bufio.NewReader(prompt).ReadString('\n'); err != nil && err != io.EOF {
		return Snapshot{}, fmt.Errorf("wait for operator: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	cookies, err := browser.ExportCookies(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{SavedAt: time.Now(), Cookies: cookies}
	if err := jar.Save(snap); err != nil {
		return Snapshot{}, err
	}
	logger.Info("session state saved", "path", jar.Path(), "cookies", len(cookies))
	return snap, nil
}
