// Command login-once opens a visible browser window, lets the operator
// complete the interactive login flow, and saves the resulting session
// cookies for later headless runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"canvasrelay/internal/session"
)

func main() {
	baseURL := flag.String("base", os.Getenv("CANVAS_BASE_URL"), "Base URL of the course site")
	statePath := flag.String("state", "", "Where to save session state (default: user state dir)")
	flag.Parse()

	base := strings.TrimSuffix(strings.TrimSpace(*baseURL), "/")
	if base == "" {
		fmt.Fprintln(os.Stderr, "base URL required: pass -base or set CANVAS_BASE_URL")
		os.Exit(1)
	}

	path := *statePath
	if path == "" {
		path = session.DefaultJarPath()
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	jar := session.NewJar(path)
	snapshot, err := session.RecoverInteractive(ctx, base+"/", jar, os.Stdin, os.Stderr, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "saved %d cookies to %s\n", len(snapshot.Cookies), jar.Path())
}
