// Package crawl orchestrates the authenticated crawl of a course site and
// the relay of every discovered document into object storage.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"canvasrelay/internal/canonical"
	"canvasrelay/internal/config"
	"canvasrelay/internal/extract"
	"canvasrelay/internal/relay"
	"canvasrelay/internal/render"
	"canvasrelay/internal/session"
	"canvasrelay/internal/storage"
	"canvasrelay/internal/version"
	"canvasrelay/pkg/types"
)

// Engine ties the crawl phases, the version resolver, and the relay
// pipeline together for a full run. One Engine serves one run.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger
	runID  string

	factory  *session.Factory
	jar      *session.Jar
	gateway  *storage.Gateway
	manifest *storage.Manifest
	resolver *version.Resolver
	pipeline *relay.Pipeline
	limiter  *Limiter

	base     string
	baseHost string

	termPatterns []*regexp.Regexp

	// prompt is where interactive login recovery reads "press Enter"
	// from; overridable in tests.
	prompt io.Reader

	closers   []func() error
	closeOnce sync.Once
}

// NewEngine builds a run engine from configuration. Missing storage
// credentials fail here, before any browser or network activity.
func NewEngine(cfg config.Config) (*Engine, error) {
	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	baseURL, err := url.Parse(cfg.Canvas.BaseURL)
	if err != nil || baseURL.Hostname() == "" {
		return nil, fmt.Errorf("parse base URL %q: %w", cfg.Canvas.BaseURL, err)
	}

	gateway, err := storage.NewGateway(cfg.Storage.NegotiateURL(), cfg.Storage.AnonKey)
	if err != nil {
		return nil, err
	}

	var closers []func() error
	manifest, err := storage.NewManifest(cfg.Manifest)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if manifest != nil {
		closers = append(closers, manifest.Close)
	}

	patterns := make([]*regexp.Regexp, 0, len(cfg.Crawl.TermPatterns))
	for _, raw := range cfg.Crawl.TermPatterns {
		pattern, err := regexp.Compile("(?i)" + raw)
		if err != nil {
			return nil, fmt.Errorf("compile term pattern %q: %w", raw, err)
		}
		patterns = append(patterns, pattern)
	}

	factory := session.NewFactory(session.Options{
		UserAgent:       cfg.Canvas.UserAgent,
		PoolConnections: cfg.Workers.PoolConnections,
		RetryAttempts:   cfg.Workers.RetryAttempts,
		RetryBackoff:    cfg.Workers.RetryBackoff.Duration,
	})

	var rateCfg RateLimiterSettings
	if cfg.Canvas.RateLimit.Enabled() {
		rateCfg = RateLimiterSettings{
			Requests: cfg.Canvas.RateLimit.Requests,
			Window:   cfg.Canvas.RateLimit.Window.Duration,
		}
	}

	statePath := cfg.Session.StatePath
	if statePath == "" {
		statePath = session.DefaultJarPath()
	}

	engine := &Engine{
		cfg:          cfg,
		logger:       logger,
		runID:        uuid.NewString(),
		factory:      factory,
		jar:          session.NewJar(statePath),
		gateway:      gateway,
		manifest:     manifest,
		limiter:      NewLimiter(cfg.Canvas.PerHostDelay.Duration, rateCfg),
		base:         cfg.Canvas.BaseURL,
		baseHost:     baseURL.Hostname(),
		termPatterns: patterns,
		prompt:       os.Stdin,
		closers:      closers,
	}
	engine.logger = logger.With("run_id", engine.runID)
	engine.resolver = version.NewResolver(engine.base, factory, cfg.Workers.VersionResolvers, engine.logger)
	engine.pipeline = relay.NewPipeline(factory, gateway, manifest, relay.Options{
		Workers:       cfg.Workers.RelayUploaders,
		Root:          cfg.Storage.Root,
		TermLabel:     cfg.Storage.TermLabel,
		TargetTimeout: cfg.Storage.UploadTimeout.Duration,
	}, engine.logger)
	return engine, nil
}

// Run executes the full crawl-and-relay cycle: restore the session, verify
// it (recovering interactively if allowed), discover courses, and crawl
// each one in turn. Session expiry mid-run aborts; a fresh login belongs
// at startup, not in the middle of a traversal.
func (e *Engine) Run(ctx context.Context) error {
	snapshot, err := e.jar.Load()
	if err != nil {
		return fmt.Errorf("load session state: %w", err)
	}

	browser, err := render.NewBrowser(render.Options{
		Headless:   e.cfg.Rendering.Headless,
		UserAgent:  e.cfg.Canvas.UserAgent,
		NavTimeout: e.cfg.Rendering.NavTimeout.Duration,
		OpTimeout:  e.cfg.Rendering.OpTimeout.Duration,
	})
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer browser.Close()

	if len(snapshot.Cookies) > 0 {
		if err := browser.ImportCookies(ctx, snapshot.Cookies); err != nil {
			return fmt.Errorf("import session cookies: %w", err)
		}
	}
	if err := e.ensureLoggedIn(ctx, browser); err != nil {
		return err
	}

	courses, err := e.discoverCourses(ctx, browser)
	if err != nil {
		return fmt.Errorf("discover courses: %w", err)
	}
	e.logger.Info("courses discovered", "count", len(courses))

	for _, course := range courses {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.crawlCourse(ctx, browser, course); err != nil {
			return fmt.Errorf("course %s (%s): %w", course.ID, course.Title, err)
		}
	}
	return nil
}

// ensureLoggedIn checks whether the restored session still works and, when
// interactive recovery is enabled, walks the operator through a fresh
// login exactly once. A session that is still dead afterwards is fatal.
func (e *Engine) ensureLoggedIn(ctx context.Context, browser *render.Browser) error {
	ok, err := e.sessionAlive(ctx, browser)
	if err != nil {
		return err
	}
	if ok {
		e.logger.Info("session restored", "state_path", e.jar.Path())
		return nil
	}
	if !e.cfg.Session.Interactive {
		return session.ErrSessionExpired
	}

	e.logger.Info("session expired, starting interactive login")
	snapshot, err := session.RecoverInteractive(ctx, e.base+"/", e.jar, e.prompt, os.Stderr, e.logger)
	if err != nil {
		return fmt.Errorf("interactive login: %w", err)
	}
	if err := browser.ImportCookies(ctx, snapshot.Cookies); err != nil {
		return fmt.Errorf("import recovered cookies: %w", err)
	}
	ok, err = e.sessionAlive(ctx, browser)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("login recovery did not produce a working session: %w", session.ErrSessionExpired)
	}
	e.logger.Info("session recovered", "state_path", e.jar.Path())
	return nil
}

func (e *Engine) sessionAlive(ctx context.Context, browser *render.Browser) (bool, error) {
	if err := browser.Navigate(ctx, e.base+"/"); err != nil {
		return false, fmt.Errorf("probe base URL: %w", err)
	}
	loc, err := browser.Location(ctx)
	if err != nil {
		return false, err
	}
	markup, err := browser.HTML(ctx)
	if err != nil {
		return false, err
	}
	return !session.IsLoginPage(loc, markup), nil
}

// crawlCourse runs the three discovery phases for one course, resolves
// versioned file links, and relays the final target set.
func (e *Engine) crawlCourse(ctx context.Context, browser *render.Browser, course types.CourseRef) error {
	logger := e.logger.With("course_id", course.ID, "course", course.Title)
	logger.Info("crawling course")

	links := make(map[string]struct{})

	filesDocs, err := e.crawlFilesBFS(ctx, browser, course.ID)
	if err != nil {
		return err
	}
	for u := range filesDocs {
		links[u] = struct{}{}
	}

	records, err := browser.ExportCookies(ctx)
	if err != nil {
		return fmt.Errorf("export cookies: %w", err)
	}
	cookies := types.CookiesFrom(records)
	client := e.factory.NewClient(session.Canvas)

	for u := range e.crawlSupplemental(ctx, client, course.ID, cookies) {
		links[u] = struct{}{}
	}

	pagesDocs, err := e.crawlPages(ctx, browser, client, course.ID, cookies)
	if err != nil {
		return err
	}
	for u := range pagesDocs {
		links[u] = struct{}{}
	}

	targets, identities := e.partitionLinks(links)
	logger.Info("discovery complete",
		"links", len(links), "direct_targets", len(targets), "file_pages", len(identities))

	resolved, err := e.resolver.ResolveAll(ctx, identities, cookies)
	if err != nil {
		return err
	}
	for u := range resolved {
		targets[u] = struct{}{}
	}

	final := make(map[string]struct{}, len(targets))
	for u := range targets {
		final[canonical.EnsureDownload(u, e.base)] = struct{}{}
	}

	logger.Info("relaying targets", "count", len(final))
	outcomes := e.pipeline.Relay(ctx, final, cookies, relay.SafeName(course.Title))

	var uploaded, skipped, failed int
	for _, outcome := range outcomes {
		switch outcome.Kind {
		case types.OutcomeUploaded:
			uploaded++
		case types.OutcomeAlreadyExists:
			skipped++
		case types.OutcomeFailed:
			failed++
			if errors.Is(outcome.Err, session.ErrSessionExpired) {
				return session.ErrSessionExpired
			}
		}
	}
	logger.Info("course complete", "uploaded", uploaded, "already_exists", skipped, "failed", failed)
	return nil
}

// partitionLinks splits discovered document links into directly
// downloadable targets and course file pages that need version
// resolution. Links pointing off the source host are dropped.
func (e *Engine) partitionLinks(links map[string]struct{}) (map[string]struct{}, []types.FileIdentity) {
	targets := make(map[string]struct{})
	var identities []types.FileIdentity
	seenIdentity := make(map[types.FileIdentity]struct{})

	for u := range links {
		parsed, err := url.Parse(u)
		if err != nil || !strings.EqualFold(parsed.Hostname(), e.baseHost) {
			continue
		}
		if courseID, fileID, ok := canonical.FileIdentity(u); ok {
			id := types.FileIdentity{CourseID: courseID, FileID: fileID}
			if _, dup := seenIdentity[id]; !dup {
				seenIdentity[id] = struct{}{}
				identities = append(identities, id)
			}
			continue
		}
		if extract.IsDocumentTarget(u) {
			targets[u] = struct{}{}
		}
	}
	return targets, identities
}

// Close releases engine resources. Safe to call more than once.
func (e *Engine) Close() error {
	var errs []error
	e.closeOnce.Do(func() {
		for _, closer := range e.closers {
			if err := closer(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func buildLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Structured {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler), nil
}
