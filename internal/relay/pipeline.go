// Package relay moves resolved download targets from the source site into
// object storage through a bounded worker pool.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"canvasrelay/internal/session"
	"canvasrelay/internal/storage"
	"canvasrelay/pkg/types"
)

// Options configures the pipeline.
type Options struct {
	Workers       int
	Root          string
	TermLabel     string
	TargetTimeout time.Duration
}

// Pipeline streams each target from the source site into a negotiated
// signed upload URL, with idempotent skip for objects storage already has.
type Pipeline struct {
	factory  *session.Factory
	gateway  *storage.Gateway
	manifest *storage.Manifest
	opts     Options
	logger   *slog.Logger
}

// NewPipeline wires the pipeline to its collaborators. The manifest may
// be nil.
func NewPipeline(factory *session.Factory, gateway *storage.Gateway, manifest *storage.Manifest, opts Options, logger *slog.Logger) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 6
	}
	if opts.TargetTimeout <= 0 {
		opts.TargetTimeout = 5 * time.Minute
	}
	return &Pipeline{
		factory:  factory,
		gateway:  gateway,
		manifest: manifest,
		opts:     opts,
		logger:   logger,
	}
}

// Relay processes a deduplicated set of download targets for one course.
// Every target yields exactly one outcome; failures are isolated and
// never cancel sibling transfers. Outcomes are reported in completion
// order.
func (p *Pipeline) Relay(ctx context.Context, targets map[string]struct{}, cookies types.Cookies, courseFolder string) []types.Outcome {
	if len(targets) == 0 {
		return nil
	}

	sorted := make([]string, 0, len(targets))
	for t := range targets {
		sorted = append(sorted, t)
	}
	sort.Strings(sorted)

	pool, err := NewWorkerPool(ctx, p.opts.Workers, len(sorted), func() *Clients {
		return &Clients{
			Canvas:  p.factory.NewClient(session.Canvas),
			Storage: p.factory.NewClient(session.Storage),
		}
	})
	if err != nil {
		p.logger.Error("relay pool init failed", "error", err)
		return nil
	}

	var mu sync.Mutex
	outcomes := make([]types.Outcome, 0, len(sorted))
	for _, target := range sorted {
		submitErr := pool.Submit(ctx, func(taskCtx context.Context, clients *Clients) {
			outcome := p.relayOne(taskCtx, clients, target, cookies, courseFolder)
			p.logger.Info(outcome.String())
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
		})
		if submitErr != nil {
			mu.Lock()
			outcomes = append(outcomes, types.Outcome{
				Kind:   types.OutcomeFailed,
				Target: target,
				Err:    submitErr,
			})
			mu.Unlock()
		}
	}
	pool.Drain()
	return outcomes
}

func (p *Pipeline) relayOne(ctx context.Context, clients *Clients, target string, cookies types.Cookies, courseFolder string) types.Outcome {
	targetCtx, cancel := context.WithTimeout(ctx, p.opts.TargetTimeout)
	defer cancel()

	fail := func(err error) types.Outcome {
		return types.Outcome{Kind: types.OutcomeFailed, Target: target, Err: err}
	}

	req, err := http.NewRequestWithContext(targetCtx, http.MethodGet, target, nil)
	if err != nil {
		return fail(fmt.Errorf("build request: %w", err))
	}
	if ua := p.factory.UserAgent(); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if h := cookies.Header(); h != "" {
		req.Header.Set("Cookie", h)
	}

	resp, err := clients.Canvas.Do(req)
	if err != nil {
		return fail(fmt.Errorf("download: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fail(fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	effectiveURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		effectiveURL = resp.Request.URL.String()
	}
	if session.IsLoginPage(effectiveURL, "") {
		return fail(session.ErrSessionExpired)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	filename := SafeName(FilenameFromHeaders(effectiveURL, resp.Header.Get("Content-Disposition")))
	objectPath := joinPath(p.opts.Root, p.opts.TermLabel, courseFolder, filename)

	if p.manifest != nil {
		exists, manErr := p.manifest.Exists(targetCtx, objectPath)
		if manErr != nil {
			p.logger.Warn("manifest lookup failed", "path", objectPath, "error", manErr)
		} else if exists {
			return types.Outcome{Kind: types.OutcomeAlreadyExists, Target: target, Filename: filename}
		}
	}

	signedURL, err := p.gateway.NegotiateUpload(targetCtx, clients.Storage, objectPath, contentType)
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return types.Outcome{Kind: types.OutcomeAlreadyExists, Target: target, Filename: filename}
		}
		return fail(fmt.Errorf("negotiate upload for %s: %w", filename, err))
	}

	counter := &countingReader{r: resp.Body}
	if err := p.gateway.Upload(targetCtx, clients.Storage, signedURL, counter, contentType); err != nil {
		return fail(fmt.Errorf("upload %s: %w", filename, err))
	}

	size := counter.n
	if size == 0 && resp.ContentLength > 0 {
		size = resp.ContentLength
	}
	if p.manifest != nil {
		if recErr := p.manifest.Record(targetCtx, objectPath, filename, contentType, size); recErr != nil {
			p.logger.Warn("manifest record failed", "path", objectPath, "error", recErr)
		}
	}

	return types.Outcome{
		Kind:        types.OutcomeUploaded,
		Target:      target,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   size,
	}
}

func joinPath(segments ...string) string {
	kept := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(strings.TrimSpace(s), "/")
		if s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "/")
}

// countingReader tracks how many bytes were relayed without buffering.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
