// Package session owns authenticated HTTP access to the source site and
// the storage gateway: per-worker client pooling, the transparent retry
// policy, login detection, and the persisted cookie jar.
package session

import (
	"net"
	"net/http"
	"time"
)

// Kind selects which remote a client is tuned for.
type Kind int

const (
	Canvas Kind = iota
	Storage
)

// Options configures the client factory.
type Options struct {
	UserAgent       string
	PoolConnections int
	RetryAttempts   int
	RetryBackoff    time.Duration
}

// Factory builds HTTP clients for workers. Each worker owns the clients
// it creates; handles are never shared for concurrent writes across
// workers.
type Factory struct {
	opts Options
}

// NewFactory applies defaults matching the expected worker concurrency.
func NewFactory(opts Options) *Factory {
	if opts.PoolConnections <= 0 {
		opts.PoolConnections = 64
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 5
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	return &Factory{opts: opts}
}

// NewClient returns a fresh client for one worker. Request deadlines are
// supplied per call through contexts, so the client itself carries none:
// a streamed multi-minute file transfer and a short API call share the
// same handle configuration.
func (f *Factory) NewClient(kind Kind) *http.Client {
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          f.opts.PoolConnections,
		MaxIdleConnsPerHost:   f.opts.PoolConnections,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: &retryTransport{
			next:     transport,
			attempts: f.opts.RetryAttempts,
			backoff:  f.opts.RetryBackoff,
		},
	}
}

// UserAgent exposes the configured agent string for request building.
func (f *Factory) UserAgent() string {
	return f.opts.UserAgent
}
