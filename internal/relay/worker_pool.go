package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

// Clients are the HTTP handles owned by a single relay worker. They are
// created once per worker and never shared across workers.
type Clients struct {
	Canvas  *http.Client
	Storage *http.Client
}

type task func(ctx context.Context, clients *Clients)

// WorkerPool coordinates relay workers with a bounded queue. Each worker
// owns its clients for its whole lifetime, so no handle is ever written
// to concurrently.
type WorkerPool struct {
	ctx    context.Context
	cancel context.CancelFunc
	tasks  chan task
	wg     sync.WaitGroup
}

// NewWorkerPool starts concurrency workers, each initialised with its own
// clients from newClients.
func NewWorkerPool(parent context.Context, concurrency, queueSize int, newClients func() *Clients) (*WorkerPool, error) {
	if concurrency <= 0 || queueSize <= 0 {
		return nil, errors.New("worker pool requires positive concurrency and queue size")
	}
	ctx, cancel := context.WithCancel(parent)
	pool := &WorkerPool{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(chan task, queueSize),
	}
	for i := 0; i < concurrency; i++ {
		pool.wg.Add(1)
		go func() {
			defer pool.wg.Done()
			clients := newClients()
			for {
				select {
				case <-pool.ctx.Done():
					return
				case t, ok := <-pool.tasks:
					if !ok {
						return
					}
					t(pool.ctx, clients)
				}
			}
		}()
	}
	return pool, nil
}

// Submit schedules a task, rejecting if the context cancels.
func (p *WorkerPool) Submit(ctx context.Context, fn task) error {
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	case p.tasks <- fn:
		return nil
	}
}

// Drain stops accepting tasks and waits for queued work to finish.
func (p *WorkerPool) Drain() {
	close(p.tasks)
	p.wg.Wait()
	p.cancel()
}

// Close aborts the pool without waiting for queued tasks.
func (p *WorkerPool) Close() {
	p.cancel()
	p.wg.Wait()
}
