package delivery

import (
	"context"
	"log/slog"
	"sync"

	"github.com/xraph/herald/event"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/webhook"
)

// Job is one delivery handed to the pool together with what it needs.
type Job struct {
	Delivery *Delivery
	Webhook  *webhook.Config
	Event    *event.Event
}

// Pool runs first attempts off the caller's goroutine. Jobs that do not
// fit in the queue are left to the retry scheduler.
type Pool struct {
	dispatcher *Dispatcher
	jobs       chan Job
	workers    int
	metrics    *observability.Metrics
	logger     *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewPool creates a pool with the given worker count and queue capacity.
func NewPool(dispatcher *Dispatcher, workers, queueSize int, metrics *observability.Metrics, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		dispatcher: dispatcher,
		jobs:       make(chan Job, queueSize),
		workers:    workers,
		metrics:    metrics,
		logger:     logger,
		quit:       make(chan struct{}),
	}
}

// Start launches the workers. Attempts run on a context detached from
// ctx's cancellation so Stop lets them finish.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	runCtx := context.WithoutCancel(ctx)
	for range p.workers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.work(runCtx)
		}()
	}
}

// Submit enqueues a job without blocking. It reports false when the queue
// is full or the pool is stopped.
func (p *Pool) Submit(j Job) bool {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return false
	}

	select {
	case p.jobs <- j:
		p.metrics.SetQueueDepth(len(p.jobs))
		return true
	default:
		return false
	}
}

// Stop signals the workers and waits for in-flight attempts until ctx ends.
// Queued jobs are abandoned; their rows stay pending for the scheduler.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.quit)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) work(ctx context.Context) {
	for {
		select {
		case <-p.quit:
			return
		case j := <-p.jobs:
			p.metrics.SetQueueDepth(len(p.jobs))
			p.dispatcher.Attempt(ctx, j.Delivery, j.Webhook, j.Event)
		}
	}
}
