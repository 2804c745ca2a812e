package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// PoolConfig sizes a Pool.
type PoolConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// Pool is a bounded in-process job runner.
//
// LIFECYCLE:
//
//	p := NewPool(cfg, logger)
//	p.Handle("question:process", handler)
//	p.Start()
//	...
//	p.Stop(ctx) // stops intake, drains queued jobs, waits for workers
type Pool struct {
	config   PoolConfig
	logger   *slog.Logger
	jobs     chan Job
	handlers map[string]Handler

	// base parents every job context; Stop cancels it once ctx expires.
	base   context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	stopped bool

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

var _ Queue = (*Pool)(nil)

func NewPool(cfg PoolConfig, logger *slog.Logger) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	base, cancel := context.WithCancel(context.Background())
	return &Pool{
		config:   cfg,
		logger:   logger,
		jobs:     make(chan Job, cfg.QueueSize),
		handlers: make(map[string]Handler),
		base:     base,
		cancel:   cancel,
	}
}

// Handle registers h for jobs of the given kind. Call before Start.
func (p *Pool) Handle(kind string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = h
}

// Start launches the workers. Calling it more than once has no effect.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting worker pool",
			slog.Int("workers", p.config.Workers),
			slog.Int("queueSize", p.config.QueueSize),
		)
		for i := 0; i < p.config.Workers; i++ {
			p.wg.Add(1)
			go p.work(i)
		}
	})
}

// Enqueue hands job to the pool without blocking.
func (p *Pool) Enqueue(_ context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrStopped
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len reports the number of queued jobs not yet picked up by a worker.
func (p *Pool) Len() int {
	return len(p.jobs)
}

// Stop rejects new jobs, lets the workers drain what is queued and waits
// for them until ctx expires. After that the running jobs' contexts are
// cancelled, queued jobs are discarded and Stop still waits for every
// worker to return before reporting ctx's error.
func (p *Pool) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.jobs)
		p.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		p.logger.Warn("worker pool stopped before draining")
		return fmt.Errorf("worker: waiting for pool to drain: %w", ctx.Err())
	}
}

func (p *Pool) work(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		p.run(id, job)
	}
}

// run executes one job with its own deadline. A panicking handler is logged
// and the worker keeps going.
func (p *Pool) run(worker int, job Job) {
	p.mu.RLock()
	h, ok := p.handlers[job.Kind]
	p.mu.RUnlock()

	if !ok {
		p.logger.Error("no handler for job", slog.String("kind", job.Kind))
		return
	}

	if p.base.Err() != nil {
		p.logger.Warn("job discarded at shutdown",
			slog.String("kind", job.Kind),
			slog.String("key", job.Key),
		)
		return
	}

	ctx, cancel := context.WithTimeout(p.base, p.config.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked",
				slog.String("kind", job.Kind),
				slog.String("key", job.Key),
				slog.Any("panic", r),
			)
		}
	}()

	start := time.Now()
	if err := h(ctx, job.Payload); err != nil {
		p.logger.Error("job failed",
			slog.Int("worker", worker),
			slog.String("kind", job.Kind),
			slog.String("key", job.Key),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return
	}

	p.logger.Debug("job done",
		slog.Int("worker", worker),
		slog.String("kind", job.Kind),
		slog.String("key", job.Key),
		slog.Duration("duration", time.Since(start)),
	)
}
