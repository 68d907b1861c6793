// Package parallel adapts alitto/pond worker pools into the core.Executor
// contract: parallel_for over equal static chunks, parallel_for_chunked with
// pool-chosen grouping, and a deterministic single-thread fallback.
package parallel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond"

	"market_validator/internal/core"
	apperrors "market_validator/pkg/errors"
)

// firstError collects the first non-nil error reported by any of a batch of
// concurrent tasks, discarding the rest.
type firstError struct {
	mu  sync.Mutex
	err error
}

func (f *firstError) set(err error) {
	if err == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}

func (f *firstError) get() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// PoolConfig configures a worker-pool Executor.
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
}

// Pool is a core.Executor backed by a pond worker pool. Grounded on the
// teacher's pkg/concurrency WorkerPool: same defaulting, same panic handler
// pattern, generalized here to join-and-propagate-error semantics instead of
// fire-and-forget submission.
type Pool struct {
	pool   *pond.WorkerPool
	config PoolConfig
	logger core.ILogger
}

// NewPool creates a new worker-pool executor.
func NewPool(cfg PoolConfig, logger core.ILogger) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 100
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	lg := logger.WithField("component", "permutation_pool").WithField("pool", cfg.Name)

	pool := pond.New(
		cfg.MaxWorkers,
		cfg.MaxCapacity,
		pond.MinWorkers(1),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(func(p interface{}) {
			lg.Error("worker pool panic recovered", "pool", cfg.Name, "panic", p)
		}),
	)

	return &Pool{pool: pool, config: cfg, logger: lg}
}

// ParallelFor runs body(i) for i in [0, n) across the pool in equal static
// chunks per worker, joining on all of them. The first error from any body
// invocation aborts the join and is returned; per spec §5, partial results
// must not be relied upon by the caller in that case.
func (p *Pool) ParallelFor(ctx context.Context, n int, body func(ctx context.Context, i int) error) error {
	workers := p.config.MaxWorkers
	if n <= workers {
		return p.run(ctx, n, body)
	}
	chunk := (n + workers - 1) / workers
	return p.run(ctx, (n+chunk-1)/chunk, func(ctx context.Context, c int) error {
		for i := c * chunk; i < n && i < (c+1)*chunk; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := body(ctx, i); err != nil {
				return err
			}
		}
		return nil
	})
}

// ParallelForChunked submits one pool task per index and leaves grouping to
// the pool; pond's balanced strategy load-balances the per-task submissions.
func (p *Pool) ParallelForChunked(ctx context.Context, n int, body func(ctx context.Context, i int) error) error {
	return p.run(ctx, n, body)
}

func (p *Pool) run(ctx context.Context, n int, body func(ctx context.Context, i int) error) error {
	if n <= 0 {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var errs firstError

	wg.Add(n)
	for idx := 0; idx < n; idx++ {
		i := idx
		p.pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("worker panic recovered mid-task", "index", i, "panic", r)
					errs.set(fmt.Errorf("%w: %v", apperrors.ErrExecutorWorkerPanic, r))
					cancel()
				}
			}()
			select {
			case <-runCtx.Done():
				errs.set(fmt.Errorf("%w: %v", apperrors.ErrExecutorCancelled, runCtx.Err()))
				return
			default:
			}
			if err := body(runCtx, i); err != nil {
				errs.set(err)
				cancel()
			}
		})
	}
	wg.Wait()

	if err := errs.get(); err != nil {
		return fmt.Errorf("parallel executor: %w", err)
	}
	return nil
}

// Stop stops the pool, waiting for in-flight work to complete.
func (p *Pool) Stop() { p.pool.StopAndWait() }

// Stats returns pool statistics for diagnostics/telemetry.
func (p *Pool) Stats() map[string]interface{} {
	return map[string]interface{}{
		"running_workers":  p.pool.RunningWorkers(),
		"idle_workers":     p.pool.IdleWorkers(),
		"submitted_tasks":  p.pool.SubmittedTasks(),
		"waiting_tasks":    p.pool.WaitingTasks(),
		"successful_tasks": p.pool.SuccessfulTasks(),
		"failed_tasks":     p.pool.FailedTasks(),
	}
}

// SingleThreadExecutor runs every body invocation sequentially on the
// calling goroutine, in ascending index order. It must produce bit-identical
// outputs to Pool except for observer notification ordering (spec §5).
type SingleThreadExecutor struct {
	mu sync.Mutex
}

// NewSingleThreadExecutor returns a deterministic, non-parallel Executor.
func NewSingleThreadExecutor() *SingleThreadExecutor {
	return &SingleThreadExecutor{}
}

// ParallelFor implements core.Executor.
func (s *SingleThreadExecutor) ParallelFor(ctx context.Context, n int, body func(ctx context.Context, i int) error) error {
	return s.run(ctx, n, body)
}

// ParallelForChunked implements core.Executor.
func (s *SingleThreadExecutor) ParallelForChunked(ctx context.Context, n int, body func(ctx context.Context, i int) error) error {
	return s.run(ctx, n, body)
}

func (s *SingleThreadExecutor) run(ctx context.Context, n int, body func(ctx context.Context, i int) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := body(ctx, i); err != nil {
			return err
		}
	}
	return nil
}

var _ core.Executor = (*Pool)(nil)
var _ core.Executor = (*SingleThreadExecutor)(nil)
