// Package pool implements the Worker Pool (spec §4.F): a fixed roster of
// workers, bounded total concurrency, and a completion stream, in the
// shape of the teacher's WaveExecutor (bounded-concurrency goroutines
// fanning results into a channel) generalised from one-shot waves to a
// persistent roster.
package pool

import (
	"context"
	"errors"
	"sync"

	"ralph/internal/config"
	"ralph/internal/git"
	"ralph/internal/models"
	"ralph/internal/worker"
)

// ErrRosterEmpty is returned by Init when every configured worker failed to
// initialise (spec §4.F: "the pool refuses to run if the final roster is
// empty").
var ErrRosterEmpty = errors.New("worker pool roster is empty")

// Pool holds a fixed roster of workers and enforces the total-concurrency
// ceiling.
type Pool struct {
	mu              sync.Mutex
	workers         []*worker.Worker
	maxTotalWorkers int
	activeCount     int

	results chan models.WorkerResult
	wg      sync.WaitGroup

	gitManager *git.Manager
	deps       worker.Deps
	cfg        config.FactoryConfig
}

// New builds an empty Pool; call Init to populate the roster.
func New(gitManager *git.Manager, deps worker.Deps, cfg config.FactoryConfig) *Pool {
	return &Pool{
		gitManager: gitManager,
		deps:       deps,
		cfg:        cfg,
		maxTotalWorkers: cfg.MaxTotalWorkers,
		results:         make(chan models.WorkerResult, cfg.MaxTotalWorkers*2+1),
	}
}

// Init ensures each worker's worktree and branch exist, creating workerIDs
// entries. Workers that fail to initialise are dropped; Init fails with
// ErrRosterEmpty if none remain (spec §4.F).
func (p *Pool) Init(ctx context.Context, workerIDs []string) error {
	for _, id := range workerIDs {
		wt, err := p.gitManager.Ensure(ctx, id)
		if err != nil {
			continue
		}
		p.workers = append(p.workers, worker.New(id, wt))
	}
	if len(p.workers) == 0 {
		return ErrRosterEmpty
	}
	return nil
}

// GetIdleWorker returns any worker currently idle, or nil.
func (p *Pool) GetIdleWorker() *worker.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range p.workers {
		if w.Status() == worker.StatusIdle {
			return w
		}
	}
	return nil
}

// GetActiveCount returns the number of non-idle workers.
func (p *Pool) GetActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeCount
}

// AssignTask spawns w.Execute(task, slot, ...) concurrently, refusing if
// the total-concurrency ceiling is already met. Non-blocking; the result
// surfaces via AwaitAnyCompletion.
func (p *Pool) AssignTask(ctx context.Context, w *worker.Worker, task models.FactoryTask, slot models.ProviderSlot) bool {
	p.mu.Lock()
	if p.activeCount >= p.maxTotalWorkers {
		p.mu.Unlock()
		return false
	}
	p.activeCount++
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			p.activeCount--
			p.mu.Unlock()
		}()

		result := w.Execute(ctx, task, slot, p.cfg, p.deps)
		select {
		case p.results <- result:
		case <-ctx.Done():
		}
	}()
	return true
}

// HasActiveWorkers reports whether any assigned execution is still in
// flight.
func (p *Pool) HasActiveWorkers() bool {
	return p.GetActiveCount() > 0
}

// AwaitAnyCompletion blocks until at least one assigned worker finishes,
// returning its result. At-least-one, exactly-one per call is the
// documented contract (spec §4.F).
func (p *Pool) AwaitAnyCompletion(ctx context.Context) (models.WorkerResult, bool) {
	select {
	case r, ok := <-p.results:
		return r, ok
	case <-ctx.Done():
		return models.WorkerResult{}, false
	}
}

// Shutdown waits for in-flight executions to finish and, if cleanup is
// requested, removes every worker's worktree.
func (p *Pool) Shutdown(ctx context.Context, cleanupWorktrees bool) {
	p.wg.Wait()
	close(p.results)

	if !cleanupWorktrees {
		return
	}
	for _, w := range p.workers {
		_ = p.gitManager.Remove(ctx, w.Worktree)
	}
}

// Workers returns the roster, for summary/metrics reporting.
func (p *Pool) Workers() []*worker.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*worker.Worker, len(p.workers))
	copy(out, p.workers)
	return out
}
