package execution

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ahsann455/recap-render-ai/internal/store"
)

// LocalQueue runs pipeline jobs on in-process workers. It backs the memory
// store, which has no transaction River could join. Jobs are handed over only
// after the submitting unit commits and are lost on shutdown.
type LocalQueue struct {
	log *slog.Logger

	mu      sync.Mutex
	pending []uuid.UUID
	signal  chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewLocalQueue(log *slog.Logger) *LocalQueue {
	if log == nil {
		log = slog.Default()
	}
	return &LocalQueue{log: log, signal: make(chan struct{}, 1)}
}

func (q *LocalQueue) EnqueueTx(_ context.Context, tx store.Tx, jobID uuid.UUID) error {
	tx.AfterCommit(func() { q.push(jobID) })
	return nil
}

func (q *LocalQueue) push(id uuid.UUID) {
	q.mu.Lock()
	q.pending = append(q.pending, id)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *LocalQueue) pop() (uuid.UUID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return uuid.Nil, false
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	if len(q.pending) > 0 {
		select {
		case q.signal <- struct{}{}:
		default:
		}
	}
	return id, true
}

// Start launches workers that call r.Run for each job. Stop ends them.
func (q *LocalQueue) Start(ctx context.Context, r Runner, workers int) {
	if workers <= 0 {
		workers = 1
	}
	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.work(ctx, r)
		}()
	}
}

func (q *LocalQueue) work(ctx context.Context, r Runner) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.signal:
		}
		for {
			id, ok := q.pop()
			if !ok {
				break
			}
			runCtx, cancel := context.WithTimeout(ctx, PipelineTimeout)
			if err := r.Run(runCtx, id); err != nil {
				q.log.Error("generation job run failed", "job_id", id, "error", err)
			}
			cancel()
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// Stop cancels running jobs and waits for the workers to exit.
func (q *LocalQueue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Pending reports how many jobs are waiting for a worker.
func (q *LocalQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
