// Package workerpool runs task work items on a fixed set of workers behind a
// bounded queue. Items can be cancelled before or during execution, and
// per-item timeouts compose with the pool's own lifetime context.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Outcome classifies how a work item finished.
type Outcome string

const (
	OutcomeSuccess   Outcome = "SUCCESS"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeCancelled Outcome = "CANCELLED"
)

// WorkItem is one unit of task work.
type WorkItem struct {
	ID          string
	ExecutionID string
	TaskID      string
	TaskType    string
	Payload     map[string]any

	// TimeoutMs bounds the item's execution. Zero means no per-item
	// deadline.
	TimeoutMs int64
}

// WorkResult is the terminal outcome of a work item.
type WorkResult struct {
	ID       string
	Outcome  Outcome
	Output   map[string]any
	Err      error
	Duration time.Duration
}

// Executor runs the actual task work. Implementations must honor context
// cancellation.
type Executor interface {
	Execute(ctx context.Context, item *WorkItem) (map[string]any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, item *WorkItem) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, item *WorkItem) (map[string]any, error) {
	return f(ctx, item)
}

// PoolStatus is a point-in-time snapshot of the pool.
type PoolStatus struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
	QueueCap  int `json:"queue_capacity"`
	InFlight  int `json:"in_flight"`
}

var (
	ErrDuplicateItem = errors.New("work item id already submitted")
	ErrQueueFull     = errors.New("work queue is full")
	ErrPoolStopped   = errors.New("worker pool is stopped")
)

type trackedItem struct {
	item      *WorkItem
	result    chan WorkResult
	cancelled bool
	cancel    context.CancelFunc // set while executing
}

// WorkerPool executes work items with bounded concurrency.
type WorkerPool struct {
	logger      *slog.Logger
	executor    Executor
	queue       *BoundedQueue
	concurrency int

	mu      sync.Mutex
	items   map[string]*trackedItem
	stopped bool

	baseCtx   context.Context
	baseStop  context.CancelFunc
	drainCtx  context.Context // cancelled first, so workers stop dequeuing
	drainStop context.CancelFunc
	workersWg sync.WaitGroup
}

func NewWorkerPool(logger *slog.Logger, executor Executor, concurrency, queueCapacity int) *WorkerPool {
	if concurrency < 1 {
		concurrency = 1
	}

	return &WorkerPool{
		logger:      logger.With("module", "workerpool"),
		executor:    executor,
		queue:       NewBoundedQueue(queueCapacity),
		concurrency: concurrency,
		items:       make(map[string]*trackedItem),
	}
}

// Start launches the workers. The pool stops when ctx is cancelled or a
// shutdown method is called.
func (p *WorkerPool) Start(ctx context.Context) {
	p.baseCtx, p.baseStop = context.WithCancel(ctx)
	p.drainCtx, p.drainStop = context.WithCancel(p.baseCtx)

	for i := 0; i < p.concurrency; i++ {
		p.workersWg.Add(1)

		go p.worker(i)
	}

	p.logger.Info("Worker pool started", "workers", p.concurrency, "queueCapacity", p.queue.Capacity())
}

// Submit enqueues a work item and returns a channel delivering its single
// result. Submitting an id that is already queued or in flight fails with
// ErrDuplicateItem; a full queue fails with ErrQueueFull.
func (p *WorkerPool) Submit(item *WorkItem) (<-chan WorkResult, error) {
	tracked, err := p.track(item)
	if err != nil {
		return nil, err
	}

	if !p.queue.TryEnqueue(item) {
		p.untrack(item.ID)

		return nil, ErrQueueFull
	}

	return tracked.result, nil
}

// SubmitWait enqueues a work item like Submit, but a full queue blocks until
// a worker frees a slot instead of failing. It returns early when ctx is
// done.
func (p *WorkerPool) SubmitWait(ctx context.Context, item *WorkItem) (<-chan WorkResult, error) {
	tracked, err := p.track(item)
	if err != nil {
		return nil, err
	}

	if err := p.queue.Enqueue(ctx, item); err != nil {
		p.untrack(item.ID)

		return nil, err
	}

	return tracked.result, nil
}

func (p *WorkerPool) track(item *WorkItem) (*trackedItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, ErrPoolStopped
	}

	if _, exists := p.items[item.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateItem, item.ID)
	}

	tracked := &trackedItem{
		item:   item,
		result: make(chan WorkResult, 1),
	}
	p.items[item.ID] = tracked

	return tracked, nil
}

func (p *WorkerPool) untrack(id string) {
	p.mu.Lock()
	delete(p.items, id)
	p.mu.Unlock()
}

// Cancel cancels a work item. Queued items are dropped before execution;
// executing items have their context cancelled. It reports whether the item
// was known to the pool.
func (p *WorkerPool) Cancel(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracked, ok := p.items[id]
	if !ok {
		return false
	}

	tracked.cancelled = true
	if tracked.cancel != nil {
		tracked.cancel()
	}

	return true
}

// Status reports the pool's current occupancy.
func (p *WorkerPool) Status() PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	inFlight := 0

	for _, tracked := range p.items {
		if tracked.cancel != nil {
			inFlight++
		}
	}

	return PoolStatus{
		Workers:   p.concurrency,
		QueueSize: p.queue.Size(),
		QueueCap:  p.queue.Capacity(),
		InFlight:  inFlight,
	}
}

func (p *WorkerPool) worker(id int) {
	defer p.workersWg.Done()

	for {
		item, err := p.queue.Dequeue(p.drainCtx)
		if err != nil {
			return
		}

		p.run(id, item)
	}
}

func (p *WorkerPool) run(workerID int, item *WorkItem) {
	p.mu.Lock()

	tracked, ok := p.items[item.ID]
	if !ok {
		p.mu.Unlock()

		return
	}

	if tracked.cancelled {
		delete(p.items, item.ID)
		p.mu.Unlock()

		tracked.result <- WorkResult{ID: item.ID, Outcome: OutcomeCancelled, Err: context.Canceled}

		return
	}

	// The item context composes the pool lifetime, the per-item timeout
	// and the item's own cancel handle.
	var (
		itemCtx    context.Context
		itemCancel context.CancelFunc
	)

	if item.TimeoutMs > 0 {
		itemCtx, itemCancel = context.WithTimeout(p.baseCtx, time.Duration(item.TimeoutMs)*time.Millisecond)
	} else {
		itemCtx, itemCancel = context.WithCancel(p.baseCtx)
	}

	tracked.cancel = itemCancel
	p.mu.Unlock()

	started := time.Now()
	output, execErr := p.executor.Execute(itemCtx, item)
	duration := time.Since(started)

	ctxErr := itemCtx.Err()
	itemCancel()

	p.mu.Lock()
	wasCancelled := tracked.cancelled
	delete(p.items, item.ID)
	p.mu.Unlock()

	result := WorkResult{ID: item.ID, Output: output, Err: execErr, Duration: duration}

	switch {
	case wasCancelled || errors.Is(ctxErr, context.Canceled):
		result.Outcome = OutcomeCancelled
		if result.Err == nil {
			result.Err = context.Canceled
		}
	case errors.Is(ctxErr, context.DeadlineExceeded) || errors.Is(execErr, context.DeadlineExceeded):
		result.Outcome = OutcomeFailed
		result.Err = context.DeadlineExceeded
	case execErr != nil:
		result.Outcome = OutcomeFailed
	default:
		result.Outcome = OutcomeSuccess
	}

	if result.Outcome != OutcomeSuccess {
		p.logger.Warn("Work item did not succeed",
			"worker", workerID,
			"itemId", item.ID,
			"executionId", item.ExecutionID,
			"taskId", item.TaskID,
			"outcome", result.Outcome,
			"error", result.Err)
	}

	tracked.result <- result
}

// GracefulShutdown stops accepting work, keeps workers from pulling queued
// items, and waits up to deadline for items already executing to finish. The
// remainder, queued items included, is then forced to stop.
func (p *WorkerPool) GracefulShutdown(deadline time.Duration) {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	if p.drainStop != nil {
		p.drainStop()
	}

	done := make(chan struct{})

	go func() {
		p.waitExecuting()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(deadline):
		p.logger.Warn("Graceful shutdown deadline exceeded, forcing stop")
	}

	p.ForceShutdown()
}

// ForceShutdown cancels every executing item, stops the workers, and resolves
// items still sitting in the queue as CANCELLED.
func (p *WorkerPool) ForceShutdown() {
	p.mu.Lock()
	p.stopped = true

	for _, tracked := range p.items {
		tracked.cancelled = true
		if tracked.cancel != nil {
			tracked.cancel()
		}
	}
	p.mu.Unlock()

	if p.drainStop != nil {
		p.drainStop()
	}

	if p.baseStop != nil {
		p.baseStop()
	}

	p.workersWg.Wait()

	// With the workers gone, anything left tracked was never picked up.
	// Drain the queue and deliver the cancellation its submitter is
	// waiting on.
	for {
		if _, ok := p.queue.TryDequeue(); !ok {
			break
		}
	}

	p.mu.Lock()
	orphans := make([]*trackedItem, 0, len(p.items))

	for id, tracked := range p.items {
		orphans = append(orphans, tracked)
		delete(p.items, id)
	}
	p.mu.Unlock()

	for _, tracked := range orphans {
		tracked.result <- WorkResult{ID: tracked.item.ID, Outcome: OutcomeCancelled, Err: context.Canceled}
	}

	p.logger.Info("Worker pool stopped")
}

func (p *WorkerPool) waitExecuting() {
	for {
		p.mu.Lock()

		executing := 0

		for _, tracked := range p.items {
			if tracked.cancel != nil {
				executing++
			}
		}
		p.mu.Unlock()

		if executing == 0 {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}
}
