package utils

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// WorkerPool runs submitted work on a fixed set of workers. Each worker has
// a stable identifier that is passed to every work item it runs.
type WorkerPool struct {
	prefix    string
	workers   int
	workQueue chan func(workerID string)
	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
	busy      atomic.Int32
	mu        sync.RWMutex
}

// NewWorkerPool creates a new worker pool with the specified number of workers.
// Worker identifiers are "<prefix>-w<N>". The work queue is buffered at 2x
// the worker count.
func NewWorkerPool(prefix string, workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		prefix:    prefix,
		workers:   workers,
		workQueue: make(chan func(string), workers*2),
		stopCh:    make(chan struct{}),
	}
}

// Start begins processing work items.
// This method is idempotent - calling it multiple times has no effect
// if the pool is already running.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return
	}

	wp.running = true

	for i := 1; i <= wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(fmt.Sprintf("%s-w%d", wp.prefix, i))
	}
}

// Stop stops the worker pool and waits for all workers to finish their
// current item. Items still queued are dropped.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = false
	close(wp.stopCh)
	wp.mu.Unlock()

	wp.wg.Wait()
}

// Submit adds a work item to the queue.
// Returns true if the work was successfully queued, false if the queue
// is full or the pool is not running. Non-blocking operation.
func (wp *WorkerPool) Submit(work func(workerID string)) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return false
	}

	select {
	case wp.workQueue <- work:
		return true
	default:
		return false
	}
}

// Idle returns how many more items can start right away without waiting
// behind queued work.
func (wp *WorkerPool) Idle() int {
	n := wp.workers - int(wp.busy.Load()) - len(wp.workQueue)
	if n < 0 {
		return 0
	}
	return n
}

// Size returns the number of workers.
func (wp *WorkerPool) Size() int {
	return wp.workers
}

func (wp *WorkerPool) worker(id string) {
	defer wp.wg.Done()

	for {
		// Prefer stopping over picking up more work.
		select {
		case <-wp.stopCh:
			return
		default:
		}

		select {
		case work := <-wp.workQueue:
			if work != nil {
				wp.busy.Add(1)
				work(id)
				wp.busy.Add(-1)
			}
		case <-wp.stopCh:
			return
		}
	}
}
