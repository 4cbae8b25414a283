// Package service runs queued jobs on a worker pool.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/audioforge/internal/database"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/pipeline"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/types"
	"github.com/mantonx/audioforge/internal/utils"
)

// JobSource lists work waiting to run and records jobs that cannot start.
type JobSource interface {
	ListQueued(ctx context.Context, limit int) ([]database.ProcessingJob, error)
	Fail(ctx context.Context, jobID string, cause error) error
}

// JobRunner processes one job to a terminal state.
type JobRunner interface {
	Run(ctx context.Context, desc *types.JobDescriptor, workerID string) (*types.ProcessingResult, error)
}

// Worker polls for queued jobs and feeds them to a worker pool.
type Worker struct {
	source   JobSource
	runner   JobRunner
	pool     *utils.WorkerPool
	interval time.Duration
	logger   hclog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewWorker creates a new worker
func NewWorker(source JobSource, runner JobRunner, pool *utils.WorkerPool, interval time.Duration, logger hclog.Logger) *Worker {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Worker{
		source:   source,
		runner:   runner,
		pool:     pool,
		interval: interval,
		logger:   logger.Named("worker"),
		inFlight: make(map[string]struct{}),
	}
}

// Run polls until ctx is cancelled, then waits for running jobs to reach a
// terminal state. Jobs not yet started stay QUEUED for the next run.
func (w *Worker) Run(ctx context.Context) error {
	w.pool.Start()
	defer w.pool.Stop()

	w.logger.Info("worker started", "workers", w.pool.Size(), "poll_interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down")
			return nil
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Worker) poll(ctx context.Context) {
	idle := w.pool.Idle()
	if idle == 0 {
		return
	}

	w.mu.Lock()
	limit := idle + len(w.inFlight)
	w.mu.Unlock()

	queued, err := w.source.ListQueued(ctx, limit)
	if err != nil {
		w.logger.Error("failed to list queued jobs", "error", err)
		return
	}

	submitted := 0
	for i := range queued {
		if submitted == idle {
			break
		}
		job := queued[i]
		if !w.track(job.ID) {
			continue
		}
		// Jobs outlive shutdown so they finish in a terminal state.
		jobCtx := context.WithoutCancel(ctx)
		if !w.pool.Submit(func(workerID string) { w.process(jobCtx, &job, workerID) }) {
			w.untrack(job.ID)
			break
		}
		submitted++
	}
}

func (w *Worker) process(ctx context.Context, job *database.ProcessingJob, workerID string) {
	defer w.untrack(job.ID)

	desc, err := pipeline.DescriptorFromJob(job)
	if err != nil {
		w.logger.Error("cannot rebuild job descriptor", "job_id", job.ID, "error", err)
		if ferr := w.source.Fail(ctx, job.ID, err); ferr != nil {
			w.logger.Error("failed to mark job failed", "job_id", job.ID, "error", ferr)
		}
		return
	}

	start := time.Now()
	result, err := w.runner.Run(ctx, desc, workerID)
	if err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "worker_id", workerID, "error", err)
		return
	}
	w.logger.Info("job completed",
		"job_id", job.ID,
		"worker_id", workerID,
		"output", result.ProcessedFilename,
		"elapsed", time.Since(start).Round(time.Millisecond))
}

func (w *Worker) track(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.inFlight[id]; ok {
		return false
	}
	w.inFlight[id] = struct{}{}
	return true
}

func (w *Worker) untrack(id string) {
	w.mu.Lock()
	delete(w.inFlight, id)
	w.mu.Unlock()
}
