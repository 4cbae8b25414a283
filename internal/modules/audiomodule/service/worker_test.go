package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/audioforge/internal/database"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/types"
	"github.com/mantonx/audioforge/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue serves QUEUED jobs until the runner takes them.
type fakeQueue struct {
	mu     sync.Mutex
	jobs   []database.ProcessingJob
	failed map[string]error
}

func (q *fakeQueue) ListQueued(_ context.Context, limit int) ([]database.ProcessingJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []database.ProcessingJob
	for _, j := range q.jobs {
		if j.Status != database.JobStatusQueued {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, j)
	}
	return out, nil
}

func (q *fakeQueue) Fail(_ context.Context, jobID string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[jobID] = cause
	q.setStatus(jobID, database.JobStatusFailed)
	return nil
}

func (q *fakeQueue) setStatus(id string, status database.JobStatus) {
	for i := range q.jobs {
		if q.jobs[i].ID == id {
			q.jobs[i].Status = status
		}
	}
}

type fakeRunner struct {
	queue   *fakeQueue
	release chan struct{}

	mu    sync.Mutex
	calls map[string][]string
}

func (r *fakeRunner) Run(_ context.Context, desc *types.JobDescriptor, workerID string) (*types.ProcessingResult, error) {
	r.mu.Lock()
	r.calls[desc.JobID] = append(r.calls[desc.JobID], workerID)
	r.mu.Unlock()

	if r.release != nil {
		<-r.release
	}

	r.queue.mu.Lock()
	r.queue.setStatus(desc.JobID, database.JobStatusCompleted)
	r.queue.mu.Unlock()
	if desc.JobID == "job-bad" {
		return nil, errors.New("conversion failed")
	}
	return &types.ProcessingResult{ProcessedFilename: desc.JobID + ".mp3"}, nil
}

func (r *fakeRunner) callCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls[id])
}

func (r *fakeRunner) workerFor(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls[id]) == 0 {
		return ""
	}
	return r.calls[id][0]
}

func queuedJob(id string) database.ProcessingJob {
	return database.ProcessingJob{
		ID:         id,
		SourcePath: "/work/" + id + ".wav",
		Options:    `{"format":"mp3"}`,
		Status:     database.JobStatusQueued,
	}
}

func TestWorker_RunsQueuedJobs(t *testing.T) {
	queue := &fakeQueue{
		jobs:   []database.ProcessingJob{queuedJob("job-a"), queuedJob("job-b"), queuedJob("job-bad")},
		failed: map[string]error{},
	}
	runner := &fakeRunner{queue: queue, calls: map[string][]string{}}
	pool := utils.NewWorkerPool("host", 2)
	w := NewWorker(queue, runner, pool, 10*time.Millisecond, hclog.NewNullLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return runner.callCount("job-a") == 1 && runner.callCount("job-b") == 1 && runner.callCount("job-bad") == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	for _, id := range []string{"job-a", "job-b", "job-bad"} {
		assert.Equal(t, 1, runner.callCount(id), id)
		assert.True(t, strings.HasPrefix(runner.workerFor(id), "host-w"), id)
	}
	assert.Empty(t, queue.failed)
}

func TestWorker_DoesNotResubmitInFlightJob(t *testing.T) {
	queue := &fakeQueue{jobs: []database.ProcessingJob{queuedJob("job-a")}, failed: map[string]error{}}
	runner := &fakeRunner{queue: queue, calls: map[string][]string{}, release: make(chan struct{})}
	pool := utils.NewWorkerPool("host", 2)
	pool.Start()
	defer pool.Stop()
	w := NewWorker(queue, runner, pool, time.Hour, hclog.NewNullLogger())

	ctx := context.Background()
	w.poll(ctx)
	require.Eventually(t, func() bool { return runner.callCount("job-a") == 1 }, 2*time.Second, 5*time.Millisecond)

	// Still QUEUED from the source's point of view while the runner blocks.
	w.poll(ctx)
	w.poll(ctx)
	close(runner.release)

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return len(w.inFlight) == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, runner.callCount("job-a"))
}

func TestWorker_CorruptOptionsFailJob(t *testing.T) {
	bad := queuedJob("job-corrupt")
	bad.Options = `{"format":`
	queue := &fakeQueue{jobs: []database.ProcessingJob{bad}, failed: map[string]error{}}
	runner := &fakeRunner{queue: queue, calls: map[string][]string{}}
	pool := utils.NewWorkerPool("host", 1)
	pool.Start()
	defer pool.Stop()
	w := NewWorker(queue, runner, pool, time.Hour, hclog.NewNullLogger())

	w.poll(context.Background())

	require.Eventually(t, func() bool {
		queue.mu.Lock()
		defer queue.mu.Unlock()
		return queue.failed["job-corrupt"] != nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, runner.callCount("job-corrupt"))
}
