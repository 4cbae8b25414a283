// Package jobs persists processing jobs and enforces their state machine.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/audioforge/internal/database"
	aferrors "github.com/mantonx/audioforge/internal/modules/audiomodule/errors"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/types"
	"gorm.io/gorm"
)

// JobUpdate describes a state change and the fields written with it.
type JobUpdate struct {
	Status      database.JobStatus
	Result      interface{}
	CompletedAt *time.Time
}

// JobStore provides database-backed job management
type JobStore struct {
	db     *gorm.DB
	logger hclog.Logger
}

// NewJobStore creates a new job store
func NewJobStore(db *gorm.DB, logger hclog.Logger) *JobStore {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &JobStore{
		db:     db,
		logger: logger.Named("job-store"),
	}
}

// CreateJob records a new QUEUED job for desc. A missing job ID is generated.
func (s *JobStore) CreateJob(ctx context.Context, desc *types.JobDescriptor) (*database.ProcessingJob, error) {
	if desc.JobID == "" {
		desc.JobID = uuid.New().String()
	}

	job := &database.ProcessingJob{
		ID:               desc.JobID,
		UserID:           desc.UserID,
		SourcePath:       desc.SourcePath,
		OriginalFilename: desc.OriginalFilename,
		Status:           database.JobStatusQueued,
	}
	if err := job.SetOptions(desc.Options); err != nil {
		return nil, aferrors.InputValidationError("create_job", err).WithJob(desc.JobID)
	}

	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, aferrors.PersistenceError("create_job", err).WithJob(desc.JobID)
	}

	s.logger.Info("created job", "job_id", job.ID, "source", job.SourcePath)
	return job, nil
}

// GetJob retrieves a job by ID
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*database.ProcessingJob, error) {
	var job database.ProcessingJob
	if err := s.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, aferrors.JobNotFoundError("get_job", jobID)
		}
		return nil, aferrors.PersistenceError("get_job", err).WithJob(jobID)
	}
	return &job, nil
}

// ClaimJob atomically moves a QUEUED job to PROCESSING for workerID. Only
// one concurrent caller can win; the others receive a StateTransitionError.
func (s *JobStore) ClaimJob(ctx context.Context, jobID, workerID string) (*database.ProcessingJob, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&database.ProcessingJob{}).
		Where("id = ? AND status = ?", jobID, database.JobStatusQueued).
		Updates(map[string]interface{}{
			"status":     database.JobStatusProcessing,
			"worker_id":  workerID,
			"started_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, aferrors.PersistenceError("claim_job", res.Error).WithJob(jobID)
	}

	if res.RowsAffected != 1 {
		job, err := s.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return nil, &StateTransitionError{
			JobID:      jobID,
			FromStatus: job.Status,
			ToStatus:   database.JobStatusProcessing,
			Reason:     "job is not queued",
			Err:        aferrors.ErrJobNotQueued,
		}
	}

	s.logger.Debug("claimed job", "job_id", jobID, "worker_id", workerID)
	return s.GetJob(ctx, jobID)
}

// UpdateJob applies a validated state change inside a transaction. The
// write is conditional on the status read, so a concurrent change makes it
// fail instead of overwriting.
func (s *JobStore) UpdateJob(ctx context.Context, jobID string, update JobUpdate) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job database.ProcessingJob
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return aferrors.JobNotFoundError("update_job", jobID)
			}
			return aferrors.PersistenceError("update_job", err).WithJob(jobID)
		}

		if err := ValidateTransition(jobID, job.Status, update.Status); err != nil {
			return err
		}

		if err := job.SetResult(update.Result); err != nil {
			return aferrors.PersistenceError("update_job", err).WithJob(jobID)
		}
		updates := map[string]interface{}{
			"status":     update.Status,
			"updated_at": time.Now().UTC(),
		}
		if update.Result != nil {
			updates["result"] = job.Result
		}
		if update.CompletedAt != nil {
			updates["completed_at"] = update.CompletedAt.UTC()
		}

		res := tx.Model(&database.ProcessingJob{}).
			Where("id = ? AND status = ?", jobID, job.Status).
			Updates(updates)
		if res.Error != nil {
			return aferrors.PersistenceError("update_job", res.Error).WithJob(jobID)
		}
		if res.RowsAffected != 1 {
			return &StateTransitionError{
				JobID:      jobID,
				FromStatus: job.Status,
				ToStatus:   update.Status,
				Reason:     "job changed concurrently",
			}
		}
		return nil
	})
}

// Complete marks a job COMPLETED with its result.
func (s *JobStore) Complete(ctx context.Context, jobID string, result *types.ProcessingResult) error {
	now := time.Now()
	if err := s.UpdateJob(ctx, jobID, JobUpdate{
		Status:      database.JobStatusCompleted,
		Result:      result,
		CompletedAt: &now,
	}); err != nil {
		return err
	}
	s.logger.Info("completed job", "job_id", jobID)
	return nil
}

// Fail marks a job FAILED and records cause as its result.
func (s *JobStore) Fail(ctx context.Context, jobID string, cause error) error {
	now := time.Now()
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if err := s.UpdateJob(ctx, jobID, JobUpdate{
		Status:      database.JobStatusFailed,
		Result:      &types.FailureResult{Error: msg},
		CompletedAt: &now,
	}); err != nil {
		return err
	}
	s.logger.Info("failed job", "job_id", jobID, "error", msg)
	return nil
}

// ListQueued returns up to limit QUEUED jobs, oldest first.
func (s *JobStore) ListQueued(ctx context.Context, limit int) ([]database.ProcessingJob, error) {
	var jobs []database.ProcessingJob
	q := s.db.WithContext(ctx).
		Where("status = ?", database.JobStatusQueued).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, aferrors.PersistenceError("list_queued", err)
	}
	return jobs, nil
}

// Stats counts jobs per status.
func (s *JobStore) Stats(ctx context.Context) (map[database.JobStatus]int64, error) {
	var rows []struct {
		Status database.JobStatus
		Count  int64
	}
	if err := s.db.WithContext(ctx).Model(&database.ProcessingJob{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, aferrors.PersistenceError("stats", err)
	}

	stats := make(map[database.JobStatus]int64, len(rows))
	for _, r := range rows {
		stats[r.Status] = r.Count
	}
	return stats, nil
}
