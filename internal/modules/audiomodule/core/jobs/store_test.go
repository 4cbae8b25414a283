package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/audioforge/internal/database"
	aferrors "github.com/mantonx/audioforge/internal/modules/audiomodule/errors"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) (*JobStore, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return NewJobStore(db, hclog.NewNullLogger()), db
}

func newMockStore(t *testing.T) (*JobStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return NewJobStore(db, hclog.NewNullLogger()), mock
}

func createJob(t *testing.T, store *JobStore, id string) *database.ProcessingJob {
	t.Helper()
	job, err := store.CreateJob(context.Background(), &types.JobDescriptor{
		JobID:            id,
		SourcePath:       "/uploads/in/" + id + ".wav",
		OriginalFilename: "song.wav",
		UserID:           "user-1",
		Options:          map[string]interface{}{"format": "mp3", "lufs_preset": "spotify"},
	})
	require.NoError(t, err)
	return job
}

func TestCreateAndGetJob(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created := createJob(t, store, "job-1")
	assert.Equal(t, database.JobStatusQueued, created.Status)

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", job.UserID)
	assert.Equal(t, "song.wav", job.OriginalFilename)
	opts, err := job.GetOptions()
	require.NoError(t, err)
	assert.Equal(t, "spotify", opts["lufs_preset"])
}

func TestCreateJob_GeneratesID(t *testing.T) {
	store, _ := newTestStore(t)
	desc := &types.JobDescriptor{SourcePath: "/tmp/a.flac"}
	job, err := store.CreateJob(context.Background(), desc)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, job.ID, desc.JobID)
}

func TestGetJob_NotFound(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.GetJob(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, aferrors.ErrJobNotFound)
	assert.Equal(t, aferrors.ErrorTypeNotFound, aferrors.GetType(err))
}

func TestClaimJob(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	createJob(t, store, "job-1")

	job, err := store.ClaimJob(ctx, "job-1", "host-w1")
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusProcessing, job.Status)
	assert.Equal(t, "host-w1", job.WorkerID)
	require.NotNil(t, job.StartedAt)

	_, err = store.ClaimJob(ctx, "job-1", "host-w2")
	require.Error(t, err)
	assert.ErrorIs(t, err, aferrors.ErrJobNotQueued)
	assert.ErrorIs(t, err, aferrors.ErrInvalidTransition)

	var stErr *StateTransitionError
	require.True(t, errors.As(err, &stErr))
	assert.Equal(t, database.JobStatusProcessing, stErr.FromStatus)

	_, err = store.ClaimJob(ctx, "missing", "host-w1")
	assert.ErrorIs(t, err, aferrors.ErrJobNotFound)
}

func TestClaimJob_SingleWinner(t *testing.T) {
	store, _ := newTestStore(t)
	createJob(t, store, "job-1")

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		winner []string
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := store.ClaimJob(context.Background(), "job-1", id); err == nil {
				mu.Lock()
				winner = append(winner, id)
				mu.Unlock()
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	require.Len(t, winner, 1)
	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, winner[0], job.WorkerID)
}

func TestCompleteJob(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	createJob(t, store, "job-1")
	_, err := store.ClaimJob(ctx, "job-1", "w1")
	require.NoError(t, err)

	result := &types.ProcessingResult{
		LoudnessLUFS:      types.Decibels(-14.02),
		TruePeakDB:        types.Decibels(-1.1),
		DurationSeconds:   30,
		ProcessedFilename: "song-job-1.mp3",
		ProcessedFileURL:  "/uploads/song-job-1.mp3",
	}
	require.NoError(t, store.Complete(ctx, "job-1", result))

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)

	var stored types.ProcessingResult
	require.NoError(t, job.GetResult(&stored))
	assert.Equal(t, "song-job-1.mp3", stored.ProcessedFilename)
	assert.InDelta(t, -14.02, float64(stored.LoudnessLUFS), 1e-9)

	// terminal
	err = store.Fail(ctx, "job-1", errors.New("late failure"))
	assert.ErrorIs(t, err, aferrors.ErrInvalidTransition)
	job, _ = store.GetJob(ctx, "job-1")
	assert.Equal(t, database.JobStatusCompleted, job.Status)
}

func TestFailJob(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	createJob(t, store, "job-1")

	require.NoError(t, store.Fail(ctx, "job-1", errors.New("unsupported option")))

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusFailed, job.Status)
	assert.JSONEq(t, `{"error":"unsupported option"}`, string(job.ResultJSON()))

	err = store.Complete(ctx, "job-1", &types.ProcessingResult{})
	assert.ErrorIs(t, err, aferrors.ErrInvalidTransition)
}

func TestUpdateJob_QueuedCannotComplete(t *testing.T) {
	store, _ := newTestStore(t)
	createJob(t, store, "job-1")

	err := store.Complete(context.Background(), "job-1", &types.ProcessingResult{})
	assert.ErrorIs(t, err, aferrors.ErrInvalidTransition)

	err = store.Complete(context.Background(), "missing", &types.ProcessingResult{})
	assert.ErrorIs(t, err, aferrors.ErrJobNotFound)
}

func TestListQueuedAndStats(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		createJob(t, store, id)
		require.NoError(t, db.Model(&database.ProcessingJob{}).Where("id = ?", id).
			Update("created_at", base.Add(time.Duration(i)*time.Minute)).Error)
	}
	_, err := store.ClaimJob(ctx, "a", "w1")
	require.NoError(t, err)

	queued, err := store.ListQueued(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, "c", queued[0].ID)
	assert.Equal(t, "b", queued[1].ID)

	limited, err := store.ListQueued(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats[database.JobStatusQueued])
	assert.Equal(t, int64(1), stats[database.JobStatusProcessing])
}

func TestClaimJob_ConditionalUpdatePostgres(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "processing_jobs" SET .* WHERE id = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT \* FROM "processing_jobs" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "worker_id"}).
			AddRow("job-1", "PROCESSING", "w1"))

	job, err := store.ClaimJob(context.Background(), "job-1", "w1")
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusProcessing, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimJob_LostRacePostgres(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "processing_jobs" SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT \* FROM "processing_jobs" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "worker_id"}).
			AddRow("job-1", "PROCESSING", "other"))

	_, err := store.ClaimJob(context.Background(), "job-1", "w1")
	assert.ErrorIs(t, err, aferrors.ErrJobNotQueued)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJob_RollsBackOnWriteError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "processing_jobs" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow("job-1", "PROCESSING"))
	mock.ExpectExec(`UPDATE "processing_jobs" SET`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.Complete(context.Background(), "job-1", &types.ProcessingResult{})
	require.Error(t, err)
	assert.Equal(t, aferrors.ErrorTypePersistence, aferrors.GetType(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to database.JobStatus
		ok       bool
	}{
		{database.JobStatusQueued, database.JobStatusProcessing, true},
		{database.JobStatusQueued, database.JobStatusFailed, true},
		{database.JobStatusQueued, database.JobStatusCompleted, false},
		{database.JobStatusProcessing, database.JobStatusCompleted, true},
		{database.JobStatusProcessing, database.JobStatusFailed, true},
		{database.JobStatusProcessing, database.JobStatusQueued, false},
		{database.JobStatusCompleted, database.JobStatusFailed, false},
		{database.JobStatusFailed, database.JobStatusProcessing, false},
		{database.JobStatus("PAUSED"), database.JobStatusQueued, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateTransition("job", tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, aferrors.ErrInvalidTransition)
			}
		})
	}
}
