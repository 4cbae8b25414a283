package database

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/audioforge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLiteMemory(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Type: "sqlite", Path: ":memory:"}, hclog.NewNullLogger())
	require.NoError(t, err)

	job := &ProcessingJob{ID: "job-1", SourcePath: "/tmp/in.wav", Status: JobStatusQueued}
	require.NoError(t, job.SetOptions(map[string]interface{}{"format": "flac"}))
	require.NoError(t, db.Create(job).Error)

	var loaded ProcessingJob
	require.NoError(t, db.First(&loaded, "id = ?", "job-1").Error)
	opts, err := loaded.GetOptions()
	require.NoError(t, err)
	assert.Equal(t, "flac", opts["format"])
	assert.Nil(t, loaded.ResultJSON())
}

func TestOpen_UnsupportedType(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Type: "mysql"}, nil)
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	cfg := config.DatabaseConfig{Host: "db", Port: 5433, Username: "u", Password: "p", Database: "jobs"}
	assert.Equal(t, "host=db user=u password=p dbname=jobs port=5433 sslmode=disable TimeZone=UTC", postgresDSN(cfg))

	cfg.URL = "postgres://u:p@db/jobs"
	assert.Equal(t, "postgres://u:p@db/jobs", postgresDSN(cfg))
}

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.False(t, JobStatusQueued.IsTerminal())
	assert.False(t, JobStatusProcessing.IsTerminal())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
}

func TestProcessingJob_Result(t *testing.T) {
	var job ProcessingJob
	require.NoError(t, job.SetResult(map[string]string{"error": "boom"}))
	assert.JSONEq(t, `{"error":"boom"}`, string(job.ResultJSON()))

	var out map[string]string
	require.NoError(t, job.GetResult(&out))
	assert.Equal(t, "boom", out["error"])

	require.NoError(t, job.SetResult(nil))
	assert.Empty(t, job.Result)
}
