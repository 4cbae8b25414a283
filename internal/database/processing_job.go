package database

import (
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle state of a processing job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ProcessingJob is the persisted record of one audio processing request.
type ProcessingJob struct {
	ID               string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID           string     `gorm:"index;type:varchar(128)" json:"user_id"`
	SourcePath       string     `gorm:"type:varchar(1024);not null" json:"source_path"`
	OriginalFilename string     `gorm:"type:varchar(512)" json:"original_filename"`
	Options          string     `gorm:"type:text" json:"-"` // JSON string
	Status           JobStatus  `gorm:"type:varchar(32);not null;index" json:"status"`
	WorkerID         string     `gorm:"type:varchar(128)" json:"worker_id,omitempty"`
	Result           string     `gorm:"type:text" json:"-"` // JSON string
	CreatedAt        time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// TableName returns the table name for GORM
func (ProcessingJob) TableName() string {
	return "processing_jobs"
}

// GetOptions deserializes the Options JSON string
func (j *ProcessingJob) GetOptions() (map[string]interface{}, error) {
	if j.Options == "" {
		return map[string]interface{}{}, nil
	}
	var opts map[string]interface{}
	if err := json.Unmarshal([]byte(j.Options), &opts); err != nil {
		return nil, err
	}
	return opts, nil
}

// SetOptions serializes and sets the Options
func (j *ProcessingJob) SetOptions(opts map[string]interface{}) error {
	if opts == nil {
		j.Options = ""
		return nil
	}
	data, err := json.Marshal(opts)
	if err != nil {
		return err
	}
	j.Options = string(data)
	return nil
}

// GetResult deserializes the Result JSON string into dst
func (j *ProcessingJob) GetResult(dst interface{}) error {
	if j.Result == "" {
		return nil
	}
	return json.Unmarshal([]byte(j.Result), dst)
}

// ResultJSON returns the stored result document, or nil when none is set.
func (j *ProcessingJob) ResultJSON() json.RawMessage {
	if j.Result == "" {
		return nil
	}
	return json.RawMessage(j.Result)
}

// SetResult serializes and sets the Result
func (j *ProcessingJob) SetResult(res interface{}) error {
	if res == nil {
		j.Result = ""
		return nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	j.Result = string(data)
	return nil
}
