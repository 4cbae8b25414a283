package types

// Warning levels emitted by the quality advisor.
const (
	LevelWarning = "warning"
	LevelInfo    = "info"
	LevelCaution = "caution"
	LevelOK      = "ok"
)

// QualityWarning describes the lossy/lossless transition of a job.
type QualityWarning struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ProcessingResult is persisted on the job when it completes.
type ProcessingResult struct {
	LoudnessLUFS      Decibels         `json:"loudness_lufs"`
	TruePeakDB        Decibels         `json:"true_peak_db"`
	DurationSeconds   float64          `json:"duration_seconds"`
	ProcessedFilename string           `json:"processed_filename"`
	ProcessedFileURL  string           `json:"processed_file_url"`
	InputFormat       *AudioDescriptor `json:"input_format,omitempty"`
	QualityWarning    *QualityWarning  `json:"quality_warning"`
	Strategy          Strategy         `json:"strategy,omitempty"`
}

// FailureResult is persisted on the job when any fatal stage error occurs.
type FailureResult struct {
	Error string `json:"error"`
}
