// Package errors provides structured error handling for the audio module.
// It defines error types, sentinel errors, and helpers used by every stage
// of the processing pipeline.
package errors

import (
	"errors"
	"fmt"
)

// Error types for classification
type ErrorType string

const (
	// ErrorTypeValidation indicates invalid job options or input files
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeProbe indicates the input could not be inspected
	ErrorTypeProbe ErrorType = "probe"
	// ErrorTypeConversion indicates canonical conversion failed
	ErrorTypeConversion ErrorType = "conversion"
	// ErrorTypeNormalization indicates loudness processing or export failed
	ErrorTypeNormalization ErrorType = "normalization"
	// ErrorTypeMetadata indicates tag embedding failed (never fatal)
	ErrorTypeMetadata ErrorType = "metadata"
	// ErrorTypeNotFound indicates the job record does not exist
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypePersistence indicates the job store failed
	ErrorTypePersistence ErrorType = "persistence"
	// ErrorTypeInternal indicates internal system errors
	ErrorTypeInternal ErrorType = "internal"
)

// Sentinel errors for common scenarios
var (
	// ErrJobNotFound indicates a job ID doesn't exist
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotQueued indicates a claim was attempted on a job that left QUEUED
	ErrJobNotQueued = errors.New("job is not queued")

	// ErrInvalidTransition indicates a forbidden status change
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnsupportedFormat indicates an input or output format we do not handle
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrEmptyInput indicates the input file is missing or zero length
	ErrEmptyInput = errors.New("empty input")

	// ErrInvalidOptions indicates the options map failed validation
	ErrInvalidOptions = errors.New("invalid options")

	// ErrToolFailed indicates ffmpeg or ffprobe exited non-zero
	ErrToolFailed = errors.New("external tool failed")

	// ErrMalformedReport indicates the loudnorm analysis report could not be parsed
	ErrMalformedReport = errors.New("malformed loudness report")

	// ErrNoAudioStream indicates the container holds no audio stream
	ErrNoAudioStream = errors.New("no audio stream")

	// ErrTimeout indicates an external tool exceeded its time budget
	ErrTimeout = errors.New("operation timed out")
)

// ProcessingError provides structured error information with context
type ProcessingError struct {
	Type    ErrorType              // Error classification
	Op      string                 // Operation that failed (e.g., "probe", "two_pass")
	JobID   string                 // Related job ID if applicable
	Err     error                  // Underlying error
	Details map[string]interface{} // Additional context
}

// Error implements the error interface
func (e *ProcessingError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("%s error in %s for job %s: %v", e.Type, e.Op, e.JobID, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Type, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for sentinel errors
func (e *ProcessingError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// New creates a new ProcessingError
func New(errType ErrorType, op string, err error) *ProcessingError {
	return &ProcessingError{
		Type:    errType,
		Op:      op,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithJob adds job context to the error
func (e *ProcessingError) WithJob(jobID string) *ProcessingError {
	e.JobID = jobID
	return e
}

// WithDetail adds a key-value detail to the error
func (e *ProcessingError) WithDetail(key string, value interface{}) *ProcessingError {
	e.Details[key] = value
	return e
}

// IsFatal reports whether the error must fail the job.
// Metadata problems are logged and skipped.
func (e *ProcessingError) IsFatal() bool {
	return e.Type != ErrorTypeMetadata
}

// Error creation helpers

// InputValidationError creates a validation error
func InputValidationError(op string, err error) *ProcessingError {
	return New(ErrorTypeValidation, op, err)
}

// ProbeError creates a probe error
func ProbeError(op string, err error) *ProcessingError {
	return New(ErrorTypeProbe, op, err)
}

// ConversionError creates a canonical conversion error
func ConversionError(op string, err error) *ProcessingError {
	return New(ErrorTypeConversion, op, err)
}

// NormalizationError creates a loudness/export error
func NormalizationError(op string, err error) *ProcessingError {
	return New(ErrorTypeNormalization, op, err)
}

// MetadataError creates a non-fatal tagging error
func MetadataError(op string, err error) *ProcessingError {
	return New(ErrorTypeMetadata, op, err)
}

// JobNotFoundError creates a not-found error for the given job
func JobNotFoundError(op, jobID string) *ProcessingError {
	return New(ErrorTypeNotFound, op, ErrJobNotFound).WithJob(jobID)
}

// PersistenceError creates a job store error
func PersistenceError(op string, err error) *ProcessingError {
	return New(ErrorTypePersistence, op, err)
}

// InternalError creates an internal system error
func InternalError(op string, err error) *ProcessingError {
	return New(ErrorTypeInternal, op, err)
}

// Wrap wraps an error with operation context if it's not already a ProcessingError
func Wrap(err error, errType ErrorType, op string) error {
	if err == nil {
		return nil
	}

	var pErr *ProcessingError
	if errors.As(err, &pErr) {
		return err
	}

	return New(errType, op, err)
}

// GetType extracts the error type from an error
func GetType(err error) ErrorType {
	var pErr *ProcessingError
	if errors.As(err, &pErr) {
		return pErr.Type
	}
	return ErrorTypeInternal
}

// GetOperation extracts the operation from an error
func GetOperation(err error) string {
	var pErr *ProcessingError
	if errors.As(err, &pErr) {
		return pErr.Op
	}
	return "unknown"
}

// GetDetails extracts error details
func GetDetails(err error) map[string]interface{} {
	var pErr *ProcessingError
	if errors.As(err, &pErr) {
		return pErr.Details
	}
	return nil
}

// IsFatal reports whether err should fail a job. Unknown errors are fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var pErr *ProcessingError
	if errors.As(err, &pErr) {
		return pErr.IsFatal()
	}
	return true
}
