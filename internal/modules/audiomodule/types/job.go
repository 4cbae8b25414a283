// Package types provides the data model shared by the audio processing stages.
package types

import (
	"path/filepath"
	"strings"
)

// JobDescriptor is the immutable input handed to the orchestrator.
type JobDescriptor struct {
	JobID            string                 `json:"job_id"`
	SourcePath       string                 `json:"source_path"`
	OriginalFilename string                 `json:"original_filename"`
	UserID           string                 `json:"user_id"`
	Options          map[string]interface{} `json:"options"`
}

// SourceExtensions lists the input extensions the pipeline accepts.
var SourceExtensions = map[string]bool{
	"wav":  true,
	"flac": true,
	"aif":  true,
	"aiff": true,
	"mp3":  true,
	"m4a":  true,
	"aac":  true,
	"ogg":  true,
	"oga":  true,
	"opus": true,
}

// SourceExtension returns the lowercased extension of the submitted file,
// preferring the user-facing filename over the stored path.
func (d JobDescriptor) SourceExtension() string {
	name := d.OriginalFilename
	if filepath.Ext(name) == "" {
		name = d.SourcePath
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// Stem returns the original filename without directory or extension,
// falling back to the source path.
func (d JobDescriptor) Stem() string {
	name := d.OriginalFilename
	if name == "" {
		name = d.SourcePath
	}
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
