package pipeline

import (
	"context"

	"github.com/mantonx/audioforge/internal/database"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/types"
)

// Prober describes an audio file.
type Prober interface {
	Probe(ctx context.Context, path string) (*types.AudioDescriptor, error)
}

// Converter produces the canonical working file for an input.
type Converter interface {
	ToCanonical(ctx context.Context, path string) (string, error)
}

// LoudnessEngine renders the output file and measures it.
type LoudnessEngine interface {
	Normalize(ctx context.Context, canonicalPath string, plan types.NormalizationPlan, spec types.OutputSpec) (string, error)
	Measure(ctx context.Context, path string) (*types.Measurement, error)
}

// TagWriter embeds tags and cover art into a finished file.
type TagWriter interface {
	Apply(ctx context.Context, path string, tags types.TagOptions, coverArtPath string) error
}

// JobRepository is the persistence collaborator of the orchestrator.
type JobRepository interface {
	CreateJob(ctx context.Context, desc *types.JobDescriptor) (*database.ProcessingJob, error)
	GetJob(ctx context.Context, jobID string) (*database.ProcessingJob, error)
	ClaimJob(ctx context.Context, jobID, workerID string) (*database.ProcessingJob, error)
	Complete(ctx context.Context, jobID string, result *types.ProcessingResult) error
	Fail(ctx context.Context, jobID string, cause error) error
}
