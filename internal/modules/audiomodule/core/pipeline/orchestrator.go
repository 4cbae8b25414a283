// Package pipeline drives a processing job through its stages and records
// the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/audioforge/internal/database"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/quality"
	aferrors "github.com/mantonx/audioforge/internal/modules/audiomodule/errors"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/types"
)

// Config holds the orchestrator's output settings.
type Config struct {
	OutputDir       string
	PublicURLPrefix string
}

// Dependencies are the stage implementations used by the orchestrator.
type Dependencies struct {
	Store     JobRepository
	Prober    Prober
	Converter Converter
	Engine    LoudnessEngine
	Tagger    TagWriter
}

// Orchestrator runs jobs through probe, conversion, normalization, tagging
// and measurement. It holds no per-job state; each Run builds its own.
type Orchestrator struct {
	deps   Dependencies
	cfg    Config
	logger hclog.Logger
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(deps Dependencies, cfg Config, logger hclog.Logger) *Orchestrator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("pipeline"),
	}
}

// Accept validates desc and records it as a QUEUED job.
func (o *Orchestrator) Accept(ctx context.Context, desc *types.JobDescriptor) (*database.ProcessingJob, error) {
	if _, err := validate(desc); err != nil {
		return nil, err
	}
	return o.deps.Store.CreateJob(ctx, desc)
}

// DescriptorFromJob rebuilds the job descriptor stored on a job record.
func DescriptorFromJob(job *database.ProcessingJob) (*types.JobDescriptor, error) {
	opts, err := job.GetOptions()
	if err != nil {
		return nil, aferrors.InputValidationError("descriptor", fmt.Errorf("stored options are not valid JSON: %w", err)).WithJob(job.ID)
	}
	return &types.JobDescriptor{
		JobID:            job.ID,
		SourcePath:       job.SourcePath,
		OriginalFilename: job.OriginalFilename,
		UserID:           job.UserID,
		Options:          opts,
	}, nil
}

// Run claims the job for workerID and processes it to a terminal state.
// A job that does not exist or cannot be claimed is left untouched, as are
// its files.
func (o *Orchestrator) Run(ctx context.Context, desc *types.JobDescriptor, workerID string) (*types.ProcessingResult, error) {
	logger := o.logger.With("job_id", desc.JobID, "worker_id", workerID)

	if _, err := o.deps.Store.GetJob(ctx, desc.JobID); err != nil {
		logger.Error("cannot load job", "error", err)
		return nil, err
	}
	if _, err := o.deps.Store.ClaimJob(ctx, desc.JobID, workerID); err != nil {
		logger.Warn("cannot claim job", "error", err)
		return nil, err
	}
	logger.Info("processing job", "source", desc.SourcePath)

	run := &jobRun{desc: desc, inputPath: desc.SourcePath, logger: logger}
	outcome := o.execute(ctx, run)
	return o.finish(ctx, run, outcome)
}

// jobRun is the per-job scratch state threaded through the stages.
type jobRun struct {
	desc   *types.JobDescriptor
	opts   *types.Options
	logger hclog.Logger

	inputPath     string
	input         *types.AudioDescriptor
	canonicalPath string
	outputPath    string
	plan          types.NormalizationPlan
	measurement   *types.Measurement
	coverArtDone  bool
}

// stageOutcome is either a result or the error of the stage that failed.
type stageOutcome struct {
	result *types.ProcessingResult
	stage  string
	err    error
}

type stage struct {
	name string
	run  func(ctx context.Context, r *jobRun) error
}

func (o *Orchestrator) stages() []stage {
	return []stage{
		{"validate", o.validateStage},
		{"probe", o.probeStage},
		{"convert", o.convertStage},
		{"normalize", o.normalizeStage},
		{"tag", o.tagStage},
		{"measure", o.measureStage},
	}
}

func (o *Orchestrator) execute(ctx context.Context, r *jobRun) stageOutcome {
	for _, s := range o.stages() {
		r.logger.Debug("stage started", "stage", s.name)
		if err := s.run(ctx, r); err != nil {
			return stageOutcome{stage: s.name, err: err}
		}
	}
	return stageOutcome{result: o.buildResult(r)}
}

func (o *Orchestrator) validateStage(_ context.Context, r *jobRun) error {
	opts, err := validate(r.desc)
	if err != nil {
		return err
	}
	r.opts = opts
	r.plan = opts.Plan()

	info, err := os.Stat(r.inputPath)
	if err != nil {
		return aferrors.InputValidationError("validate", fmt.Errorf("source is not readable: %w", err))
	}
	if info.Size() == 0 {
		return aferrors.InputValidationError("validate", aferrors.ErrEmptyInput)
	}
	return nil
}

func (o *Orchestrator) probeStage(ctx context.Context, r *jobRun) error {
	desc, err := o.deps.Prober.Probe(ctx, r.inputPath)
	if err != nil {
		return err
	}
	r.input = desc
	return nil
}

func (o *Orchestrator) convertStage(ctx context.Context, r *jobRun) error {
	path, err := o.deps.Converter.ToCanonical(ctx, r.inputPath)
	if err != nil {
		return err
	}
	r.canonicalPath = path
	return nil
}

func (o *Orchestrator) normalizeStage(ctx context.Context, r *jobRun) error {
	if err := os.MkdirAll(o.cfg.OutputDir, 0755); err != nil {
		return aferrors.NormalizationError("prepare_output", err)
	}
	r.outputPath = filepath.Join(o.cfg.OutputDir, OutputFilename(r.desc, r.opts.Format))

	spec := types.NewOutputSpec(r.opts, r.outputPath)
	if _, err := o.deps.Engine.Normalize(ctx, r.canonicalPath, r.plan, spec); err != nil {
		return err
	}
	return nil
}

// tagStage never fails the job; tagging is best-effort.
func (o *Orchestrator) tagStage(ctx context.Context, r *jobRun) error {
	r.coverArtDone = true
	if err := o.deps.Tagger.Apply(ctx, r.outputPath, r.opts.Tags, r.opts.CoverArtPath); err != nil {
		if aferrors.IsFatal(err) {
			return err
		}
		r.logger.Warn("metadata not written", "error", err, "stderr", aferrors.GetDetails(err)["stderr"])
	}
	return nil
}

func (o *Orchestrator) measureStage(ctx context.Context, r *jobRun) error {
	m, err := o.deps.Engine.Measure(ctx, r.outputPath)
	if err != nil {
		return err
	}
	r.measurement = m
	return nil
}

func (o *Orchestrator) buildResult(r *jobRun) *types.ProcessingResult {
	name := filepath.Base(r.outputPath)
	return &types.ProcessingResult{
		LoudnessLUFS:      r.measurement.IntegratedLUFS.Rounded(),
		TruePeakDB:        r.measurement.PeakDB.Rounded(),
		DurationSeconds:   math.Round(r.measurement.DurationSeconds*100) / 100,
		ProcessedFilename: name,
		ProcessedFileURL:  o.fileURL(name),
		InputFormat:       r.input,
		QualityWarning:    quality.Classify(r.input, r.opts.Format),
		Strategy:          r.plan.Strategy,
	}
}

// finish moves the job to its terminal state and removes every job-scoped
// artifact except a successful output.
func (o *Orchestrator) finish(ctx context.Context, r *jobRun, outcome stageOutcome) (*types.ProcessingResult, error) {
	// Terminal writes must land even when the worker is shutting down.
	ctx = context.WithoutCancel(ctx)

	if outcome.err == nil {
		err := o.deps.Store.Complete(ctx, r.desc.JobID, outcome.result)
		if err == nil {
			o.removeWorkingFiles(r)
			r.logger.Info("job completed",
				"output", r.outputPath,
				"loudness_lufs", outcome.result.LoudnessLUFS,
				"peak_db", outcome.result.TruePeakDB)
			return outcome.result, nil
		}
		outcome = stageOutcome{stage: "persist", err: err}
	}

	err := outcome.err
	var pErr *aferrors.ProcessingError
	if errors.As(err, &pErr) && pErr.JobID == "" {
		pErr.JobID = r.desc.JobID
	}
	r.logger.Error("job failed", "stage", outcome.stage, "error", err, "stderr", aferrors.GetDetails(err)["stderr"])

	if r.outputPath != "" {
		removeFile(r.logger, r.outputPath)
	}
	o.removeWorkingFiles(r)
	if !r.coverArtDone {
		if art := coverArtPath(r); art != "" {
			removeFile(r.logger, art)
		}
	}

	if failErr := o.deps.Store.Fail(ctx, r.desc.JobID, err); failErr != nil {
		r.logger.Error("failed to record job failure", "error", failErr)
		return nil, errors.Join(err, failErr)
	}
	return nil, err
}

// coverArtPath prefers the parsed options and falls back to the raw option
// map when validation never produced them.
func coverArtPath(r *jobRun) string {
	if r.opts != nil {
		return r.opts.CoverArtPath
	}
	if s, ok := r.desc.Options["cover_art_path"].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func (o *Orchestrator) removeWorkingFiles(r *jobRun) {
	removeFile(r.logger, r.inputPath)
	if r.canonicalPath != "" && r.canonicalPath != r.inputPath {
		removeFile(r.logger, r.canonicalPath)
	}
}

func (o *Orchestrator) fileURL(name string) string {
	return strings.TrimRight(o.cfg.PublicURLPrefix, "/") + "/" + name
}

// OutputFilename names the deliverable: the source stem, the first eight
// characters of the job ID and the output format.
func OutputFilename(desc *types.JobDescriptor, format string) string {
	id := desc.JobID
	if len(id) > 8 {
		id = id[:8]
	}
	stem := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, desc.Stem())
	if stem == "" || stem == "." {
		stem = "audio"
	}
	return fmt.Sprintf("%s-%s.%s", stem, id, format)
}

func validate(desc *types.JobDescriptor) (*types.Options, error) {
	if desc.SourcePath == "" {
		return nil, aferrors.InputValidationError("validate", fmt.Errorf("%w: no source path", aferrors.ErrInvalidOptions)).WithJob(desc.JobID)
	}
	if ext := desc.SourceExtension(); !types.SourceExtensions[ext] {
		return nil, aferrors.InputValidationError("validate", fmt.Errorf("%w: source extension %q", aferrors.ErrUnsupportedFormat, ext)).WithJob(desc.JobID)
	}
	opts, err := types.ParseOptions(desc.Options)
	if err != nil {
		return nil, aferrors.InputValidationError("validate", err).WithJob(desc.JobID)
	}
	return opts, nil
}

func removeFile(logger hclog.Logger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove file", "path", path, "error", err)
	}
}
