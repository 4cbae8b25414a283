// Package audiomodule assembles the audio processing pipeline from
// configuration.
//
// The module owns:
//   - the ffmpeg runner shared by every stage
//   - the job store and orchestrator
//   - the worker poller and the spool intake
//
// Architecture:
//
//	spool / CLI → Accept (QUEUED) → Worker → Orchestrator → COMPLETED | FAILED
package audiomodule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/audioforge/internal/config"
	"github.com/mantonx/audioforge/internal/database"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/convert"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/ffmpeg"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/jobs"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/loudness"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/metadata"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/pipeline"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/probe"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/intake"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/service"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/types"
	"github.com/mantonx/audioforge/internal/utils"
	"gorm.io/gorm"
)

// Module wires the processing stages, the job store and the background
// services together.
type Module struct {
	cfg    *config.Config
	logger hclog.Logger

	Runner       *ffmpeg.Runner
	Store        *jobs.JobStore
	Orchestrator *pipeline.Orchestrator
}

// NewModule builds the module on the real ffmpeg executables.
func NewModule(cfg *config.Config, db *gorm.DB, logger hclog.Logger) *Module {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	runner := ffmpeg.NewRunner(logger, ffmpeg.Config{
		FFmpegPath:  cfg.Tools.FFmpegPath,
		FFprobePath: cfg.Tools.FFprobePath,
		Timeout:     cfg.Tools.Timeout,
	})
	return NewModuleWithRunner(cfg, db, runner, logger)
}

// NewModuleWithRunner builds the module on a caller-supplied runner.
func NewModuleWithRunner(cfg *config.Config, db *gorm.DB, runner *ffmpeg.Runner, logger hclog.Logger) *Module {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	prober := probe.NewProber(runner, logger)
	store := jobs.NewJobStore(db, logger)
	orch := pipeline.NewOrchestrator(pipeline.Dependencies{
		Store:     store,
		Prober:    prober,
		Converter: convert.NewConverter(runner, cfg.Paths.WorkDir, logger),
		Engine:    loudness.NewEngine(runner, prober, cfg.Paths.WorkDir, logger),
		Tagger:    metadata.NewWriter(runner, logger),
	}, pipeline.Config{
		OutputDir:       cfg.Paths.OutputDir,
		PublicURLPrefix: cfg.Paths.PublicURLPrefix,
	}, logger)

	return &Module{
		cfg:          cfg,
		logger:       logger,
		Runner:       runner,
		Store:        store,
		Orchestrator: orch,
	}
}

// Init creates the working, output and spool directories.
func (m *Module) Init() error {
	for _, dir := range []string{m.cfg.Paths.WorkDir, m.cfg.Paths.OutputDir, m.cfg.Paths.SpoolDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// DefaultOptions returns the job options applied when a submission leaves
// them out.
func (m *Module) DefaultOptions() map[string]interface{} {
	p := m.cfg.Processing
	opts := map[string]interface{}{}
	if p.DefaultFormat != "" {
		opts["format"] = p.DefaultFormat
	}
	if p.DefaultPreset != "" {
		opts["lufs_preset"] = p.DefaultPreset
		if p.DefaultPreset == types.PresetCustom {
			opts["normalize"] = true
		}
		if p.LimitTruePeak {
			opts["limit_true_peak"] = true
		}
	}
	return opts
}

// Submit copies the file at path into the work directory and queues it.
// The caller's file is left in place.
func (m *Module) Submit(ctx context.Context, path, userID string, options map[string]interface{}) (*database.ProcessingJob, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	jobID := uuid.New().String()
	staged, err := intake.StageFile(path, m.cfg.Paths.WorkDir, jobID, false)
	if err != nil {
		return nil, err
	}

	job, err := m.Orchestrator.Accept(ctx, &types.JobDescriptor{
		JobID:            jobID,
		SourcePath:       staged,
		OriginalFilename: filepath.Base(path),
		UserID:           userID,
		Options:          intake.MergeOptions(m.DefaultOptions(), options),
	})
	if err != nil {
		os.Remove(staged)
		return nil, err
	}
	return job, nil
}

// Process submits the file and runs it immediately on the calling goroutine.
func (m *Module) Process(ctx context.Context, path, userID string, options map[string]interface{}) (*types.ProcessingResult, error) {
	job, err := m.Submit(ctx, path, userID, options)
	if err != nil {
		return nil, err
	}
	desc, err := pipeline.DescriptorFromJob(job)
	if err != nil {
		return nil, err
	}
	return m.Orchestrator.Run(ctx, desc, m.cfg.Worker.HostID+"-inline")
}

// NewWorker returns a poller feeding a pool sized from the worker config.
func (m *Module) NewWorker() *service.Worker {
	pool := utils.NewWorkerPool(m.cfg.Worker.HostID, m.cfg.Worker.Count)
	return service.NewWorker(m.Store, m.Orchestrator, pool, m.cfg.Worker.PollInterval, m.logger)
}

// NewSpool returns the spool intake for the configured spool directory.
func (m *Module) NewSpool() *intake.Spool {
	return intake.NewSpool(intake.Config{
		SpoolDir: m.cfg.Paths.SpoolDir,
		WorkDir:  m.cfg.Paths.WorkDir,
		UserID:   "spool",
		Defaults: m.DefaultOptions(),
	}, m.Orchestrator, m.logger)
}

// Serve runs the worker, and the spool intake when enabled, until ctx is
// cancelled.
func (m *Module) Serve(ctx context.Context) error {
	if err := m.Init(); err != nil {
		return err
	}

	if m.cfg.Worker.WatchSpool {
		spool := m.NewSpool()
		if err := spool.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := spool.Stop(); err != nil {
				m.logger.Warn("failed to stop spool watcher", "error", err)
			}
		}()
	}

	return m.NewWorker().Run(ctx)
}
