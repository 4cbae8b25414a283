package loudness

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/ffmpeg"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/probe"
	aferrors "github.com/mantonx/audioforge/internal/modules/audiomodule/errors"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/types"
)

// Engine normalizes canonical input files and measures finished outputs.
type Engine struct {
	runner  *ffmpeg.Runner
	prober  *probe.Prober
	workDir string
	logger  hclog.Logger
}

// NewEngine creates a loudness engine. Intermediate files go to workDir.
func NewEngine(runner *ffmpeg.Runner, prober *probe.Prober, workDir string, logger hclog.Logger) *Engine {
	return &Engine{
		runner:  runner,
		prober:  prober,
		workDir: workDir,
		logger:  logger.Named("loudness"),
	}
}

// Normalize produces spec.Path from canonicalPath according to plan.
// A failed run removes any partial output.
func (e *Engine) Normalize(ctx context.Context, canonicalPath string, plan types.NormalizationPlan, spec types.OutputSpec) (string, error) {
	if spec.Path == "" {
		return "", aferrors.NormalizationError("normalize", fmt.Errorf("%w: no output path", aferrors.ErrInvalidOptions))
	}
	if plan.Strategy != types.StrategyNone && plan.TargetLUFS == nil {
		return "", aferrors.NormalizationError("normalize", fmt.Errorf("%w: strategy %s without target", aferrors.ErrInvalidOptions, plan.Strategy))
	}
	if err := os.MkdirAll(e.workDir, 0755); err != nil {
		return "", aferrors.NormalizationError("normalize", err)
	}

	e.logger.Info("normalizing", "input", canonicalPath, "output", spec.Path, "strategy", plan.Strategy, "format", spec.Format)

	var err error
	switch plan.Strategy {
	case types.StrategyTwoPass:
		err = e.twoPass(ctx, canonicalPath, plan, spec)
	case types.StrategyDirectGain:
		err = e.directGain(ctx, canonicalPath, plan, spec)
	case types.StrategyNone:
		err = e.passthrough(ctx, canonicalPath, spec)
	default:
		err = aferrors.NormalizationError("normalize", fmt.Errorf("unknown strategy %q", plan.Strategy))
	}
	if err != nil {
		os.Remove(spec.Path)
		return "", err
	}

	if info, statErr := os.Stat(spec.Path); statErr != nil || info.Size() == 0 {
		os.Remove(spec.Path)
		return "", aferrors.NormalizationError("normalize", fmt.Errorf("%w: encoder produced no output", aferrors.ErrEmptyInput))
	}
	return spec.Path, nil
}

// passthrough re-encodes without gain; trim and fades still apply.
func (e *Engine) passthrough(ctx context.Context, input string, spec types.OutputSpec) error {
	args := ffmpeg.ExportArgs(input, spec, ffmpeg.TrimFadeFilters(spec)...)
	if _, _, err := e.runner.FFmpeg(ctx, args...); err != nil {
		return aferrors.NormalizationError("export", err).WithDetail("stderr", ffmpeg.StderrTail(err))
	}
	return nil
}

// Measure reads a finished file back and reports its integrated loudness,
// sample peak and duration.
func (e *Engine) Measure(ctx context.Context, path string) (*types.Measurement, error) {
	buf, err := e.decode(ctx, path)
	if err != nil {
		return nil, aferrors.NormalizationError("measure", err).WithDetail("path", path)
	}

	m := &types.Measurement{
		IntegratedLUFS:  types.Decibels(NewMeter(buf.SampleRate).IntegratedLoudness(buf)),
		PeakDB:          types.Decibels(buf.PeakDB()),
		DurationSeconds: buf.Duration(),
		SampleRate:      buf.SampleRate,
		Channels:        buf.Channels(),
	}
	e.logger.Info("measured output",
		"path", path,
		"lufs", float64(m.IntegratedLUFS),
		"peak_db", float64(m.PeakDB),
		"duration", m.DurationSeconds)
	return m, nil
}
