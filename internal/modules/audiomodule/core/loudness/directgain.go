package loudness

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/ffmpeg"
	aferrors "github.com/mantonx/audioforge/internal/modules/audiomodule/errors"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/types"
)

const (
	// trimThresholdDB is the level below which edge frames count as silence.
	trimThresholdDB = -60.0
	// intermediateBitDepth keeps headroom for the gain stage before export.
	intermediateBitDepth = 32
)

// directGain measures the decoded input, applies target-measured gain
// uniformly, then trims and fades in memory before exporting.
func (e *Engine) directGain(ctx context.Context, input string, plan types.NormalizationPlan, spec types.OutputSpec) error {
	buf, err := e.loadPCM(ctx, input)
	if err != nil {
		return aferrors.NormalizationError("decode", err).WithDetail("path", input)
	}

	if plan.Strategy == types.StrategyDirectGain && plan.TargetLUFS != nil {
		measured := NewMeter(buf.SampleRate).IntegratedLoudness(buf)
		if math.IsInf(measured, 0) || math.IsNaN(measured) {
			e.logger.Warn("input is silent, skipping gain", "path", input)
		} else {
			gain := *plan.TargetLUFS - measured
			buf.ApplyGain(gain)
			e.logger.Debug("applied direct gain", "measured_lufs", measured, "target_lufs", *plan.TargetLUFS, "gain_db", gain)
		}
	}

	if spec.TrimSilence {
		buf.TrimSilence(trimThresholdDB)
	}
	if spec.FadeIn > 0 {
		buf.FadeIn(spec.FadeIn)
	}
	if spec.FadeOut > 0 {
		buf.FadeOut(spec.FadeOut)
	}

	tmp, err := os.CreateTemp(e.workDir, "gain-*.wav")
	if err != nil {
		return aferrors.NormalizationError("write_intermediate", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := WriteWAV(tmpPath, buf, intermediateBitDepth); err != nil {
		return aferrors.NormalizationError("write_intermediate", err)
	}

	if _, _, err := e.runner.FFmpeg(ctx, ffmpeg.ExportArgs(tmpPath, spec)...); err != nil {
		return aferrors.NormalizationError("export", err).WithDetail("stderr", ffmpeg.StderrTail(err))
	}
	return nil
}

// loadPCM decodes integer PCM WAV natively and everything else through ffmpeg.
func (e *Engine) loadPCM(ctx context.Context, path string) (*Buffer, error) {
	buf, err := ReadWAV(path)
	if err == nil {
		return buf, nil
	}
	if !errors.Is(err, errNotPCM) {
		return nil, err
	}
	e.logger.Debug("falling back to ffmpeg decode", "path", path, "reason", err)
	return e.decode(ctx, path)
}

// decode reads any audio file into a Buffer via ffmpeg float output.
func (e *Engine) decode(ctx context.Context, path string) (*Buffer, error) {
	desc, err := e.prober.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	stdout, _, err := e.runner.FFmpeg(ctx, ffmpeg.DecodeF32Args(path)...)
	if err != nil {
		return nil, err
	}
	buf, err := FromF32LE(stdout, desc.SampleRate, desc.Channels)
	if err != nil {
		return nil, err
	}
	if buf.Frames() == 0 {
		return nil, fmt.Errorf("%w: no samples decoded from %s", aferrors.ErrEmptyInput, path)
	}
	return buf, nil
}
