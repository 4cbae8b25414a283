// Package convert turns arbitrary audio inputs into the canonical PCM WAV
// working format.
package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/ffmpeg"
	aferrors "github.com/mantonx/audioforge/internal/modules/audiomodule/errors"
)

// Canonical working format.
const (
	CanonicalCodec      = "pcm_s16le"
	CanonicalSampleRate = "44100"
	CanonicalChannels   = "2"
)

// Converter produces canonical WAV files with ffmpeg
type Converter struct {
	runner  *ffmpeg.Runner
	workDir string
	logger  hclog.Logger
}

// NewConverter creates a converter writing temporary files under workDir.
func NewConverter(runner *ffmpeg.Runner, workDir string, logger hclog.Logger) *Converter {
	return &Converter{
		runner:  runner,
		workDir: workDir,
		logger:  logger.Named("converter"),
	}
}

// IsCanonical reports whether path already is a WAV file and needs no conversion.
func IsCanonical(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".wav")
}

// ToCanonical returns the path of a canonical WAV for path. WAV inputs are
// returned unchanged. For other inputs a new file is written to the work
// directory and the source is removed once the conversion succeeded.
func (c *Converter) ToCanonical(ctx context.Context, path string) (string, error) {
	if IsCanonical(path) {
		return path, nil
	}

	if err := os.MkdirAll(c.workDir, 0755); err != nil {
		return "", aferrors.ConversionError("to_canonical", fmt.Errorf("failed to create work directory: %w", err))
	}
	tmp, err := os.CreateTemp(c.workDir, "canonical-*.wav")
	if err != nil {
		return "", aferrors.ConversionError("to_canonical", fmt.Errorf("failed to create temp file: %w", err))
	}
	outPath := tmp.Name()
	tmp.Close()

	_, _, err = c.runner.FFmpeg(ctx,
		"-i", path,
		"-vn",
		"-map", "0:a:0",
		"-acodec", CanonicalCodec,
		"-ar", CanonicalSampleRate,
		"-ac", CanonicalChannels,
		outPath,
	)
	if err != nil {
		os.Remove(outPath)
		return "", aferrors.ConversionError("to_canonical", err).
			WithDetail("path", path).
			WithDetail("stderr", ffmpeg.StderrTail(err))
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		os.Remove(outPath)
		return "", aferrors.ConversionError("to_canonical", fmt.Errorf("%w: converter produced no output", aferrors.ErrEmptyInput)).
			WithDetail("path", path)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("failed to remove converted source", "path", path, "error", err)
	}

	c.logger.Info("converted to canonical wav", "source", path, "output", outPath)
	return outPath, nil
}
