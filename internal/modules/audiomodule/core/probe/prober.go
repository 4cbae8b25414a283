// Package probe inspects audio files with ffprobe.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/ffmpeg"
	aferrors "github.com/mantonx/audioforge/internal/modules/audiomodule/errors"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/types"
)

// losslessMarkers is matched case-insensitively against codec and container names.
var losslessMarkers = []string{"pcm", "flac", "alac", "aiff", "wavpack", "tta"}

// ProbeResult contains the subset of ffprobe's JSON output we read
type ProbeResult struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
		BitRate    string `json:"bit_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
}

// Prober uses ffprobe to describe audio files
type Prober struct {
	runner *ffmpeg.Runner
	logger hclog.Logger
}

// NewProber creates a new prober
func NewProber(runner *ffmpeg.Runner, logger hclog.Logger) *Prober {
	return &Prober{
		runner: runner,
		logger: logger.Named("prober"),
	}
}

// Probe describes the first audio stream of path.
func (p *Prober) Probe(ctx context.Context, path string) (*types.AudioDescriptor, error) {
	stdout, _, err := p.runner.FFprobe(ctx,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-select_streams", "a:0",
		path,
	)
	if err != nil {
		return nil, aferrors.ProbeError("probe", err).WithDetail("path", path).WithDetail("stderr", ffmpeg.StderrTail(err))
	}

	var result ProbeResult
	if err := json.Unmarshal(stdout, &result); err != nil {
		return nil, aferrors.ProbeError("probe", fmt.Errorf("failed to parse ffprobe output: %w", err)).WithDetail("path", path)
	}

	desc, err := describe(&result)
	if err != nil {
		return nil, aferrors.ProbeError("probe", err).WithDetail("path", path)
	}
	desc.Extension = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")

	p.logger.Debug("probed file",
		"path", path,
		"codec", desc.Codec,
		"container", desc.Container,
		"sample_rate", desc.SampleRate,
		"channels", desc.Channels,
		"lossless", desc.IsLossless)

	return desc, nil
}

func describe(result *ProbeResult) (*types.AudioDescriptor, error) {
	for _, s := range result.Streams {
		if s.CodecType != "audio" {
			continue
		}

		desc := &types.AudioDescriptor{
			Codec:     s.CodecName,
			Container: result.Format.FormatName,
			Channels:  s.Channels,
		}
		if rate, err := strconv.Atoi(s.SampleRate); err == nil {
			desc.SampleRate = rate
		}
		if br := firstInt(s.BitRate, result.Format.BitRate); br != nil {
			desc.Bitrate = br
		}
		for _, d := range []string{s.Duration, result.Format.Duration} {
			if v, err := strconv.ParseFloat(d, 64); err == nil {
				desc.Duration = v
				break
			}
		}
		desc.IsLossless = IsLossless(desc.Codec, desc.Container)
		return desc, nil
	}
	return nil, aferrors.ErrNoAudioStream
}

// IsLossless applies the fixed allow-list to a codec/container pair.
func IsLossless(codec, container string) bool {
	haystack := strings.ToLower(codec + " " + container)
	for _, marker := range losslessMarkers {
		if strings.Contains(haystack, marker) {
			return true
		}
	}
	return false
}

// IsLosslessFormat reports whether an export format is lossless.
func IsLosslessFormat(format string) bool {
	return types.LosslessOutputFormats[strings.ToLower(format)]
}

func firstInt(values ...string) *int64 {
	for _, v := range values {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return &n
		}
	}
	return nil
}
