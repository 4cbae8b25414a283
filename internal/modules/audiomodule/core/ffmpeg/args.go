package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mantonx/audioforge/internal/modules/audiomodule/types"
)

// SilenceThreshold is the level below which leading/trailing audio is trimmed.
const SilenceThreshold = "-60dB"

// Default lossy bitrates when the job does not request one.
var defaultBitrates = map[string]string{
	"mp3": "320k",
	"m4a": "256k",
	"ogg": "192k",
}

// EncoderArgs returns the codec arguments for the export format.
func EncoderArgs(spec types.OutputSpec) []string {
	switch spec.Format {
	case "mp3":
		return []string{"-c:a", "libmp3lame", "-b:a", bitrateOrDefault(spec)}
	case "m4a":
		return []string{"-c:a", "aac", "-b:a", bitrateOrDefault(spec), "-movflags", "+faststart"}
	case "ogg":
		return []string{"-c:a", "libvorbis", "-b:a", bitrateOrDefault(spec)}
	case "wav":
		return []string{"-c:a", pcmCodec(spec.BitDepth, "le")}
	case "aiff":
		return []string{"-c:a", pcmCodec(spec.BitDepth, "be")}
	case "flac":
		switch spec.BitDepth {
		case "24":
			return []string{"-c:a", "flac", "-sample_fmt", "s32", "-bits_per_raw_sample", "24"}
		case "32f":
			return []string{"-c:a", "flac", "-sample_fmt", "s32"}
		default:
			return []string{"-c:a", "flac", "-sample_fmt", "s16"}
		}
	}
	return nil
}

func bitrateOrDefault(spec types.OutputSpec) string {
	if spec.Bitrate != "" {
		return spec.Bitrate
	}
	return defaultBitrates[spec.Format]
}

func pcmCodec(bitDepth, endian string) string {
	switch bitDepth {
	case "24":
		return "pcm_s24" + endian
	case "32f":
		return "pcm_f32" + endian
	default:
		return "pcm_s16" + endian
	}
}

// ResampleFilter returns the aresample stage that fixes the output rate.
// Dither is only requested when quantizing to 16-bit PCM.
func ResampleFilter(spec types.OutputSpec) string {
	rate := spec.SampleRate
	if rate == 0 {
		rate = types.OutputSampleRate
	}
	parts := []string{"aresample=" + strconv.Itoa(rate)}
	if spec.Resampler == "soxr" {
		parts = append(parts, "resampler=soxr")
	}
	if spec.DitherApplies() {
		parts = append(parts, "dither_method="+spec.DitherMethod)
	}
	return strings.Join(parts, ":")
}

// TrimFadeFilters returns the silence-trim and fade stages requested by spec.
// Tail operations run on the reversed signal so no duration is needed.
func TrimFadeFilters(spec types.OutputSpec) []string {
	var filters []string
	if spec.TrimSilence {
		trim := "silenceremove=start_periods=1:start_threshold=" + SilenceThreshold
		filters = append(filters, trim, "areverse", trim, "areverse")
	}
	if spec.FadeIn > 0 {
		filters = append(filters, "afade=t=in:st=0:d="+formatSeconds(spec.FadeIn))
	}
	if spec.FadeOut > 0 {
		filters = append(filters, "areverse", "afade=t=in:st=0:d="+formatSeconds(spec.FadeOut), "areverse")
	}
	return filters
}

// FilterChain joins non-empty filter stages.
func FilterChain(stages ...string) string {
	var kept []string
	for _, s := range stages {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, ",")
}

// ExportArgs builds a full single-input export invocation. The optional
// filters run before resampling.
func ExportArgs(input string, spec types.OutputSpec, filters ...string) []string {
	stages := append(append([]string{}, filters...), ResampleFilter(spec))
	chain := FilterChain(stages...)
	args := []string{"-i", input, "-vn", "-map", "0:a:0", "-af", chain}
	args = append(args, EncoderArgs(spec)...)
	args = append(args, "-ar", strconv.Itoa(sampleRate(spec)), spec.Path)
	return args
}

// DecodeF32Args decodes the first audio stream to interleaved float32 on stdout.
func DecodeF32Args(input string) []string {
	return []string{"-v", "error", "-i", input, "-vn", "-map", "0:a:0", "-f", "f32le", "-acodec", "pcm_f32le", "pipe:1"}
}

func sampleRate(spec types.OutputSpec) int {
	if spec.SampleRate == 0 {
		return types.OutputSampleRate
	}
	return spec.SampleRate
}

func formatSeconds(s float64) string {
	return fmt.Sprintf("%.3f", s)
}
