// Package quality classifies the lossy/lossless transition of a job.
package quality

import (
	"fmt"
	"strings"

	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/probe"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/types"
)

// Classify compares the probed input against the requested output format.
// It returns nil only when the input could not be described.
func Classify(input *types.AudioDescriptor, outputFormat string) *types.QualityWarning {
	if input == nil {
		return nil
	}

	out := strings.ToUpper(outputFormat)
	in := strings.ToUpper(input.Codec)
	outputLossless := probe.IsLosslessFormat(outputFormat)

	switch {
	case !input.IsLossless && !outputLossless:
		return &types.QualityWarning{
			Level:   types.LevelWarning,
			Message: fmt.Sprintf("Converting lossy %s to lossy %s re-encodes already compressed audio and may further degrade quality.", in, out),
		}
	case !input.IsLossless && outputLossless:
		return &types.QualityWarning{
			Level:   types.LevelInfo,
			Message: fmt.Sprintf("The source is lossy %s. Exporting to lossless %s increases file size but does not restore lost quality.", in, out),
		}
	case input.IsLossless && !outputLossless:
		return &types.QualityWarning{
			Level:   types.LevelCaution,
			Message: fmt.Sprintf("Encoding lossless %s to lossy %s reduces quality. Keep the original for archiving.", in, out),
		}
	default:
		return &types.QualityWarning{
			Level:   types.LevelOK,
			Message: fmt.Sprintf("Lossless %s to lossless %s: quality is preserved.", in, out),
		}
	}
}
