package types

// Strategy selects the loudness algorithm.
type Strategy string

const (
	StrategyTwoPass    Strategy = "two-pass-filter"
	StrategyDirectGain Strategy = "direct-gain"
	StrategyNone       Strategy = "none"
)

const (
	// TruePeakCeiling is the fixed dBTP ceiling for the two-pass filter.
	TruePeakCeiling = -1.0
	// LoudnessRangeTarget is the fixed LRA target for the two-pass filter.
	LoudnessRangeTarget = 7.0
	// OutputSampleRate is the rate every export is resampled to.
	OutputSampleRate = 44100
)

// NormalizationPlan is derived from options once per job.
type NormalizationPlan struct {
	TargetLUFS      *float64 `json:"target_lufs,omitempty"`
	LimitTruePeak   bool     `json:"limit_true_peak"`
	TruePeakCeiling float64  `json:"true_peak_ceiling"`
	LoudnessRange   float64  `json:"loudness_range"`
	Strategy        Strategy `json:"strategy"`
}

// NewPlan derives the strategy. Two-pass requires both a target and limiting.
func NewPlan(target *float64, limitTruePeak bool) NormalizationPlan {
	plan := NormalizationPlan{
		TargetLUFS:      target,
		LimitTruePeak:   limitTruePeak,
		TruePeakCeiling: TruePeakCeiling,
		LoudnessRange:   LoudnessRangeTarget,
		Strategy:        StrategyNone,
	}
	switch {
	case target != nil && limitTruePeak:
		plan.Strategy = StrategyTwoPass
	case target != nil:
		plan.Strategy = StrategyDirectGain
	}
	return plan
}

// OutputSpec describes the file the loudness engine must produce.
type OutputSpec struct {
	Format       string  `json:"format"`
	Path         string  `json:"path"`
	BitDepth     string  `json:"bit_depth"`
	Bitrate      string  `json:"bitrate"`
	Resampler    string  `json:"resampler"`
	DitherMethod string  `json:"dither_method"`
	SampleRate   int     `json:"sample_rate"`
	TrimSilence  bool    `json:"trim_silence"`
	FadeIn       float64 `json:"fade_in"`
	FadeOut      float64 `json:"fade_out"`
}

// NewOutputSpec builds the export description for path from resolved options.
func NewOutputSpec(opts *Options, path string) OutputSpec {
	return OutputSpec{
		Format:       opts.Format,
		Path:         path,
		BitDepth:     opts.BitDepth,
		Bitrate:      opts.Bitrate,
		Resampler:    opts.Resampler,
		DitherMethod: opts.DitherMethod,
		SampleRate:   OutputSampleRate,
		TrimSilence:  opts.TrimSilence,
		FadeIn:       opts.FadeIn,
		FadeOut:      opts.FadeOut,
	}
}

// IsLossless reports whether the export format keeps every sample.
func (s OutputSpec) IsLossless() bool {
	return LosslessOutputFormats[s.Format]
}

// DitherApplies reports whether dithering is part of the export. Dither only
// matters when quantizing to 16-bit PCM.
func (s OutputSpec) DitherApplies() bool {
	return s.DitherMethod != "" && s.DitherMethod != "none" && s.BitDepth == "16" && s.IsLossless()
}
