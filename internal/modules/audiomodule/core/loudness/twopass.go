package loudness

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/ffmpeg"
	aferrors "github.com/mantonx/audioforge/internal/modules/audiomodule/errors"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/types"
)

// silenceSentinel replaces -inf measurements fed back into loudnorm.
const silenceSentinel = -99.0

// reportKeys must all be present in a loudnorm analysis report.
var reportKeys = []string{"input_i", "input_tp", "input_lra", "input_thresh", "target_offset"}

// LoudnormReport holds the pass-1 measurements after clamping.
type LoudnormReport struct {
	InputI       float64
	InputTP      float64
	InputLRA     float64
	InputThresh  float64
	TargetOffset float64
}

// ParseLoudnormReport extracts the JSON analysis block from loudnorm's
// diagnostic output. The block is the outermost brace pair closed by the
// last '}' in the stream.
func ParseLoudnormReport(stderr string) (*LoudnormReport, error) {
	end := strings.LastIndex(stderr, "}")
	if end < 0 {
		return nil, fmt.Errorf("%w: no report in output", aferrors.ErrMalformedReport)
	}
	start := -1
	depth := 0
	for i := end; i >= 0; i-- {
		switch stderr[i] {
		case '}':
			depth++
		case '{':
			depth--
		}
		if depth == 0 {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, fmt.Errorf("%w: unbalanced braces", aferrors.ErrMalformedReport)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(stderr[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", aferrors.ErrMalformedReport, err)
	}

	values := make(map[string]float64, len(reportKeys))
	for _, key := range reportKeys {
		v, ok := raw[key]
		if !ok {
			return nil, fmt.Errorf("%w: missing %s", aferrors.ErrMalformedReport, key)
		}
		f, err := reportFloat(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", aferrors.ErrMalformedReport, key, err)
		}
		values[key] = f
	}

	report := &LoudnormReport{
		InputI:       clampSilence(values["input_i"]),
		InputTP:      clampSilence(values["input_tp"]),
		InputLRA:     values["input_lra"],
		InputThresh:  clampSilence(values["input_thresh"]),
		TargetOffset: values["target_offset"],
	}
	if math.IsInf(report.TargetOffset, 0) || math.IsNaN(report.TargetOffset) {
		report.TargetOffset = 0.0
	}
	if math.IsInf(report.InputLRA, 0) || math.IsNaN(report.InputLRA) {
		report.InputLRA = 0.0
	}
	return report, nil
}

func reportFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	}
	return 0, fmt.Errorf("unexpected value %v", v)
}

func clampSilence(v float64) float64 {
	if math.IsInf(v, -1) || math.IsNaN(v) {
		return silenceSentinel
	}
	return v
}

// AnalysisFilter is the pass-1 loudnorm stage.
func AnalysisFilter(plan types.NormalizationPlan) string {
	return fmt.Sprintf("loudnorm=I=%s:TP=%s:LRA=%s:print_format=json",
		formatDB(*plan.TargetLUFS), formatDB(plan.TruePeakCeiling), formatDB(plan.LoudnessRange))
}

// ApplyFilter is the pass-2 loudnorm stage that applies a single linear gain
// from the pass-1 measurements.
func ApplyFilter(plan types.NormalizationPlan, r *LoudnormReport) string {
	return fmt.Sprintf("loudnorm=I=%s:TP=%s:LRA=%s:measured_I=%s:measured_TP=%s:measured_LRA=%s:measured_thresh=%s:offset=%s:linear=true:print_format=summary",
		formatDB(*plan.TargetLUFS), formatDB(plan.TruePeakCeiling), formatDB(plan.LoudnessRange),
		formatDB(r.InputI), formatDB(r.InputTP), formatDB(r.InputLRA), formatDB(r.InputThresh), formatDB(r.TargetOffset))
}

func formatDB(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// twoPass measures with loudnorm, then re-runs it with the measurements in
// linear mode, exporting in the same invocation.
func (e *Engine) twoPass(ctx context.Context, input string, plan types.NormalizationPlan, spec types.OutputSpec) error {
	pre := ffmpeg.TrimFadeFilters(spec)

	analysis := ffmpeg.FilterChain(append(append([]string{}, pre...), AnalysisFilter(plan))...)
	_, stderr, err := e.runner.FFmpeg(ctx, "-i", input, "-vn", "-map", "0:a:0", "-af", analysis, "-f", "null", "-")
	if err != nil {
		return aferrors.NormalizationError("loudnorm_analysis", err).WithDetail("stderr", ffmpeg.StderrTail(err))
	}

	report, err := ParseLoudnormReport(string(stderr))
	if err != nil {
		return aferrors.NormalizationError("loudnorm_analysis", err).WithDetail("stderr", tailString(string(stderr), 2048))
	}
	e.logger.Debug("loudnorm analysis",
		"input_i", report.InputI,
		"input_tp", report.InputTP,
		"input_lra", report.InputLRA,
		"input_thresh", report.InputThresh,
		"target_offset", report.TargetOffset)

	filters := append(append([]string{}, pre...), ApplyFilter(plan, report))
	if _, _, err := e.runner.FFmpeg(ctx, ffmpeg.ExportArgs(input, spec, filters...)...); err != nil {
		return aferrors.NormalizationError("loudnorm_apply", err).WithDetail("stderr", ffmpeg.StderrTail(err))
	}
	return nil
}

func tailString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
