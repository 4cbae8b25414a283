package types

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// PresetLUFS maps named loudness presets to integrated loudness targets.
var PresetLUFS = map[string]float64{
	"spotify":     -14.0,
	"apple_music": -16.0,
	"youtube":     -14.0,
	"tidal":       -14.0,
	"ebu_r128":    -23.0,
}

const (
	// PresetCustom takes its target from target_lufs when normalize is set.
	PresetCustom = "custom"
	// DefaultCustomTarget is used when a custom preset has no explicit target.
	DefaultCustomTarget = -23.0
)

// OutputFormats lists the export containers we can produce.
var OutputFormats = map[string]bool{
	"mp3":  true,
	"m4a":  true,
	"ogg":  true,
	"wav":  true,
	"flac": true,
	"aiff": true,
}

// LosslessOutputFormats is the subset of OutputFormats that keeps every sample.
var LosslessOutputFormats = map[string]bool{
	"wav":  true,
	"flac": true,
	"aiff": true,
}

// DitherMethods accepted by the resampler.
var DitherMethods = map[string]bool{
	"none":                true,
	"rectangular":         true,
	"triangular":          true,
	"triangular_hp":       true,
	"lipshitz":            true,
	"shibata":             true,
	"low_shibata":         true,
	"high_shibata":        true,
	"f_weighted":          true,
	"e_weighted":          true,
	"modified_e_weighted": true,
	"improved_e_weighted": true,
}

var bitrateRe = regexp.MustCompile(`^(\d{2,3})k$`)

var knownOptionKeys = map[string]bool{
	"format":          true,
	"lufs_preset":     true,
	"target_lufs":     true,
	"normalize":       true,
	"limit_true_peak": true,
	"bit_depth":       true,
	"bitrate":         true,
	"resampler":       true,
	"dither_method":   true,
	"trim_silence":    true,
	"fade_in":         true,
	"fade_out":        true,
	"artist":          true,
	"album":           true,
	"title":           true,
	"track_number":    true,
	"isrc":            true,
	"cover_art_path":  true,
}

const maxFadeSeconds = 60.0

// TagOptions holds the textual tags to embed.
type TagOptions struct {
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
	Title       string `json:"title,omitempty"`
	TrackNumber string `json:"track_number,omitempty"`
	ISRC        string `json:"isrc,omitempty"`
}

// IsEmpty reports whether no tag value is set.
func (t TagOptions) IsEmpty() bool {
	return t == TagOptions{}
}

// Options is the typed, validated form of a job's option map.
type Options struct {
	Format        string     `json:"format"`
	Preset        string     `json:"lufs_preset,omitempty"`
	TargetLUFS    *float64   `json:"target_lufs,omitempty"`
	Normalize     bool       `json:"normalize"`
	LimitTruePeak bool       `json:"limit_true_peak"`
	BitDepth      string     `json:"bit_depth"`
	Bitrate       string     `json:"bitrate"`
	Resampler     string     `json:"resampler"`
	DitherMethod  string     `json:"dither_method"`
	TrimSilence   bool       `json:"trim_silence"`
	FadeIn        float64    `json:"fade_in"`
	FadeOut       float64    `json:"fade_out"`
	Tags          TagOptions `json:"tags"`
	CoverArtPath  string     `json:"cover_art_path,omitempty"`
}

// DefaultOptions returns the options used for keys that are absent.
func DefaultOptions() *Options {
	return &Options{
		Format:       "mp3",
		BitDepth:     "16",
		Resampler:    "swr",
		DitherMethod: "none",
	}
}

// ParseOptions validates a raw option map and resolves the loudness target.
// Unknown keys, unknown presets and impossible combinations are rejected.
func ParseOptions(raw map[string]interface{}) (*Options, error) {
	opts := DefaultOptions()

	var unknown []string
	for k := range raw {
		if !knownOptionKeys[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, NewValidationError(unknown[0], "unknown option")
	}

	var err error
	if v, ok := raw["format"]; ok {
		s, err := asString("format", v)
		if err != nil {
			return nil, err
		}
		opts.Format = strings.ToLower(s)
	}
	if !OutputFormats[opts.Format] {
		return nil, NewValidationError("format", fmt.Sprintf("unsupported output format %q", opts.Format))
	}

	if opts.Normalize, err = optionalBool(raw, "normalize"); err != nil {
		return nil, err
	}
	if opts.LimitTruePeak, err = optionalBool(raw, "limit_true_peak"); err != nil {
		return nil, err
	}
	if opts.TrimSilence, err = optionalBool(raw, "trim_silence"); err != nil {
		return nil, err
	}

	var explicitTarget *float64
	if v, ok := raw["target_lufs"]; ok && v != nil {
		f, err := asFloat("target_lufs", v)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) || f < -70 || f >= 0 {
			return nil, NewValidationError("target_lufs", "must be between -70 and 0 LUFS")
		}
		explicitTarget = &f
	}

	if v, ok := raw["lufs_preset"]; ok && v != nil {
		s, err := asString("lufs_preset", v)
		if err != nil {
			return nil, err
		}
		opts.Preset = strings.ToLower(s)
	}
	switch {
	case opts.Preset == "":
	case opts.Preset == PresetCustom:
		if opts.Normalize {
			target := DefaultCustomTarget
			if explicitTarget != nil {
				target = *explicitTarget
			}
			opts.TargetLUFS = &target
		}
	default:
		target, ok := PresetLUFS[opts.Preset]
		if !ok {
			return nil, NewValidationError("lufs_preset", fmt.Sprintf("unknown preset %q", opts.Preset))
		}
		opts.TargetLUFS = &target
	}
	if opts.LimitTruePeak && opts.TargetLUFS == nil {
		return nil, NewValidationError("limit_true_peak", "requires a loudness target")
	}

	if v, ok := raw["bit_depth"]; ok && v != nil {
		s, err := asString("bit_depth", v)
		if err != nil {
			return nil, err
		}
		opts.BitDepth = strings.ToLower(s)
	}
	switch opts.BitDepth {
	case "16", "24", "32f":
	default:
		return nil, NewValidationError("bit_depth", "must be one of 16, 24, 32f")
	}

	if v, ok := raw["bitrate"]; ok && v != nil {
		s, err := asString("bitrate", v)
		if err != nil {
			return nil, err
		}
		opts.Bitrate = strings.ToLower(s)
		m := bitrateRe.FindStringSubmatch(opts.Bitrate)
		if m == nil {
			return nil, NewValidationError("bitrate", "must look like 320k")
		}
		kbps, _ := strconv.Atoi(m[1])
		if kbps < 32 || kbps > 320 {
			return nil, NewValidationError("bitrate", "must be between 32k and 320k")
		}
	}

	if v, ok := raw["resampler"]; ok && v != nil {
		s, err := asString("resampler", v)
		if err != nil {
			return nil, err
		}
		opts.Resampler = strings.ToLower(s)
	}
	if opts.Resampler != "swr" && opts.Resampler != "soxr" {
		return nil, NewValidationError("resampler", "must be swr or soxr")
	}

	if v, ok := raw["dither_method"]; ok && v != nil {
		s, err := asString("dither_method", v)
		if err != nil {
			return nil, err
		}
		opts.DitherMethod = strings.ToLower(s)
	}
	if !DitherMethods[opts.DitherMethod] {
		return nil, NewValidationError("dither_method", fmt.Sprintf("unknown dither method %q", opts.DitherMethod))
	}

	if opts.FadeIn, err = optionalSeconds(raw, "fade_in"); err != nil {
		return nil, err
	}
	if opts.FadeOut, err = optionalSeconds(raw, "fade_out"); err != nil {
		return nil, err
	}

	tagFields := []struct {
		key string
		dst *string
	}{
		{"artist", &opts.Tags.Artist},
		{"album", &opts.Tags.Album},
		{"title", &opts.Tags.Title},
		{"track_number", &opts.Tags.TrackNumber},
		{"isrc", &opts.Tags.ISRC},
		{"cover_art_path", &opts.CoverArtPath},
	}
	for _, f := range tagFields {
		v, ok := raw[f.key]
		if !ok || v == nil {
			continue
		}
		s, err := asString(f.key, v)
		if err != nil {
			return nil, err
		}
		*f.dst = strings.TrimSpace(s)
	}

	return opts, nil
}

// Plan derives the normalization plan from the resolved target.
func (o *Options) Plan() NormalizationPlan {
	return NewPlan(o.TargetLUFS, o.LimitTruePeak)
}

func optionalBool(raw map[string]interface{}, key string) (bool, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return false, nil
	}
	return asBool(key, v)
}

func optionalSeconds(raw map[string]interface{}, key string) (float64, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, nil
	}
	f, err := asFloat(key, v)
	if err != nil {
		return 0, err
	}
	if f < 0 || f > maxFadeSeconds || math.IsNaN(f) {
		return 0, NewValidationError(key, "must be between 0 and 60 seconds")
	}
	return f, nil
}

func asString(key string, v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case int, int32, int64:
		return fmt.Sprintf("%d", t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		return "", NewValidationError(key, fmt.Sprintf("expected a string, got %T", v))
	}
}

func asBool(key string, v interface{}) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on":
			return true, nil
		case "", "0", "false", "no", "off":
			return false, nil
		}
	case float64:
		return t != 0, nil
	case int:
		return t != 0, nil
	}
	return false, NewValidationError(key, fmt.Sprintf("expected a boolean, got %v", v))
}

func asFloat(key string, v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, NewValidationError(key, "not a number")
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, NewValidationError(key, "not a number")
		}
		return f, nil
	}
	return 0, NewValidationError(key, fmt.Sprintf("expected a number, got %T", v))
}
