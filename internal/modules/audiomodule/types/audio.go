package types

import (
	"encoding/json"
	"math"
)

// AudioDescriptor is what the prober learned about a file.
type AudioDescriptor struct {
	Codec      string  `json:"codec"`
	Container  string  `json:"container"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Bitrate    *int64  `json:"bitrate,omitempty"`
	Duration   float64 `json:"duration"`
	IsLossless bool    `json:"is_lossless"`
	Extension  string  `json:"extension,omitempty"`
}

// Decibels is a dB or LUFS value. Negative infinity (digital silence)
// serializes as JSON null.
type Decibels float64

// NegativeInfinity is the loudness of digital silence.
var NegativeInfinity = Decibels(math.Inf(-1))

// IsFinite reports whether the value is a real number.
func (d Decibels) IsFinite() bool {
	f := float64(d)
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}

// Rounded returns the value rounded to two decimals. Non-finite values pass through.
func (d Decibels) Rounded() Decibels {
	if !d.IsFinite() {
		return d
	}
	return Decibels(math.Round(float64(d)*100) / 100)
}

// MarshalJSON implements json.Marshaler
func (d Decibels) MarshalJSON() ([]byte, error) {
	if !d.IsFinite() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(d))
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Decibels) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = NegativeInfinity
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*d = Decibels(f)
	return nil
}

// Measurement is the authoritative post-processing reading of an output file.
type Measurement struct {
	IntegratedLUFS  Decibels `json:"integrated_lufs"`
	PeakDB          Decibels `json:"peak_db"`
	DurationSeconds float64  `json:"duration_seconds"`
	SampleRate      int      `json:"sample_rate"`
	Channels        int      `json:"channels"`
}
