// Package loudness measures and normalizes programme loudness.
//
// The meter implements ITU-R BS.1770-4 integrated loudness with the EBU R128
// gating scheme: K-weighting, 400 ms blocks with 75% overlap, an absolute
// gate at -70 LUFS and a relative gate 10 LU below the ungated level.
package loudness

import (
	"math"
)

const (
	blockSeconds     = 0.4
	blockOverlap     = 0.75
	absoluteGateLUFS = -70.0
	relativeGateLU   = -10.0
	loudnessOffset   = -0.691
)

// biquad is a direct form I second-order section.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

func (q biquad) process(in []float64) []float64 {
	out := make([]float64, len(in))
	var x1, x2, y1, y2 float64
	for i, x := range in {
		y := q.b0*x + q.b1*x1 + q.b2*x2 - q.a1*y1 - q.a2*y2
		x2, x1 = x1, x
		y2, y1 = y1, y
		out[i] = y
	}
	return out
}

// highShelf models the acoustic effect of the head.
func highShelf(rate, fc, gainDB, q float64) biquad {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * fc / rate
	alpha := math.Sin(w0) / (2 * q)
	cosw := math.Cos(w0)
	sqrtA := math.Sqrt(a)

	b0 := a * ((a + 1) + (a-1)*cosw + 2*sqrtA*alpha)
	b1 := -2 * a * ((a - 1) + (a+1)*cosw)
	b2 := a * ((a + 1) + (a-1)*cosw - 2*sqrtA*alpha)
	a0 := (a + 1) - (a-1)*cosw + 2*sqrtA*alpha
	a1 := 2 * ((a - 1) - (a+1)*cosw)
	a2 := (a + 1) - (a-1)*cosw - 2*sqrtA*alpha

	return biquad{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

// highPass is the RLB weighting curve.
func highPass(rate, fc, q float64) biquad {
	w0 := 2 * math.Pi * fc / rate
	alpha := math.Sin(w0) / (2 * q)
	cosw := math.Cos(w0)

	b0 := (1 + cosw) / 2
	b1 := -(1 + cosw)
	b2 := (1 + cosw) / 2
	a0 := 1 + alpha
	a1 := -2 * cosw
	a2 := 1 - alpha

	return biquad{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

// channelWeight returns G_i for a zero-based channel index. Surround
// channels (4th and 5th) are weighted +1.5 dB.
func channelWeight(ch int) float64 {
	if ch == 3 || ch == 4 {
		return 1.41
	}
	return 1.0
}

// Meter computes integrated loudness for one sample rate. A Meter holds no
// state between calls.
type Meter struct {
	rate  float64
	shelf biquad
	hpf   biquad
}

// NewMeter creates a meter for the given sample rate.
func NewMeter(sampleRate int) *Meter {
	rate := float64(sampleRate)
	return &Meter{
		rate:  rate,
		shelf: highShelf(rate, 1500.0, 4.0, 1/math.Sqrt2),
		hpf:   highPass(rate, 38.0, 0.5),
	}
}

// IntegratedLoudness returns the gated loudness of buf in LUFS. Silence and
// inputs shorter than one block yield negative infinity.
func (m *Meter) IntegratedLoudness(buf *Buffer) float64 {
	if buf == nil || buf.Channels() == 0 {
		return math.Inf(-1)
	}

	blockLen := int(math.Round(blockSeconds * m.rate))
	hop := int(math.Round(blockSeconds * (1 - blockOverlap) * m.rate))
	frames := buf.Frames()
	if blockLen == 0 || hop == 0 || frames < blockLen {
		return math.Inf(-1)
	}
	numBlocks := (frames-blockLen)/hop + 1

	// z[i][j]: mean square of channel i in block j
	z := make([][]float64, buf.Channels())
	for ch, samples := range buf.Samples {
		weighted := m.hpf.process(m.shelf.process(samples))

		// prefix sums of squares keep block energy O(n)
		prefix := make([]float64, len(weighted)+1)
		for i, v := range weighted {
			prefix[i+1] = prefix[i] + v*v
		}

		z[ch] = make([]float64, numBlocks)
		for j := 0; j < numBlocks; j++ {
			start := j * hop
			z[ch][j] = (prefix[start+blockLen] - prefix[start]) / float64(blockLen)
		}
	}

	blockLoudness := make([]float64, numBlocks)
	for j := 0; j < numBlocks; j++ {
		var sum float64
		for ch := range z {
			sum += channelWeight(ch) * z[ch][j]
		}
		blockLoudness[j] = loudnessOffset + 10*math.Log10(sum)
	}

	gatedAbs := gate(blockLoudness, absoluteGateLUFS)
	if len(gatedAbs) == 0 {
		return math.Inf(-1)
	}
	relative := m.gatedLevel(z, gatedAbs) + relativeGateLU

	gated := gate(blockLoudness, math.Max(absoluteGateLUFS, relative))
	if len(gated) == 0 {
		return math.Inf(-1)
	}
	return m.gatedLevel(z, gated)
}

func (m *Meter) gatedLevel(z [][]float64, blocks []int) float64 {
	var sum float64
	for ch := range z {
		var mean float64
		for _, j := range blocks {
			mean += z[ch][j]
		}
		mean /= float64(len(blocks))
		sum += channelWeight(ch) * mean
	}
	return loudnessOffset + 10*math.Log10(sum)
}

func gate(levels []float64, threshold float64) []int {
	var kept []int
	for j, l := range levels {
		if l > threshold {
			kept = append(kept, j)
		}
	}
	return kept
}
