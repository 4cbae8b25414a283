package loudness

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeter_ReferenceSine(t *testing.T) {
	// A 1 kHz stereo sine at -23 dBFS reads -23 LUFS.
	for _, rate := range []int{44100, 48000} {
		buf := sineBuffer(rate, 2, 10, 1000, -23)
		got := NewMeter(rate).IntegratedLoudness(buf)
		assert.InDelta(t, -23.0, got, 0.3, "rate %d", rate)
	}
}

func TestMeter_GainIsLinearInDB(t *testing.T) {
	quiet := sineBuffer(48000, 2, 5, 1000, -30)
	loud := sineBuffer(48000, 2, 5, 1000, -30)
	loud.ApplyGain(20 * math.Log10(2))

	m := NewMeter(48000)
	assert.InDelta(t, 6.02, m.IntegratedLoudness(loud)-m.IntegratedLoudness(quiet), 0.05)
}

func TestMeter_MonoIsThreeDBBelowStereo(t *testing.T) {
	mono := sineBuffer(48000, 1, 5, 1000, -20)
	stereo := sineBuffer(48000, 2, 5, 1000, -20)

	m := NewMeter(48000)
	assert.InDelta(t, 3.01, m.IntegratedLoudness(stereo)-m.IntegratedLoudness(mono), 0.05)
}

func TestMeter_Silence(t *testing.T) {
	m := NewMeter(44100)
	assert.True(t, math.IsInf(m.IntegratedLoudness(NewBuffer(44100, 2, 44100*3)), -1))
	assert.True(t, math.IsInf(m.IntegratedLoudness(sineBuffer(44100, 2, 0.2, 1000, -10)), -1), "shorter than one block")
	assert.True(t, math.IsInf(m.IntegratedLoudness(nil), -1))
}

func TestMeter_RelativeGateIgnoresQuietTail(t *testing.T) {
	loud := sineBuffer(48000, 2, 5, 1000, -20)
	quiet := sineBuffer(48000, 2, 5, 1000, -50)

	joined := NewBuffer(48000, 2, 0)
	for ch := range joined.Samples {
		joined.Samples[ch] = append(append([]float64{}, loud.Samples[ch]...), quiet.Samples[ch]...)
	}

	m := NewMeter(48000)
	assert.InDelta(t, m.IntegratedLoudness(loud), m.IntegratedLoudness(joined), 0.2)
}

func TestChannelWeight(t *testing.T) {
	assert.Equal(t, 1.0, channelWeight(0))
	assert.Equal(t, 1.0, channelWeight(2))
	assert.Equal(t, 1.41, channelWeight(3))
	assert.Equal(t, 1.41, channelWeight(4))
	assert.Equal(t, 1.0, channelWeight(5))
}
