package loudness

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/ffmpeg"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/ffmpeg/ffmpegtest"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/probe"
	"github.com/stretchr/testify/require"
)

// sineBuffer builds a sine of the given peak level on every channel.
func sineBuffer(rate, channels int, seconds, freq, peakDB float64) *Buffer {
	frames := int(seconds * float64(rate))
	buf := NewBuffer(rate, channels, frames)
	amp := math.Pow(10, peakDB/20)
	for i := 0; i < frames; i++ {
		v := amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
		for ch := 0; ch < channels; ch++ {
			buf.Samples[ch][i] = v
		}
	}
	return buf
}

func toF32LE(buf *Buffer) []byte {
	out := make([]byte, 0, buf.Frames()*buf.Channels()*4)
	tmp := make([]byte, 4)
	for i := 0; i < buf.Frames(); i++ {
		for ch := 0; ch < buf.Channels(); ch++ {
			binary.LittleEndian.PutUint32(tmp, math.Float32bits(float32(buf.Samples[ch][i])))
			out = append(out, tmp...)
		}
	}
	return out
}

func probeJSON(rate, channels int) []byte {
	return []byte(fmt.Sprintf(`{"streams":[{"codec_type":"audio","codec_name":"pcm_s16le","sample_rate":"%d","channels":%d}],"format":{"format_name":"wav"}}`,
		rate, channels))
}

func newTestEngine(t *testing.T, handler ffmpegtest.Handler) (*Engine, *ffmpegtest.MockCommandRunner) {
	mock := ffmpegtest.NewMockCommandRunner(handler)
	runner := ffmpeg.NewRunnerWithExecutor(hclog.NewNullLogger(), mock, ffmpeg.Config{})
	prober := probe.NewProber(runner, hclog.NewNullLogger())
	return NewEngine(runner, prober, t.TempDir(), hclog.NewNullLogger()), mock
}

// copyInputToOutput simulates an ffmpeg export that leaves samples untouched.
func copyInputToOutput(call ffmpegtest.Call) error {
	data, err := os.ReadFile(call.ArgAfter("-i"))
	if err != nil {
		return err
	}
	return os.WriteFile(call.LastArg(), data, 0644)
}

func requireFinite(t *testing.T, v float64) {
	t.Helper()
	require.False(t, math.IsInf(v, 0) || math.IsNaN(v), "expected finite value, got %v", v)
}
