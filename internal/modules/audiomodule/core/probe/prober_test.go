package probe

import (
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/ffmpeg"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/ffmpeg/ffmpegtest"
	aferrors "github.com/mantonx/audioforge/internal/modules/audiomodule/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wavProbe = `{
  "streams": [{"codec_type": "audio", "codec_name": "pcm_s16le", "sample_rate": "48000", "channels": 2, "bit_rate": "1536000", "duration": "12.500000"}],
  "format": {"format_name": "wav", "duration": "12.500000", "bit_rate": "1536088"}
}`

const m4aProbe = `{
  "streams": [{"codec_type": "audio", "codec_name": "aac", "sample_rate": "44100", "channels": 2, "bit_rate": "256000"}],
  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "200.1"}
}`

func newTestProber(handler ffmpegtest.Handler) (*Prober, *ffmpegtest.MockCommandRunner) {
	mock := ffmpegtest.NewMockCommandRunner(handler)
	runner := ffmpeg.NewRunnerWithExecutor(hclog.NewNullLogger(), mock, ffmpeg.Config{})
	return NewProber(runner, hclog.NewNullLogger()), mock
}

func TestProbe_LosslessWav(t *testing.T) {
	prober, mock := newTestProber(func(call ffmpegtest.Call) ([]byte, []byte, error) {
		return []byte(wavProbe), nil, nil
	})

	desc, err := prober.Probe(context.Background(), "/work/song.WAV")
	require.NoError(t, err)

	assert.Equal(t, "pcm_s16le", desc.Codec)
	assert.Equal(t, "wav", desc.Container)
	assert.Equal(t, 48000, desc.SampleRate)
	assert.Equal(t, 2, desc.Channels)
	require.NotNil(t, desc.Bitrate)
	assert.Equal(t, int64(1536000), *desc.Bitrate)
	assert.Equal(t, 12.5, desc.Duration)
	assert.True(t, desc.IsLossless)
	assert.Equal(t, "wav", desc.Extension)

	calls := mock.CallsTo("ffprobe")
	require.Len(t, calls, 1)
	assert.Equal(t, "/work/song.WAV", calls[0].LastArg())
	assert.Equal(t, "a:0", calls[0].ArgAfter("-select_streams"))
}

func TestProbe_LossyM4a(t *testing.T) {
	prober, _ := newTestProber(func(call ffmpegtest.Call) ([]byte, []byte, error) {
		return []byte(m4aProbe), nil, nil
	})

	desc, err := prober.Probe(context.Background(), "/work/song.m4a")
	require.NoError(t, err)
	assert.False(t, desc.IsLossless)
	assert.Equal(t, 200.1, desc.Duration)
}

func TestProbe_Failures(t *testing.T) {
	tests := []struct {
		name    string
		stdout  string
		err     error
		matches error
	}{
		{"tool failure", "", errors.New("exit status 1"), aferrors.ErrToolFailed},
		{"no audio stream", `{"streams": [{"codec_type": "video", "codec_name": "mjpeg"}], "format": {"format_name": "image2"}}`, nil, aferrors.ErrNoAudioStream},
		{"garbage", "not json", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober, _ := newTestProber(func(call ffmpegtest.Call) ([]byte, []byte, error) {
				return []byte(tt.stdout), []byte("boom"), tt.err
			})

			_, err := prober.Probe(context.Background(), "/work/broken.mp3")
			require.Error(t, err)
			assert.Equal(t, aferrors.ErrorTypeProbe, aferrors.GetType(err))
			if tt.matches != nil {
				assert.True(t, errors.Is(err, tt.matches))
			}
		})
	}
}

func TestIsLossless(t *testing.T) {
	tests := []struct {
		codec, container string
		lossless         bool
	}{
		{"pcm_s24le", "wav", true},
		{"FLAC", "flac", true},
		{"alac", "mov,mp4,m4a,3gp,3g2,mj2", true},
		{"pcm_s16be", "aiff", true},
		{"wavpack", "wv", true},
		{"tta", "tta", true},
		{"mp3", "mp3", false},
		{"aac", "mov,mp4,m4a,3gp,3g2,mj2", false},
		{"vorbis", "ogg", false},
		{"opus", "ogg", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.lossless, IsLossless(tt.codec, tt.container), "%s/%s", tt.codec, tt.container)
	}

	assert.True(t, IsLosslessFormat("FLAC"))
	assert.False(t, IsLosslessFormat("mp3"))
}
