package loudness

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavFormatPCM is the WAVE_FORMAT_PCM tag; other encodings are decoded by ffmpeg.
const wavFormatPCM = 1

// errNotPCM marks WAV files go-audio cannot decode as integer PCM.
var errNotPCM = errors.New("not an integer PCM wav")

// Buffer holds planar float samples in [-1, 1].
type Buffer struct {
	SampleRate int
	Samples    [][]float64
}

// NewBuffer allocates a silent buffer.
func NewBuffer(sampleRate, channels, frames int) *Buffer {
	samples := make([][]float64, channels)
	for i := range samples {
		samples[i] = make([]float64, frames)
	}
	return &Buffer{SampleRate: sampleRate, Samples: samples}
}

// Channels returns the channel count.
func (b *Buffer) Channels() int { return len(b.Samples) }

// Frames returns the number of samples per channel.
func (b *Buffer) Frames() int {
	if len(b.Samples) == 0 {
		return 0
	}
	return len(b.Samples[0])
}

// Duration returns the length in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate == 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Peak returns the largest absolute sample value.
func (b *Buffer) Peak() float64 {
	var peak float64
	for _, ch := range b.Samples {
		for _, v := range ch {
			if a := math.Abs(v); a > peak {
				peak = a
			}
		}
	}
	return peak
}

// PeakDB returns the sample peak in dBFS; an all-zero buffer is -Inf.
func (b *Buffer) PeakDB() float64 {
	return amplitudeToDB(b.Peak())
}

// ApplyGain scales every sample by gainDB.
func (b *Buffer) ApplyGain(gainDB float64) {
	factor := math.Pow(10, gainDB/20)
	for _, ch := range b.Samples {
		for i := range ch {
			ch[i] *= factor
		}
	}
}

// TrimSilence drops leading and trailing frames whose every channel is below
// thresholdDB. A fully silent buffer is left untouched.
func (b *Buffer) TrimSilence(thresholdDB float64) {
	limit := math.Pow(10, thresholdDB/20)
	loud := func(i int) bool {
		for _, ch := range b.Samples {
			if math.Abs(ch[i]) > limit {
				return true
			}
		}
		return false
	}

	frames := b.Frames()
	start := 0
	for start < frames && !loud(start) {
		start++
	}
	if start == frames {
		return
	}
	end := frames
	for end > start && !loud(end-1) {
		end--
	}
	for i, ch := range b.Samples {
		b.Samples[i] = ch[start:end]
	}
}

// FadeIn applies a linear ramp over the first seconds of audio.
func (b *Buffer) FadeIn(seconds float64) {
	n := b.fadeFrames(seconds)
	for _, ch := range b.Samples {
		for i := 0; i < n; i++ {
			ch[i] *= float64(i) / float64(n)
		}
	}
}

// FadeOut applies a linear ramp over the last seconds of audio.
func (b *Buffer) FadeOut(seconds float64) {
	n := b.fadeFrames(seconds)
	frames := b.Frames()
	for _, ch := range b.Samples {
		for i := 0; i < n; i++ {
			ch[frames-n+i] *= float64(n-1-i) / float64(n)
		}
	}
}

func (b *Buffer) fadeFrames(seconds float64) int {
	n := int(math.Round(seconds * float64(b.SampleRate)))
	if n > b.Frames() {
		n = b.Frames()
	}
	if n < 0 {
		n = 0
	}
	return n
}

// ReadWAV decodes an integer PCM WAV file into a Buffer.
func ReadWAV(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid WAV file", errNotPCM)
	}
	if decoder.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: format tag %d", errNotPCM, decoder.WavAudioFormat)
	}

	ib, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("could not read PCM buffer: %w", err)
	}
	if ib.Format == nil || ib.Format.NumChannels == 0 {
		return nil, fmt.Errorf("%w: missing format chunk", errNotPCM)
	}

	bitDepth := ib.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(decoder.BitDepth)
	}
	return fromIntBuffer(ib, bitDepth), nil
}

func fromIntBuffer(ib *audio.IntBuffer, bitDepth int) *Buffer {
	channels := ib.Format.NumChannels
	frames := len(ib.Data) / channels
	buf := NewBuffer(ib.Format.SampleRate, channels, frames)

	// 8-bit WAV is unsigned
	offset := 0
	if bitDepth == 8 {
		offset = 128
	}
	scale := math.Pow(2, float64(bitDepth-1))
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			buf.Samples[ch][i] = float64(ib.Data[i*channels+ch]-offset) / scale
		}
	}
	return buf
}

// WriteWAV encodes buf as integer PCM with the given bit depth. Samples
// outside [-1, 1] are clipped.
func WriteWAV(path string, buf *Buffer, bitDepth int) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output file creation error: %w", err)
	}
	defer out.Close()

	channels := buf.Channels()
	frames := buf.Frames()
	maxVal := math.Pow(2, float64(bitDepth-1)) - 1
	data := make([]int, frames*channels)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			v := math.Max(-1, math.Min(1, buf.Samples[ch][i]))
			data[i*channels+ch] = int(math.Round(v * maxVal))
		}
	}

	ib := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: buf.SampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}

	encoder := wav.NewEncoder(out, buf.SampleRate, bitDepth, channels, wavFormatPCM)
	if err := encoder.Write(ib); err != nil {
		return fmt.Errorf("data writing error: %w", err)
	}
	return encoder.Close()
}

// FromF32LE builds a Buffer from interleaved little-endian float32 samples.
func FromF32LE(raw []byte, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("invalid stream layout: %d Hz, %d channels", sampleRate, channels)
	}
	frameBytes := 4 * channels
	frames := len(raw) / frameBytes
	buf := NewBuffer(sampleRate, channels, frames)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := i*frameBytes + ch*4
			bits := binary.LittleEndian.Uint32(raw[off : off+4])
			buf.Samples[ch][i] = float64(math.Float32frombits(bits))
		}
	}
	return buf, nil
}

func amplitudeToDB(a float64) float64 {
	if a <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(a)
}
