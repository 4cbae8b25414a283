package audiomodule

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/audioforge/internal/config"
	"github.com/mantonx/audioforge/internal/database"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/ffmpeg"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/ffmpeg/ffmpegtest"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wavProbe = `{"streams":[{"codec_type":"audio","codec_name":"pcm_s16le","sample_rate":"44100","channels":2,"duration":"2.000000"}],"format":{"format_name":"wav","duration":"2.000000"}}`

func sineF32(seconds float64) []byte {
	const rate = 44100
	amp := math.Pow(10, -12.0/20)
	var buf bytes.Buffer
	for i := 0; i < int(seconds*rate); i++ {
		v := float32(amp * math.Sin(2*math.Pi*440*float64(i)/rate))
		binary.Write(&buf, binary.LittleEndian, v)
		binary.Write(&buf, binary.LittleEndian, v)
	}
	return buf.Bytes()
}

func newTestModule(t *testing.T) (*Module, *ffmpegtest.MockCommandRunner, *config.Config) {
	t.Helper()
	root := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Paths.WorkDir = filepath.Join(root, "work")
	cfg.Paths.OutputDir = filepath.Join(root, "uploads")
	cfg.Paths.SpoolDir = filepath.Join(root, "spool")
	cfg.Paths.PublicURLPrefix = "/uploads"
	cfg.Worker.HostID = "host"
	cfg.Worker.Count = 1

	db, err := database.Open(config.DatabaseConfig{Type: "sqlite"}, hclog.NewNullLogger())
	require.NoError(t, err)

	decoded := sineF32(2)
	mock := ffmpegtest.NewMockCommandRunner(func(call ffmpegtest.Call) ([]byte, []byte, error) {
		switch {
		case call.Tool() == "ffprobe":
			return []byte(wavProbe), nil, nil
		case call.Has("pipe:1"):
			return decoded, nil, nil
		default:
			return nil, nil, os.WriteFile(call.LastArg(), bytes.Repeat([]byte{0xFF, 0xFB, 0x90, 0x64}, 64), 0644)
		}
	})
	runner := ffmpeg.NewRunnerWithExecutor(hclog.NewNullLogger(), mock, ffmpeg.Config{})

	m := NewModuleWithRunner(cfg, db, runner, hclog.NewNullLogger())
	require.NoError(t, m.Init())
	return m, mock, cfg
}

func writeInput(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("RIFF....WAVE"), 0644))
	return path
}

func TestInit_CreatesDirectories(t *testing.T) {
	_, _, cfg := newTestModule(t)

	assert.DirExists(t, cfg.Paths.WorkDir)
	assert.DirExists(t, cfg.Paths.OutputDir)
	assert.DirExists(t, cfg.Paths.SpoolDir)
}

func TestDefaultOptions(t *testing.T) {
	m, _, cfg := newTestModule(t)

	assert.Equal(t, map[string]interface{}{"format": "mp3"}, m.DefaultOptions())

	cfg.Processing.DefaultPreset = "spotify"
	cfg.Processing.LimitTruePeak = true
	assert.Equal(t, map[string]interface{}{
		"format":          "mp3",
		"lufs_preset":     "spotify",
		"limit_true_peak": true,
	}, m.DefaultOptions())

	cfg.Processing.DefaultPreset = "custom"
	cfg.Processing.LimitTruePeak = false
	assert.Equal(t, true, m.DefaultOptions()["normalize"])

	opts, err := types.ParseOptions(m.DefaultOptions())
	require.NoError(t, err)
	require.NotNil(t, opts.TargetLUFS)
	assert.Equal(t, types.DefaultCustomTarget, *opts.TargetLUFS)
}

func TestSubmit_CopiesAndQueues(t *testing.T) {
	m, mock, cfg := newTestModule(t)
	input := writeInput(t, "Demo.wav")

	job, err := m.Submit(context.Background(), input, "user-1", map[string]interface{}{"format": "flac"})
	require.NoError(t, err)

	assert.Equal(t, database.JobStatusQueued, job.Status)
	assert.Equal(t, "Demo.wav", job.OriginalFilename)
	assert.Equal(t, filepath.Join(cfg.Paths.WorkDir, job.ID+".wav"), job.SourcePath)
	assert.FileExists(t, job.SourcePath)
	assert.FileExists(t, input)

	opts, err := job.GetOptions()
	require.NoError(t, err)
	assert.Equal(t, "flac", opts["format"])
	assert.Empty(t, mock.Calls())
}

func TestSubmit_InvalidOptionsLeaveNoStagedFile(t *testing.T) {
	m, _, cfg := newTestModule(t)
	input := writeInput(t, "Demo.wav")

	_, err := m.Submit(context.Background(), input, "user-1", map[string]interface{}{"lufs_preset": "loudest"})
	require.Error(t, err)

	entries, err := os.ReadDir(cfg.Paths.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSubmit_MissingFile(t *testing.T) {
	m, _, _ := newTestModule(t)

	_, err := m.Submit(context.Background(), filepath.Join(t.TempDir(), "nope.wav"), "user-1", nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestProcess_RunsInline(t *testing.T) {
	m, mock, cfg := newTestModule(t)
	input := writeInput(t, "Demo.wav")

	result, err := m.Process(context.Background(), input, "user-1", nil)
	require.NoError(t, err)

	assert.Regexp(t, `^Demo-[0-9a-f]{8}\.mp3$`, result.ProcessedFilename)
	assert.Equal(t, "/uploads/"+result.ProcessedFilename, result.ProcessedFileURL)
	assert.FileExists(t, filepath.Join(cfg.Paths.OutputDir, result.ProcessedFilename))
	assert.FileExists(t, input)
	assert.InDelta(t, 2.0, result.DurationSeconds, 0.01)
	assert.NotEmpty(t, mock.CallsTo("ffprobe"))

	stats, err := m.Store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[database.JobStatusCompleted])

	queued, err := m.Store.ListQueued(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, queued)
}
