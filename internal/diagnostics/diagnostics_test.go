package diagnostics

import (
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/ffmpeg"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/ffmpeg/ffmpegtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want string
	}{
		{"ffmpeg", "ffmpeg version 6.1.1-3ubuntu5 Copyright (c) 2000-2023 the FFmpeg developers\nbuilt with gcc 13", "6.1.1-3ubuntu5"},
		{"ffprobe", "ffprobe version n7.0 Copyright (c) 2007-2024", "n7.0"},
		{"empty", "", ""},
		{"no version token", "something else entirely", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseVersion([]byte(tt.out)))
		})
	}
}

func TestCollect_ToolsAnswer(t *testing.T) {
	mock := ffmpegtest.NewMockCommandRunner(func(call ffmpegtest.Call) ([]byte, []byte, error) {
		return []byte(call.Tool() + " version 7.1 Copyright"), nil, nil
	})
	runner := ffmpeg.NewRunnerWithExecutor(hclog.NewNullLogger(), mock, ffmpeg.Config{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
	})

	report := Collect(context.Background(), runner, t.TempDir())

	require.Len(t, report.Tools, 2)
	assert.Equal(t, "ffmpeg", report.Tools[0].Name)
	assert.Equal(t, "7.1", report.Tools[0].Version)
	assert.Equal(t, "ffprobe", report.Tools[1].Name)
	assert.True(t, report.Healthy())

	for _, call := range mock.Calls() {
		assert.True(t, call.Has("-version"))
	}
	assert.NotZero(t, report.System.LogicalCPUs)
}

func TestCollect_MissingTool(t *testing.T) {
	mock := ffmpegtest.NewMockCommandRunner(func(call ffmpegtest.Call) ([]byte, []byte, error) {
		if call.Tool() == "ffprobe" {
			return nil, []byte("not found"), errors.New("exec: \"ffprobe\": executable file not found in $PATH")
		}
		return []byte("ffmpeg version 7.1"), nil, nil
	})
	runner := ffmpeg.NewRunnerWithExecutor(hclog.NewNullLogger(), mock, ffmpeg.Config{})

	report := Collect(context.Background(), runner, "")

	assert.False(t, report.Healthy())
	assert.True(t, report.Tools[0].OK())
	assert.False(t, report.Tools[1].OK())
	assert.Contains(t, report.Tools[1].Error, "executable file not found")
	assert.Empty(t, report.System.WorkDir)
}
