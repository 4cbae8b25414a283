package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, filepath.Join("./data", "audioforge.db"), cfg.Database.Path)
	assert.Equal(t, filepath.Join("./data", "work"), cfg.Paths.WorkDir)
	assert.Equal(t, filepath.Join("./data", "uploads"), cfg.Paths.OutputDir)
	assert.Equal(t, "/uploads", cfg.Paths.PublicURLPrefix)
	assert.Equal(t, 30*time.Minute, cfg.Tools.Timeout)
	assert.GreaterOrEqual(t, cfg.Worker.Count, 1)
	assert.LessOrEqual(t, cfg.Worker.Count, 16)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audioforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  type: postgres
  host: db.internal
paths:
  data_dir: /srv/audio
  public_url_prefix: https://cdn.example.com/audio/
worker:
  count: 3
tools:
  timeout: 5m
`), 0644))

	t.Setenv("AUDIOFORGE_WORKERS", "6")
	t.Setenv("AUDIOFORGE_TOOL_TIMEOUT", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Empty(t, cfg.Database.Path)
	assert.Equal(t, "/srv/audio/spool", cfg.Paths.SpoolDir)
	assert.Equal(t, "https://cdn.example.com/audio", cfg.Paths.PublicURLPrefix)
	assert.Equal(t, 6, cfg.Worker.Count)
	assert.Equal(t, 90*time.Second, cfg.Tools.Timeout)
}

func TestLoad_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audioforge.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logging": {"level": "debug", "format": "json"}}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"database type", map[string]string{"AUDIOFORGE_DATABASE_TYPE": "mysql"}},
		{"negative workers", map[string]string{"AUDIOFORGE_WORKERS": "-1"}},
		{"bad duration", map[string]string{"AUDIOFORGE_TOOL_TIMEOUT": "soon"}},
		{"log format", map[string]string{"AUDIOFORGE_LOG_FORMAT": "xml"}},
		{"log file missing", map[string]string{"AUDIOFORGE_LOG_OUTPUT": "file"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audioforge.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}
