// Package config loads the audioforge configuration from a YAML or JSON
// file and AUDIOFORGE_* environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	// Database configuration
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Filesystem layout
	Paths PathsConfig `yaml:"paths" json:"paths"`

	// External tools
	Tools ToolsConfig `yaml:"tools" json:"tools"`

	// Worker pool
	Worker WorkerConfig `yaml:"worker" json:"worker"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Defaults for jobs arriving without options
	Processing ProcessingConfig `yaml:"processing" json:"processing"`
}

// DatabaseConfig selects and tunes the job store backend
type DatabaseConfig struct {
	Type            string        `yaml:"type" json:"type" env:"AUDIOFORGE_DATABASE_TYPE"`
	URL             string        `yaml:"url" json:"url" env:"AUDIOFORGE_DATABASE_URL"`
	Host            string        `yaml:"host" json:"host" env:"AUDIOFORGE_POSTGRES_HOST"`
	Port            int           `yaml:"port" json:"port" env:"AUDIOFORGE_POSTGRES_PORT"`
	Username        string        `yaml:"username" json:"username" env:"AUDIOFORGE_POSTGRES_USER"`
	Password        string        `yaml:"password" json:"-" env:"AUDIOFORGE_POSTGRES_PASSWORD"`
	Database        string        `yaml:"database" json:"database" env:"AUDIOFORGE_POSTGRES_DB"`
	Path            string        `yaml:"path" json:"path" env:"AUDIOFORGE_DATABASE_PATH"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"AUDIOFORGE_DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"AUDIOFORGE_DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"AUDIOFORGE_DB_CONN_MAX_LIFETIME"`
	LogQueries      bool          `yaml:"log_queries" json:"log_queries" env:"AUDIOFORGE_DB_LOG_QUERIES"`
}

// PathsConfig holds the directories the pipeline reads and writes
type PathsConfig struct {
	DataDir         string `yaml:"data_dir" json:"data_dir" env:"AUDIOFORGE_DATA_DIR"`
	WorkDir         string `yaml:"work_dir" json:"work_dir" env:"AUDIOFORGE_WORK_DIR"`
	OutputDir       string `yaml:"output_dir" json:"output_dir" env:"AUDIOFORGE_OUTPUT_DIR"`
	SpoolDir        string `yaml:"spool_dir" json:"spool_dir" env:"AUDIOFORGE_SPOOL_DIR"`
	PublicURLPrefix string `yaml:"public_url_prefix" json:"public_url_prefix" env:"AUDIOFORGE_PUBLIC_URL_PREFIX"`
}

// ToolsConfig locates ffmpeg/ffprobe and bounds each invocation
type ToolsConfig struct {
	FFmpegPath  string        `yaml:"ffmpeg_path" json:"ffmpeg_path" env:"AUDIOFORGE_FFMPEG_PATH"`
	FFprobePath string        `yaml:"ffprobe_path" json:"ffprobe_path" env:"AUDIOFORGE_FFPROBE_PATH"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" env:"AUDIOFORGE_TOOL_TIMEOUT"`
}

// WorkerConfig sizes the worker pool
type WorkerConfig struct {
	Count        int           `yaml:"count" json:"count" env:"AUDIOFORGE_WORKERS"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval" env:"AUDIOFORGE_POLL_INTERVAL"`
	HostID       string        `yaml:"host_id" json:"host_id" env:"AUDIOFORGE_HOST_ID"`
	WatchSpool   bool          `yaml:"watch_spool" json:"watch_spool" env:"AUDIOFORGE_WATCH_SPOOL"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" json:"level" env:"AUDIOFORGE_LOG_LEVEL"`
	Format       string `yaml:"format" json:"format" env:"AUDIOFORGE_LOG_FORMAT"`
	Output       string `yaml:"output" json:"output" env:"AUDIOFORGE_LOG_OUTPUT"`
	FilePath     string `yaml:"file_path" json:"file_path" env:"AUDIOFORGE_LOG_FILE"`
	EnableColors bool   `yaml:"enable_colors" json:"enable_colors" env:"AUDIOFORGE_LOG_COLORS"`
}

// ProcessingConfig holds option defaults applied by the intake adapters
type ProcessingConfig struct {
	DefaultFormat string `yaml:"default_format" json:"default_format" env:"AUDIOFORGE_DEFAULT_FORMAT"`
	DefaultPreset string `yaml:"default_preset" json:"default_preset" env:"AUDIOFORGE_DEFAULT_PRESET"`
	LimitTruePeak bool   `yaml:"limit_true_peak" json:"limit_true_peak" env:"AUDIOFORGE_LIMIT_TRUE_PEAK"`
}

// DefaultConfig returns the default application configuration
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Type:            "sqlite",
			Host:            "localhost",
			Port:            5432,
			Username:        "audioforge",
			Database:        "audioforge",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Paths: PathsConfig{
			DataDir:         "./data",
			PublicURLPrefix: "/uploads",
		},
		Tools: ToolsConfig{
			Timeout: 30 * time.Minute,
		},
		Worker: WorkerConfig{
			PollInterval: 2 * time.Second,
			WatchSpool:   true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Processing: ProcessingConfig{
			DefaultFormat: "mp3",
		},
	}
}

// Load builds the configuration: defaults, then the file at path (if any),
// then environment overrides. The result is validated and derived values
// are filled in.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg.applyDerived()
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Database.Type != "sqlite" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Worker.Count < 0 {
		return fmt.Errorf("invalid worker count: %d", c.Worker.Count)
	}
	if c.Tools.Timeout < 0 {
		return fmt.Errorf("invalid tool timeout: %s", c.Tools.Timeout)
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("invalid poll interval: %s", c.Worker.PollInterval)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format: %s", c.Logging.Format)
	}
	switch c.Logging.Output {
	case "stdout", "stderr":
	case "file":
		if c.Logging.FilePath == "" {
			return fmt.Errorf("log output is file but no file_path is set")
		}
	default:
		return fmt.Errorf("unsupported log output: %s", c.Logging.Output)
	}
	return nil
}

func (c *Config) applyDerived() {
	if c.Database.Path == "" && c.Database.Type == "sqlite" {
		c.Database.Path = filepath.Join(c.Paths.DataDir, "audioforge.db")
	}
	if c.Paths.WorkDir == "" {
		c.Paths.WorkDir = filepath.Join(c.Paths.DataDir, "work")
	}
	if c.Paths.OutputDir == "" {
		c.Paths.OutputDir = filepath.Join(c.Paths.DataDir, "uploads")
	}
	if c.Paths.SpoolDir == "" {
		c.Paths.SpoolDir = filepath.Join(c.Paths.DataDir, "spool")
	}
	c.Paths.PublicURLPrefix = strings.TrimRight(c.Paths.PublicURLPrefix, "/")

	// Each job saturates roughly one core while ffmpeg runs.
	if c.Worker.Count == 0 {
		c.Worker.Count = min(max(1, getCPUCount()), 16)
	}
	if c.Worker.HostID == "" {
		if host, err := os.Hostname(); err == nil {
			c.Worker.HostID = host
		}
	}
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".json":
		return json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		envValue, ok := os.LookupEnv(envTag)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func getCPUCount() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return 1
	}
	return n
}
