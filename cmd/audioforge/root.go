package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/audioforge/internal/config"
	"github.com/mantonx/audioforge/internal/database"
	"github.com/mantonx/audioforge/internal/logger"
	"github.com/mantonx/audioforge/internal/modules/audiomodule"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/ffmpeg"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// skipDatabase marks commands that run without the job store.
const skipDatabase = "skip_database"

// app carries the state shared by every subcommand once the root
// pre-run has loaded configuration.
type app struct {
	configPath string
	logLevel   string

	cfg       *config.Config
	logger    hclog.Logger
	logCloser io.Closer
	db        *gorm.DB
	runner    *ffmpeg.Runner
	module    *audiomodule.Module
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "audioforge",
		Short:         "Loudness normalization and format conversion for audio files.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("AUDIOFORGE_CONFIG"), "Path to a YAML or JSON config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override the configured log level")

	root.AddCommand(
		newWorkerCmd(a),
		newSubmitCmd(a),
		newProcessCmd(a),
		newStatusCmd(a),
		newDiagnoseCmd(a),
		newInspectCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg

	a.logger, a.logCloser, err = logger.New("audioforge", cfg.Logging)
	if err != nil {
		return err
	}

	a.runner = ffmpeg.NewRunner(a.logger, ffmpeg.Config{
		FFmpegPath:  cfg.Tools.FFmpegPath,
		FFprobePath: cfg.Tools.FFprobePath,
		Timeout:     cfg.Tools.Timeout,
	})

	if cmd.Annotations[skipDatabase] == "true" {
		return nil
	}

	a.db, err = database.Open(cfg.Database, a.logger)
	if err != nil {
		return err
	}
	a.module = audiomodule.NewModuleWithRunner(cfg, a.db, a.runner, a.logger)
	return a.module.Init()
}

func (a *app) close() error {
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if a.logCloser != nil {
		return a.logCloser.Close()
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
