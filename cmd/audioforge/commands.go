package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mantonx/audioforge/internal/database"
	"github.com/mantonx/audioforge/internal/diagnostics"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/metadata"
	"github.com/mantonx/audioforge/internal/utils"
	"github.com/spf13/cobra"
)

func newWorkerCmd(a *app) *cobra.Command {
	var (
		workers int
		noSpool bool
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued jobs until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if workers > 0 {
				a.cfg.Worker.Count = workers
			}
			if noSpool {
				a.cfg.Worker.WatchSpool = false
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.logger.Info("worker starting",
				"host", a.cfg.Worker.HostID,
				"workers", a.cfg.Worker.Count,
				"spool", a.cfg.Worker.WatchSpool)
			return a.module.Serve(ctx)
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Number of concurrent jobs (default from config)")
	cmd.Flags().BoolVar(&noSpool, "no-spool", false, "Do not watch the spool directory")
	return cmd
}

// jobFlags are shared by submit and process.
type jobFlags struct {
	userID      string
	options     map[string]string
	optionsFile string
}

func (f *jobFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.userID, "user", "cli", "User id recorded on the job")
	cmd.Flags().StringToStringVarP(&f.options, "option", "o", nil, "Job option as key=value (repeatable)")
	cmd.Flags().StringVar(&f.optionsFile, "options-file", "", "JSON file with job options")
}

// resolve returns the options file contents overlaid with --option values.
func (f *jobFlags) resolve() (map[string]interface{}, error) {
	opts := map[string]interface{}{}
	if f.optionsFile != "" {
		data, err := os.ReadFile(f.optionsFile)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &opts); err != nil {
			return nil, fmt.Errorf("invalid options file: %w", err)
		}
	}
	for k, v := range f.options {
		opts[k] = v
	}
	return opts, nil
}

func newSubmitCmd(a *app) *cobra.Command {
	flags := &jobFlags{}
	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Queue a file for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.resolve()
			if err != nil {
				return err
			}
			job, err := a.module.Submit(cmd.Context(), args[0], flags.userID, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), jobView(job))
		},
	}
	flags.register(cmd)
	return cmd
}

func newProcessCmd(a *app) *cobra.Command {
	flags := &jobFlags{}
	cmd := &cobra.Command{
		Use:   "process <file>",
		Short: "Process a file immediately and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.resolve()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			result, err := a.module.Process(ctx, args[0], flags.userID, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	flags.register(cmd)
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show one job, or job counts by status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				job, err := a.module.Store.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), jobView(job))
			}

			stats, err := a.module.Store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			counts := map[database.JobStatus]int64{
				database.JobStatusQueued:     0,
				database.JobStatusProcessing: 0,
				database.JobStatusCompleted:  0,
				database.JobStatusFailed:     0,
			}
			for status, n := range stats {
				counts[status] = n
			}
			return printJSON(cmd.OutOrStdout(), counts)
		},
	}
}

func newDiagnoseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "diagnose",
		Short:       "Check the external tools and host resources",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipDatabase: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			report := diagnostics.Collect(cmd.Context(), a.runner, a.cfg.Paths.WorkDir)
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Healthy() {
				return errors.New("one or more required tools are unavailable")
			}
			return nil
		},
	}
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "inspect <file>",
		Short:       "Print the tags and checksum of a processed file",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipDatabase: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, err := metadata.ReadTags(args[0])
			if err != nil {
				return err
			}
			sum, err := utils.CalculateFileHash(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), struct {
				Path string               `json:"path"`
				SHA1 string               `json:"sha1"`
				Tags *metadata.TagSummary `json:"tags"`
			}{args[0], sum, tags})
		},
	}
}

// jobRecord is the printed form of a job.
type jobRecord struct {
	ID               string             `json:"id"`
	Status           database.JobStatus `json:"status"`
	UserID           string             `json:"user_id,omitempty"`
	OriginalFilename string             `json:"original_filename"`
	WorkerID         string             `json:"worker_id,omitempty"`
	Options          json.RawMessage    `json:"options,omitempty"`
	Result           json.RawMessage    `json:"result,omitempty"`
	CreatedAt        string             `json:"created_at"`
	StartedAt        string             `json:"started_at,omitempty"`
	CompletedAt      string             `json:"completed_at,omitempty"`
}

func jobView(job *database.ProcessingJob) jobRecord {
	rec := jobRecord{
		ID:               job.ID,
		Status:           job.Status,
		UserID:           job.UserID,
		OriginalFilename: job.OriginalFilename,
		WorkerID:         job.WorkerID,
		Result:           job.ResultJSON(),
		CreatedAt:        job.CreatedAt.Format(time.RFC3339),
	}
	if job.Options != "" {
		rec.Options = json.RawMessage(job.Options)
	}
	if job.StartedAt != nil {
		rec.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		rec.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return rec
}
