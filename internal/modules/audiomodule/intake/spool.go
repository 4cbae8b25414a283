// Package intake turns files dropped into a spool directory into queued jobs.
//
// A file is picked up once it has been quiet for the debounce interval. It is
// moved into the work directory under a fresh job id and handed to the
// acceptor. Options come from an optional sidecar "<file>.json" holding
//
//	{"user_id": "...", "options": {"format": "flac", "lufs_preset": "spotify"}}
//
// merged over the configured defaults. The sidecar must be in place before
// the audio file finishes writing. Rejected files are parked in the
// "_rejected" subdirectory together with a ".error" note.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/audioforge/internal/database"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/types"
	"github.com/mantonx/audioforge/internal/utils"
)

const (
	// RejectedDir holds spool files that could not be accepted.
	RejectedDir = "_rejected"

	defaultDebounce = 2 * time.Second
	sidecarExt      = ".json"
)

// Acceptor records a validated job. The orchestrator satisfies it.
type Acceptor interface {
	Accept(ctx context.Context, desc *types.JobDescriptor) (*database.ProcessingJob, error)
}

// Config controls where the spool lives and how its files are turned into jobs.
type Config struct {
	SpoolDir string
	WorkDir  string
	UserID   string
	Defaults map[string]interface{}
	Debounce time.Duration
}

// Sidecar is the optional per-file job description.
type Sidecar struct {
	UserID  string                 `json:"user_id"`
	Options map[string]interface{} `json:"options"`
}

// Spool watches a directory and submits every audio file that lands in it.
type Spool struct {
	cfg      Config
	acceptor Acceptor
	logger   hclog.Logger

	watcher *fsnotify.Watcher
	events  chan string
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	mu      sync.Mutex
}

// NewSpool creates a spool watcher. Call Start to begin watching.
func NewSpool(cfg Config, acceptor Acceptor, logger hclog.Logger) *Spool {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	return &Spool{
		cfg:      cfg,
		acceptor: acceptor,
		logger:   logger.Named("spool"),
		events:   make(chan string, 1000),
	}
}

// Start watches the spool directory and queues any files already present.
func (s *Spool) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher != nil {
		return nil
	}
	if err := os.MkdirAll(s.cfg.SpoolDir, 0o755); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(s.cfg.SpoolDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.cfg.SpoolDir, err)
	}
	s.watcher = watcher

	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.watchEvents(ctx, watcher)
	go s.processEvents(ctx)

	existing, err := s.pending()
	if err != nil {
		s.logger.Warn("initial spool scan failed", "error", err)
	}
	for _, path := range existing {
		s.enqueue(path)
	}

	s.logger.Info("watching spool directory", "path", s.cfg.SpoolDir, "pending", len(existing))
	return nil
}

// Stop stops watching and waits for in-progress intake to finish.
func (s *Spool) Stop() error {
	s.mu.Lock()
	if s.watcher == nil {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	err := s.watcher.Close()
	s.watcher = nil
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Spool) watchEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	defer s.wg.Done()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				s.enqueue(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("file watcher error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Spool) enqueue(path string) {
	if utils.IsSkippedFile(path) || strings.EqualFold(filepath.Ext(path), sidecarExt) {
		return
	}
	select {
	case s.events <- path:
	default:
		s.logger.Warn("spool event queue full, dropping event", "path", path)
	}
}

// processEvents ingests a file once no event has been seen for it during
// the debounce interval.
func (s *Spool) processEvents(ctx context.Context) {
	defer s.wg.Done()

	lastSeen := make(map[string]time.Time)
	ticker := time.NewTicker(s.cfg.Debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case path := <-s.events:
			lastSeen[path] = time.Now()
		case now := <-ticker.C:
			for path, seen := range lastSeen {
				if now.Sub(seen) < s.cfg.Debounce {
					continue
				}
				delete(lastSeen, path)
				if _, err := s.Ingest(ctx, path); err != nil && !errors.Is(err, os.ErrNotExist) {
					s.logger.Error("spool intake failed", "path", path, "error", err)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// pending lists the spool entries waiting to be ingested, in name order.
func (s *Spool) pending() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.SpoolDir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(s.cfg.SpoolDir, e.Name())
		if utils.IsSkippedFile(path) || strings.EqualFold(filepath.Ext(path), sidecarExt) {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// Ingest stages a single spool file and submits it. On rejection the file
// and its sidecar are moved to the rejected directory.
func (s *Spool) Ingest(ctx context.Context, path string) (*database.ProcessingJob, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	sidecarPath := path + sidecarExt
	sidecar, err := ReadSidecar(sidecarPath)
	if err != nil {
		s.reject(path, sidecarPath, err)
		return nil, err
	}

	jobID := uuid.New().String()
	staged, err := StageFile(path, s.cfg.WorkDir, jobID, true)
	if err != nil {
		return nil, err
	}

	userID := s.cfg.UserID
	if sidecar.UserID != "" {
		userID = sidecar.UserID
	}
	desc := &types.JobDescriptor{
		JobID:            jobID,
		SourcePath:       staged,
		OriginalFilename: filepath.Base(path),
		UserID:           userID,
		Options:          MergeOptions(s.cfg.Defaults, sidecar.Options),
	}

	job, err := s.acceptor.Accept(ctx, desc)
	if err != nil {
		if mvErr := utils.MoveFile(staged, path); mvErr != nil {
			s.logger.Error("failed to return rejected file to spool", "path", staged, "error", mvErr)
			return nil, err
		}
		s.reject(path, sidecarPath, err)
		return nil, err
	}

	if err := os.Remove(sidecarPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove sidecar", "path", sidecarPath, "error", err)
	}
	s.logger.Info("queued spool file", "job_id", job.ID, "path", path)
	return job, nil
}

func (s *Spool) reject(path, sidecarPath string, cause error) {
	dir := filepath.Join(s.cfg.SpoolDir, RejectedDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Error("failed to create rejected directory", "error", err)
		return
	}
	name := filepath.Base(path)
	if err := utils.MoveFile(path, filepath.Join(dir, name)); err != nil {
		s.logger.Error("failed to park rejected file", "path", path, "error", err)
		return
	}
	if _, err := os.Stat(sidecarPath); err == nil {
		if err := utils.MoveFile(sidecarPath, filepath.Join(dir, name+sidecarExt)); err != nil {
			s.logger.Warn("failed to park sidecar", "path", sidecarPath, "error", err)
		}
	}
	note := filepath.Join(dir, name+".error")
	if err := os.WriteFile(note, []byte(cause.Error()+"\n"), 0o644); err != nil {
		s.logger.Warn("failed to write rejection note", "path", note, "error", err)
	}
	s.logger.Warn("rejected spool file", "path", path, "error", cause)
}

// ReadSidecar loads a sidecar file. A missing sidecar yields an empty one.
func ReadSidecar(path string) (*Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Sidecar{}, nil
		}
		return nil, err
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("invalid sidecar %s: %w", filepath.Base(path), err)
	}
	return &sc, nil
}

// MergeOptions returns defaults overlaid with overrides. Neither input is
// modified.
func MergeOptions(defaults, overrides map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// StageFile places src in workDir as "<jobID><ext>". With move set the
// source is moved, otherwise it is copied and left in place.
func StageFile(src, workDir, jobID string, move bool) (string, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}
	dst := filepath.Join(workDir, jobID+strings.ToLower(filepath.Ext(src)))
	var err error
	if move {
		err = utils.MoveFile(src, dst)
	} else {
		err = utils.CopyFile(src, dst)
	}
	if err != nil {
		return "", fmt.Errorf("failed to stage %s: %w", filepath.Base(src), err)
	}
	return dst, nil
}
