// Package ffmpeg wraps the ffmpeg and ffprobe executables used by every
// processing stage. Commands run through a CommandRunner so tests can
// substitute canned output.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	aferrors "github.com/mantonx/audioforge/internal/modules/audiomodule/errors"
)

// stderrTailBytes bounds how much diagnostic output is kept on errors.
const stderrTailBytes = 4096

// CommandRunner interface for command execution (enables mocking in tests)
type CommandRunner interface {
	Run(ctx context.Context, cmd string, args ...string) (stdout, stderr []byte, err error)
}

// DefaultCommandRunner implements CommandRunner using os/exec
type DefaultCommandRunner struct{}

// Run executes a command using os/exec, capturing stdout and stderr separately.
func (r *DefaultCommandRunner) Run(ctx context.Context, cmd string, args ...string) ([]byte, []byte, error) {
	command := exec.CommandContext(ctx, cmd, args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	err := command.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Config selects executables and the per-invocation time budget.
type Config struct {
	FFmpegPath  string
	FFprobePath string
	Timeout     time.Duration
}

// ToolError describes a failed external tool invocation.
type ToolError struct {
	Tool   string
	Args   []string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

// Unwrap exposes ErrTimeout or ErrToolFailed for errors.Is.
func (e *ToolError) Unwrap() []error {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return []error{aferrors.ErrTimeout, e.Err}
	}
	return []error{aferrors.ErrToolFailed, e.Err}
}

// StderrTail returns the trailing diagnostic output of a ToolError, if any.
func StderrTail(err error) string {
	var tErr *ToolError
	if errors.As(err, &tErr) {
		return tErr.Stderr
	}
	return ""
}

// Runner executes ffmpeg and ffprobe with a bounded wait.
type Runner struct {
	logger      hclog.Logger
	execer      CommandRunner
	ffmpegPath  string
	ffprobePath string
	timeout     time.Duration
}

// NewRunner creates a runner backed by os/exec.
func NewRunner(logger hclog.Logger, cfg Config) *Runner {
	return NewRunnerWithExecutor(logger, &DefaultCommandRunner{}, cfg)
}

// NewRunnerWithExecutor creates a runner with a custom command executor (for testing)
func NewRunnerWithExecutor(logger hclog.Logger, execer CommandRunner, cfg Config) *Runner {
	ffmpegPath := cfg.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
		if customPath := os.Getenv("FFMPEG_PATH"); customPath != "" {
			ffmpegPath = customPath
		}
	}
	ffprobePath := cfg.FFprobePath
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
		if customPath := os.Getenv("FFPROBE_PATH"); customPath != "" {
			ffprobePath = customPath
		}
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Runner{
		logger:      logger.Named("ffmpeg"),
		execer:      execer,
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		timeout:     cfg.Timeout,
	}
}

// FFmpegPath returns the resolved ffmpeg executable.
func (r *Runner) FFmpegPath() string { return r.ffmpegPath }

// FFprobePath returns the resolved ffprobe executable.
func (r *Runner) FFprobePath() string { return r.ffprobePath }

// FFmpeg runs ffmpeg non-interactively with the given arguments.
func (r *Runner) FFmpeg(ctx context.Context, args ...string) ([]byte, []byte, error) {
	full := append([]string{"-hide_banner", "-nostdin", "-y"}, args...)
	return r.run(ctx, "ffmpeg", r.ffmpegPath, full)
}

// FFprobe runs ffprobe with the given arguments.
func (r *Runner) FFprobe(ctx context.Context, args ...string) ([]byte, []byte, error) {
	return r.run(ctx, "ffprobe", r.ffprobePath, args)
}

func (r *Runner) run(ctx context.Context, tool, path string, args []string) ([]byte, []byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.logger.Debug("executing command", "tool", tool, "args", strings.Join(args, " "))
	start := time.Now()

	stdout, stderr, err := r.execer.Run(ctx, path, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		tErr := &ToolError{
			Tool:   tool,
			Args:   args,
			Stderr: tail(stderr, stderrTailBytes),
			Err:    err,
		}
		r.logger.Error("command failed", "tool", tool, "error", err, "stderr", tErr.Stderr)
		return stdout, stderr, tErr
	}

	r.logger.Debug("command finished", "tool", tool, "elapsed", time.Since(start))
	return stdout, stderr, nil
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
