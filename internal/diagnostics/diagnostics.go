// Package diagnostics reports whether the host can run the audio pipeline:
// the external tools it shells out to and the resources it has available.
package diagnostics

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// ToolRunner runs the external tools. *ffmpeg.Runner satisfies it.
type ToolRunner interface {
	FFmpeg(ctx context.Context, args ...string) ([]byte, []byte, error)
	FFprobe(ctx context.Context, args ...string) ([]byte, []byte, error)
	FFmpegPath() string
	FFprobePath() string
}

// ToolStatus describes one external executable.
type ToolStatus struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	ResolvedPath string `json:"resolved_path,omitempty"`
	Version      string `json:"version,omitempty"`
	Error        string `json:"error,omitempty"`
}

// OK reports whether the tool answered a version query.
func (t ToolStatus) OK() bool {
	return t.Error == ""
}

// SystemInfo summarizes host resources relevant to worker sizing.
type SystemInfo struct {
	LogicalCPUs       int     `json:"logical_cpus"`
	PhysicalCPUs      int     `json:"physical_cpus"`
	CPUModel          string  `json:"cpu_model,omitempty"`
	TotalMemoryMB     uint64  `json:"total_memory_mb"`
	AvailableMemoryMB uint64  `json:"available_memory_mb"`
	WorkDir           string  `json:"work_dir"`
	WorkDirFreeMB     uint64  `json:"work_dir_free_mb"`
	WorkDirUsedPct    float64 `json:"work_dir_used_percent"`
}

// Report is the full diagnostic result.
type Report struct {
	Tools    []ToolStatus `json:"tools"`
	System   SystemInfo   `json:"system"`
	Warnings []string     `json:"warnings,omitempty"`
}

// Healthy reports whether every tool is usable.
func (r *Report) Healthy() bool {
	for _, t := range r.Tools {
		if !t.OK() {
			return false
		}
	}
	return true
}

// Collect probes the tools and the host. Resource lookups that fail are
// recorded as warnings; they never fail the report.
func Collect(ctx context.Context, runner ToolRunner, workDir string) *Report {
	report := &Report{
		Tools: []ToolStatus{
			checkTool(ctx, "ffmpeg", runner.FFmpegPath(), runner.FFmpeg),
			checkTool(ctx, "ffprobe", runner.FFprobePath(), runner.FFprobe),
		},
	}
	report.System, report.Warnings = collectSystem(ctx, workDir)
	return report
}

type toolFunc func(ctx context.Context, args ...string) ([]byte, []byte, error)

func checkTool(ctx context.Context, name, path string, run toolFunc) ToolStatus {
	status := ToolStatus{Name: name, Path: path}
	if resolved, err := exec.LookPath(path); err == nil {
		status.ResolvedPath = resolved
	}

	stdout, _, err := run(ctx, "-version")
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Version = ParseVersion(stdout)
	return status
}

// ParseVersion extracts the version from the first line of "-version" output,
// e.g. "ffmpeg version 6.1.1-3ubuntu5 Copyright ..." yields "6.1.1-3ubuntu5".
func ParseVersion(out []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	if !scanner.Scan() {
		return ""
	}
	fields := strings.Fields(scanner.Text())
	for i := 0; i < len(fields)-1; i++ {
		if fields[i] == "version" {
			return fields[i+1]
		}
	}
	return ""
}

func collectSystem(ctx context.Context, workDir string) (SystemInfo, []string) {
	info := SystemInfo{WorkDir: workDir}
	var warnings []string

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.LogicalCPUs = n
	} else {
		warnings = append(warnings, "cpu count: "+err.Error())
	}
	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		info.PhysicalCPUs = n
	}
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		info.CPUModel = infos[0].ModelName
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.TotalMemoryMB = vm.Total / (1024 * 1024)
		info.AvailableMemoryMB = vm.Available / (1024 * 1024)
	} else {
		warnings = append(warnings, "memory: "+err.Error())
	}

	if workDir != "" {
		if usage, err := disk.UsageWithContext(ctx, workDir); err == nil {
			info.WorkDirFreeMB = usage.Free / (1024 * 1024)
			info.WorkDirUsedPct = usage.UsedPercent
		} else {
			warnings = append(warnings, "work dir usage: "+err.Error())
		}
	}
	return info, warnings
}
