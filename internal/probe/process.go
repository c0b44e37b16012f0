// Package probe implements the OS-facing queries the tracker depends on:
// process presence (is a given executable running?) and system-wide input
// idle time. Probes are side-effect-free queries; callers own failure
// policy and timeouts.
package probe

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessProbe detects running games by scanning the OS process table.
// Matching is by executable file name only, never full path or PID, so a
// game moved or reinstalled elsewhere is still recognized. Results are
// not cached across calls.
type ProcessProbe struct{}

func NewProcessProbe() *ProcessProbe {
	return &ProcessProbe{}
}

// IsRunning reports whether at least one process's image name matches the
// basename of exePath. The scan stops early if ctx expires.
func (p *ProcessProbe) IsRunning(ctx context.Context, exePath string) (bool, error) {
	target := filepath.Base(exePath)
	if target == "" || target == "." || target == string(filepath.Separator) {
		return false, fmt.Errorf("invalid executable path %q", exePath)
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, fmt.Errorf("listing processes: %w", err)
	}

	for _, proc := range procs {
		if err := ctx.Err(); err != nil {
			return false, fmt.Errorf("process scan interrupted: %w", err)
		}

		// Per-process failures (races with exiting processes, permission
		// denials on other users' processes) are expected; skip and keep
		// scanning.
		if name, err := proc.NameWithContext(ctx); err == nil && matchesExecutable(name, target) {
			return true, nil
		}
		if exe, err := proc.ExeWithContext(ctx); err == nil && matchesExecutable(filepath.Base(exe), target) {
			return true, nil
		}
	}
	return false, nil
}

// procNameLimit is the kernel's comm field width on Linux; names read
// from /proc/<pid>/status are truncated to this many bytes.
const procNameLimit = 15

// matchesExecutable compares a process image name against the registered
// executable's basename. Comparison is case-insensitive (Windows
// filesystems) and tolerant of a missing extension on one side, so
// "Game.exe" matches a process reported as "game". A name at the kernel
// truncation limit matches by prefix.
func matchesExecutable(procName, target string) bool {
	if procName == "" || target == "" {
		return false
	}
	if strings.EqualFold(procName, target) {
		return true
	}
	if strings.EqualFold(trimExeExt(procName), trimExeExt(target)) {
		return true
	}
	if len(procName) == procNameLimit && len(target) > procNameLimit {
		return strings.EqualFold(procName, target[:procNameLimit])
	}
	return false
}

func trimExeExt(name string) string {
	ext := filepath.Ext(name)
	if strings.EqualFold(ext, ".exe") {
		return name[:len(name)-len(ext)]
	}
	return name
}
