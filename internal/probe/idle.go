package probe

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseIdleMillis parses a bare millisecond count, the output format of
// xprintidle.
func parseIdleMillis(out string) (time.Duration, error) {
	trimmed := strings.TrimSpace(out)
	ms, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing idle milliseconds %q: %w", trimmed, err)
	}
	if ms < 0 {
		return 0, fmt.Errorf("negative idle time %d", ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// parseHIDIdleNanos extracts the HIDIdleTime value (nanoseconds) from
// ioreg output, e.g. `  "HIDIdleTime" = 531993672`.
func parseHIDIdleNanos(out string) (time.Duration, error) {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "HIDIdleTime") {
			continue
		}
		_, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		ns, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing HIDIdleTime %q: %w", strings.TrimSpace(value), err)
		}
		if ns < 0 {
			return 0, fmt.Errorf("negative HIDIdleTime %d", ns)
		}
		return time.Duration(ns), nil
	}
	return 0, fmt.Errorf("no HIDIdleTime entry in ioreg output")
}
