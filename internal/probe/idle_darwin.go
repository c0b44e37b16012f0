//go:build darwin

package probe

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// IdleProbe reports system-wide input idle time on macOS by reading the
// IOHIDSystem HIDIdleTime counter from the IORegistry.
type IdleProbe struct{}

func NewIdleProbe() *IdleProbe {
	return &IdleProbe{}
}

func (p *IdleProbe) IdleDuration(ctx context.Context) (time.Duration, error) {
	out, err := exec.CommandContext(ctx, "ioreg", "-c", "IOHIDSystem", "-d", "4").Output()
	if err != nil {
		return 0, fmt.Errorf("running ioreg: %w", err)
	}
	return parseHIDIdleNanos(string(out))
}
