//go:build !linux && !windows && !darwin

package probe

import (
	"context"
	"fmt"
	"time"
)

// IdleProbe on platforms without a supported idle source. Always errors;
// the tracker's failure policy converts that to "not idle", so sessions
// are still recorded with all time counted as active.
type IdleProbe struct{}

func NewIdleProbe() *IdleProbe {
	return &IdleProbe{}
}

func (p *IdleProbe) IdleDuration(_ context.Context) (time.Duration, error) {
	return 0, fmt.Errorf("system idle detection not supported on this platform")
}
