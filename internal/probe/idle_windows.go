//go:build windows

package probe

import (
	"context"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32               = windows.NewLazySystemDLL("user32.dll")
	procGetLastInputInfo = user32.NewProc("GetLastInputInfo")
)

type lastInputInfo struct {
	cbSize uint32
	dwTime uint32
}

// IdleProbe reports system-wide input idle time on Windows via the
// user32 GetLastInputInfo tick counter.
type IdleProbe struct{}

func NewIdleProbe() *IdleProbe {
	return &IdleProbe{}
}

func (p *IdleProbe) IdleDuration(_ context.Context) (time.Duration, error) {
	info := lastInputInfo{}
	info.cbSize = uint32(unsafe.Sizeof(info))

	ret, _, err := procGetLastInputInfo.Call(uintptr(unsafe.Pointer(&info)))
	if ret == 0 {
		return 0, fmt.Errorf("GetLastInputInfo: %w", err)
	}

	// Both counters wrap at 32 bits roughly every 49 days; the unsigned
	// subtraction stays correct across a single wrap.
	nowTicks := uint32(windows.GetTickCount64())
	idleMillis := nowTicks - info.dwTime
	return time.Duration(idleMillis) * time.Millisecond, nil
}
