//go:build linux

package probe

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	mutterIdleService = "org.gnome.Mutter.IdleMonitor"
	mutterIdlePath    = "/org/gnome/Mutter/IdleMonitor/Core"
	mutterIdleMethod  = "org.gnome.Mutter.IdleMonitor.GetIdletime"
)

// IdleProbe reports system-wide input idle time on Linux. It asks the
// desktop session's idle monitor over D-Bus (GNOME/Mutter interface,
// also exported by other compositors) and falls back to xprintidle for
// plain X11 sessions without that interface.
type IdleProbe struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

func NewIdleProbe() *IdleProbe {
	return &IdleProbe{}
}

func (p *IdleProbe) IdleDuration(ctx context.Context) (time.Duration, error) {
	d, dbusErr := p.idleFromDBus(ctx)
	if dbusErr == nil {
		return d, nil
	}
	d, execErr := idleFromXprintidle(ctx)
	if execErr == nil {
		return d, nil
	}
	return 0, fmt.Errorf("idle monitor unavailable (dbus: %v): %w", dbusErr, execErr)
}

func (p *IdleProbe) idleFromDBus(ctx context.Context) (time.Duration, error) {
	conn, err := p.sessionBus()
	if err != nil {
		return 0, err
	}

	var idleMillis uint64
	obj := conn.Object(mutterIdleService, mutterIdlePath)
	if err := obj.CallWithContext(ctx, mutterIdleMethod, 0).Store(&idleMillis); err != nil {
		return 0, fmt.Errorf("calling %s: %w", mutterIdleMethod, err)
	}
	return time.Duration(idleMillis) * time.Millisecond, nil
}

// sessionBus lazily connects to the session bus and caches the
// connection across ticks.
func (p *IdleProbe) sessionBus() (*dbus.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn, nil
	}
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to session bus: %w", err)
	}
	p.conn = conn
	return conn, nil
}

func idleFromXprintidle(ctx context.Context) (time.Duration, error) {
	out, err := exec.CommandContext(ctx, "xprintidle").Output()
	if err != nil {
		return 0, fmt.Errorf("running xprintidle: %w", err)
	}
	return parseIdleMillis(string(out))
}
