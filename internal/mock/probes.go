// Package mock provides scripted probes so the daemon can run without
// real games installed: the tracker, event stream, and UI all exercise
// their production code paths against synthetic process activity.
package mock

import (
	"context"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/playlog/backend/internal/tracker"
)

// Probes implements tracker.PresenceProbe and tracker.IdleProbe with
// randomized launch/quit/idle behavior over a fixed fake library.
type Probes struct {
	mu      sync.Mutex
	running map[string]bool // keyed by executable basename
	idleFor time.Duration
	rng     *rand.Rand
	games   []tracker.TrackedGame
}

func NewProbes(seed int64) *Probes {
	return &Probes{
		running: make(map[string]bool),
		rng:     rand.New(rand.NewSource(seed)),
		games: []tracker.TrackedGame{
			{ID: "mock-roguelike", ExePath: "/opt/games/gloom-depths/gloom-depths.bin"},
			{ID: "mock-racer", ExePath: "/opt/games/apex-drift/apex-drift"},
			{ID: "mock-strategy", ExePath: "/opt/games/stellar-siege/stellar-siege.bin"},
		},
	}
}

// Games returns the fake library to register with the tracker.
func (p *Probes) Games() []tracker.TrackedGame {
	return append([]tracker.TrackedGame(nil), p.games...)
}

func (p *Probes) IsRunning(_ context.Context, exePath string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running[filepath.Base(exePath)], nil
}

func (p *Probes) IdleDuration(_ context.Context) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idleFor, nil
}

// Start mutates the synthetic process table every interval: games launch
// and quit with small probabilities, and the fake user occasionally walks
// away long enough to cross any reasonable idle threshold.
func (p *Probes) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.step(interval)
			}
		}
	}()
}

func (p *Probes) step(interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, g := range p.games {
		base := filepath.Base(g.ExePath)
		if p.running[base] {
			if p.rng.Float64() < 0.10 {
				delete(p.running, base)
			}
		} else if p.rng.Float64() < 0.20 {
			p.running[base] = true
		}
	}

	// Idle spells last a few steps once they begin.
	if p.idleFor > 0 {
		if p.rng.Float64() < 0.3 {
			p.idleFor = 0
		} else {
			p.idleFor += interval
		}
	} else if p.rng.Float64() < 0.15 {
		p.idleFor = 2 * time.Minute
	}
}
