package tracker

import (
	"sync"
	"time"
)

// ProbeStatus is the coarse health classification for an OS probe.
type ProbeStatus string

const (
	ProbeHealthy  ProbeStatus = "healthy"
	ProbeDegraded ProbeStatus = "degraded"
	ProbeFailed   ProbeStatus = "failed"
)

// ProbeHealth is the externally visible health record for one probe key
// ("idle" for the system idle probe, "presence:<gameID>" for per-game
// presence probes).
type ProbeHealth struct {
	Probe     string      `json:"probe"`
	Status    ProbeStatus `json:"status"`
	Failures  int         `json:"failures"`
	LastError string      `json:"lastError,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

const idleProbeKey = "idle"

func presenceProbeKey(gameID string) string {
	return "presence:" + gameID
}

// healthTracker tracks consecutive failure streaks per probe key. Probe
// failures are absorbed into conservative defaults by the tick loop, so
// this is the only place they remain visible; the tracker surfaces status
// transitions to sinks and to snapshot requests. Fields are protected by
// mu because the tick goroutine writes them while snapshot() serves
// broadcaster and HTTP readers.
type healthTracker struct {
	mu          sync.Mutex
	streaks     map[string]int
	lastErr     map[string]string
	lastFail    map[string]time.Time
	lastEmitted map[string]ProbeStatus
}

func newHealthTracker() *healthTracker {
	return &healthTracker{
		streaks:     make(map[string]int),
		lastErr:     make(map[string]string),
		lastFail:    make(map[string]time.Time),
		lastEmitted: make(map[string]ProbeStatus),
	}
}

func (h *healthTracker) recordSuccess(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.streaks, key)
	delete(h.lastErr, key)
}

func (h *healthTracker) recordFailure(key string, err error, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streaks[key]++
	h.lastErr[key] = err.Error()
	h.lastFail[key] = now
}

// remove drops all tracking for a probe key. Called when a game leaves
// the registry.
func (h *healthTracker) remove(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.streaks, key)
	delete(h.lastErr, key)
	delete(h.lastFail, key)
	delete(h.lastEmitted, key)
}

func statusFor(streak, threshold int) ProbeStatus {
	switch {
	case streak >= threshold:
		return ProbeFailed
	case streak > 0:
		return ProbeDegraded
	default:
		return ProbeHealthy
	}
}

// changed returns health records for every key whose status differs from
// the last emission, updating the emission bookkeeping in the same lock
// acquisition. Keys that recovered to healthy are reported once so
// consumers can clear alerts.
func (h *healthTracker) changed(threshold int, now time.Time) []ProbeHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []ProbeHealth
	seen := make(map[string]bool, len(h.streaks))
	for key, streak := range h.streaks {
		seen[key] = true
		status := statusFor(streak, threshold)
		if status == h.lastEmitted[key] || (status == ProbeHealthy && h.lastEmitted[key] == "") {
			continue
		}
		h.lastEmitted[key] = status
		out = append(out, ProbeHealth{
			Probe:     key,
			Status:    status,
			Failures:  streak,
			LastError: h.lastErr[key],
			Timestamp: now,
		})
	}
	// Keys with no current streak that previously emitted a bad status
	// have recovered.
	for key, last := range h.lastEmitted {
		if seen[key] || last == ProbeHealthy {
			continue
		}
		h.lastEmitted[key] = ProbeHealthy
		out = append(out, ProbeHealth{
			Probe:     key,
			Status:    ProbeHealthy,
			Timestamp: now,
		})
	}
	return out
}

// snapshot returns health records for all currently non-healthy probes.
// Used for client bootstrap; safe to call from any goroutine.
func (h *healthTracker) snapshot(threshold int, now time.Time) []ProbeHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []ProbeHealth
	for key, streak := range h.streaks {
		status := statusFor(streak, threshold)
		if status == ProbeHealthy {
			continue
		}
		out = append(out, ProbeHealth{
			Probe:     key,
			Status:    status,
			Failures:  streak,
			LastError: h.lastErr[key],
			Timestamp: now,
		})
	}
	return out
}
