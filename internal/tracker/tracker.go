package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/playlog/backend/internal/config"
)

// PresenceProbe answers whether at least one OS process matching the
// executable's basename is currently running. Implementations should honor
// ctx cancellation; any error is treated by the tracker as "not running".
type PresenceProbe interface {
	IsRunning(ctx context.Context, exePath string) (bool, error)
}

// IdleProbe reports how long the system as a whole has seen no human
// input. Any error is treated by the tracker as zero (not idle), which
// biases toward counting time as active rather than discarding playtime.
type IdleProbe interface {
	IdleDuration(ctx context.Context) (time.Duration, error)
}

// Tracker polls OS process state for a registered set of games and
// maintains the per-game session state machine. All registry and session
// state is owned by a single mutex: one tick runs at a time, and
// registration updates or snapshot reads serialize against it. The
// workload (dozens of games at a multi-second cadence) has no throughput
// pressure, so no finer-grained locking is used.
type Tracker struct {
	mu       sync.Mutex // protects cfg, games, sessions
	cfg      *config.Config
	games    map[string]TrackedGame
	sessions map[string]*ActiveSession

	presence PresenceProbe
	idle     IdleProbe
	clock    clockwork.Clock
	sink     Sink
	health   *healthTracker
	interval time.Duration

	runMu  sync.Mutex // protects cancel, done (loop lifecycle)
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Tracker with its collaborators injected. A nil clock
// falls back to the real clock; sinks may be empty (events are dropped).
func New(cfg *config.Config, presence PresenceProbe, idle IdleProbe, clock clockwork.Clock, sinks ...Sink) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{
		cfg:      cfg,
		games:    make(map[string]TrackedGame),
		sessions: make(map[string]*ActiveSession),
		presence: presence,
		idle:     idle,
		clock:    clock,
		sink:     Sinks(sinks...),
		health:   newHealthTracker(),
		interval: cfg.Tracker.PollInterval,
	}
}

// SetConfig replaces the tracker's config pointer. Idle threshold, probe
// timeout, and health threshold take effect on the next tick. The poll
// interval is bound to the running loop and only changes on restart.
func (t *Tracker) SetConfig(cfg *config.Config) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg = cfg
}

// SetTrackedGames replaces the whole registry. Entries are assumed to be
// pre-validated at the registration boundary. Any open session whose game
// is absent from the new set is finalized immediately, as if the process
// had exited at the time of the call: no session may outlive its registry
// entry. Re-submitting an identical list is a no-op.
func (t *Tracker) SetTrackedGames(games []TrackedGame) {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[string]TrackedGame, len(games))
	for _, g := range games {
		next[g.ID] = g
	}

	for id := range t.sessions {
		if _, kept := next[id]; !kept {
			log.Info().Str("gameId", id).Msg("game removed from registry, finalizing open session")
			t.finalizeLocked(id, now)
		}
	}
	for id := range t.games {
		if _, kept := next[id]; !kept {
			t.health.remove(presenceProbeKey(id))
		}
	}

	t.games = next
	log.Debug().Int("count", len(next)).Msg("tracked games replaced")
}

// TrackedGames returns a copy of the current registry.
func (t *Tracker) TrackedGames() []TrackedGame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TrackedGame, 0, len(t.games))
	for _, g := range t.games {
		out = append(out, g)
	}
	return out
}

// ActiveSessions returns a point-in-time snapshot of open sessions for
// UI bootstrap, independent of the event stream.
func (t *Tracker) ActiveSessions() []SessionSnapshot {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SessionSnapshot, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, SessionSnapshot{
			GameID:        s.GameID,
			ExePath:       s.ExePath,
			StartedAt:     s.StartedAt,
			ActiveMinutes: s.activeFor(now).Minutes(),
			Idle:          s.wasIdle,
		})
	}
	return out
}

// ProbeHealth returns health records for all currently non-healthy probes.
func (t *Tracker) ProbeHealth() []ProbeHealth {
	t.mu.Lock()
	threshold := t.cfg.Tracker.HealthWarningThreshold
	t.mu.Unlock()
	return t.health.snapshot(threshold, t.clock.Now())
}

// Start runs an immediate tick and then begins the poll loop. Calling
// Start while a loop is already running replaces it (stop-then-start):
// the old loop is cancelled and drained first, open sessions are kept.
// The loop also exits when ctx is done, but only Stop finalizes sessions.
func (t *Tracker) Start(ctx context.Context) {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if t.cancel != nil {
		t.cancel()
		<-t.done
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	done := make(chan struct{})
	t.done = done

	log.Info().Dur("interval", t.interval).Msg("tracker started")
	t.tick()

	go t.run(ctx, done)
}

func (t *Tracker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.tick()
		}
	}
}

// Stop cancels the poll loop, waits for any in-flight tick to complete,
// and finalizes every remaining open session using the current timestamp,
// so that started/ended pairs are balanced before Stop returns. Safe to
// call more than once and without a prior Start.
func (t *Tracker) Stop() {
	t.runMu.Lock()
	if t.cancel != nil {
		t.cancel()
		<-t.done
		t.cancel = nil
		t.done = nil
	}
	t.runMu.Unlock()

	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.sessions {
		t.finalizeLocked(id, now)
	}
	log.Info().Msg("tracker stopped")
}

// tick runs one poll cycle: sample the idle probe once, then evaluate
// every registered game against the presence probe. Probes run with a
// per-call timeout; a timed-out or failed probe extends the current state
// by one tick's worth of uncertainty instead of forcing a transition.
func (t *Tracker) tick() {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	timeout := t.cfg.Tracker.ProbeTimeout
	idleFor := t.sampleIdle(timeout, now)
	isIdle := idleFor >= t.cfg.Tracker.IdleThreshold

	for id, game := range t.games {
		running := t.probePresence(game, timeout, now)
		t.transitionLocked(id, game, running, isIdle, now)
	}

	if changed := t.health.changed(t.cfg.Tracker.HealthWarningThreshold, now); len(changed) > 0 {
		for _, h := range changed {
			log.Warn().Str("probe", h.Probe).Str("status", string(h.Status)).
				Int("failures", h.Failures).Msg("probe health changed")
		}
		t.publish(Event{Type: EventProbeHealth, At: now, Health: changed})
	}
}

// sampleIdle queries the system idle probe, converting any error to zero.
func (t *Tracker) sampleIdle(timeout time.Duration, now time.Time) time.Duration {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	idleFor, err := t.idle.IdleDuration(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("idle probe failed, treating system as not idle")
		t.health.recordFailure(idleProbeKey, err, now)
		return 0
	}
	t.health.recordSuccess(idleProbeKey)
	return idleFor
}

// probePresence queries the presence probe, converting any error to
// "not running".
func (t *Tracker) probePresence(game TrackedGame, timeout time.Duration, now time.Time) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	running, err := t.presence.IsRunning(ctx, game.ExePath)
	if err != nil {
		log.Debug().Err(err).Str("gameId", game.ID).Msg("presence probe failed, treating as not running")
		t.health.recordFailure(presenceProbeKey(game.ID), err, now)
		return false
	}
	t.health.recordSuccess(presenceProbeKey(game.ID))
	return running
}

// transitionLocked applies one tick's observation to a single game's
// state machine. Caller must hold t.mu.
func (t *Tracker) transitionLocked(id string, game TrackedGame, running, isIdle bool, now time.Time) {
	sess, open := t.sessions[id]

	switch {
	case !open && running:
		sess = &ActiveSession{
			GameID:    id,
			ExePath:   game.ExePath,
			StartedAt: now,
		}
		t.sessions[id] = sess
		log.Info().Str("gameId", id).Str("exe", game.ExePath).Msg("session started")
		t.publish(Event{Type: EventStarted, GameID: id, ExePath: game.ExePath, At: now})

	case open && running:
		if isIdle {
			sess.IdleAccumulated += t.interval
		}
		if isIdle != sess.wasIdle {
			sess.wasIdle = isIdle
			log.Debug().Str("gameId", id).Str("status", sess.status().String()).Msg("session status changed")
			t.publish(Event{Type: EventStatus, GameID: id, ExePath: game.ExePath, At: now, Status: sess.status()})
		}
		t.publish(Event{
			Type:      EventLiveUpdate,
			GameID:    id,
			ExePath:   game.ExePath,
			At:        now,
			Status:    sess.status(),
			ActiveFor: sess.activeFor(now),
		})

	case open && !running:
		t.finalizeLocked(id, now)
	}
}

// finalizeLocked converts a game's open session into a CompletedSession
// and emits the ended event. Finalizing a game with no open session is a
// no-op, which makes the registry-removal and process-exit paths safe to
// overlap within one tick. Caller must hold t.mu.
func (t *Tracker) finalizeLocked(id string, now time.Time) {
	sess, open := t.sessions[id]
	if !open {
		return
	}
	delete(t.sessions, id)

	completed := &CompletedSession{
		ID:             uuid.NewString(),
		GameID:         sess.GameID,
		ExePath:        sess.ExePath,
		StartedAt:      sess.StartedAt,
		EndedAt:        now,
		ActiveDuration: sess.activeFor(now),
		IdleDuration:   sess.IdleAccumulated,
	}
	log.Info().Str("gameId", id).
		Dur("active", completed.ActiveDuration).
		Dur("idle", completed.IdleDuration).
		Msg("session ended")
	t.publish(Event{Type: EventEnded, GameID: id, ExePath: sess.ExePath, At: now, Session: completed})
}

// publish delivers an event to the sinks. Delivery errors are logged and
// never propagate: state correctness takes priority over event delivery.
func (t *Tracker) publish(ev Event) {
	if t.sink == nil {
		return
	}
	if err := t.sink.Publish(ev); err != nil {
		log.Warn().Err(err).Str("gameId", ev.GameID).Int("type", int(ev.Type)).Msg("event delivery failed")
	}
}
