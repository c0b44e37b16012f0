package history

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/playlog/backend/internal/tracker"
)

// Recorder consumes session-ended events and maintains the playtime
// ledger. Events are applied in memory immediately; a background flush
// loop persists dirty state periodically and once more on shutdown, so a
// write failure never blocks the tracker's tick.
type Recorder struct {
	persist      *Store
	saveInterval time.Duration

	mu     sync.Mutex
	ledger *Ledger
	dirty  bool
}

// NewRecorder loads the existing ledger from the store. The caller must
// run Run in a goroutine for periodic persistence.
func NewRecorder(persist *Store, saveInterval time.Duration) (*Recorder, error) {
	ledger, err := persist.Load()
	if err != nil {
		return nil, err
	}
	return &Recorder{
		persist:      persist,
		saveInterval: saveInterval,
		ledger:       ledger,
	}, nil
}

// Publish implements tracker.Sink. Only ended events carry durable data;
// everything else is ignored.
func (r *Recorder) Publish(ev tracker.Event) error {
	if ev.Type != tracker.EventEnded || ev.Session == nil {
		return nil
	}
	r.record(*ev.Session)
	return nil
}

func (r *Recorder) record(s tracker.CompletedSession) {
	r.mu.Lock()
	defer r.mu.Unlock()

	totals, ok := r.ledger.Totals[s.GameID]
	if !ok {
		totals = &GameTotals{FirstPlayedAt: s.StartedAt}
		r.ledger.Totals[s.GameID] = totals
	}
	totals.Sessions++
	totals.ActiveSeconds += s.ActiveDuration.Seconds()
	totals.IdleSeconds += s.IdleDuration.Seconds()
	if s.EndedAt.After(totals.LastPlayedAt) {
		totals.LastPlayedAt = s.EndedAt
	}

	r.ledger.Recent = append(r.ledger.Recent, s)
	if len(r.ledger.Recent) > maxRecentSessions {
		r.ledger.Recent = append([]tracker.CompletedSession(nil), r.ledger.Recent[len(r.ledger.Recent)-maxRecentSessions:]...)
	}
	r.dirty = true
}

// Run flushes dirty state every saveInterval until ctx is cancelled, then
// performs a final save. It blocks; run it in its own goroutine.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.save(true)
			return
		case <-ticker.C:
			r.save(false)
		}
	}
}

func (r *Recorder) save(force bool) {
	r.mu.Lock()
	if !r.dirty && !force {
		r.mu.Unlock()
		return
	}
	// Snapshot under the lock; write outside it so a slow disk doesn't
	// stall Publish callers.
	snapshot := Ledger{
		Version: r.ledger.Version,
		Totals:  make(map[string]*GameTotals, len(r.ledger.Totals)),
		Recent:  append([]tracker.CompletedSession(nil), r.ledger.Recent...),
	}
	for id, t := range r.ledger.Totals {
		cp := *t
		snapshot.Totals[id] = &cp
	}
	r.dirty = false
	r.mu.Unlock()

	if err := r.persist.Save(&snapshot); err != nil {
		log.Error().Err(err).Msg("saving play history failed")
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
	}
}

// Totals returns the aggregate playtime for one game.
func (r *Recorder) Totals(gameID string) (GameTotals, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.ledger.Totals[gameID]
	if !ok {
		return GameTotals{}, false
	}
	return *t, true
}

// TotalActiveMinutes returns the all-time active playtime for one game
// in minutes, zero if the game has never been played.
func (r *Recorder) TotalActiveMinutes(gameID string) float64 {
	t, ok := r.Totals(gameID)
	if !ok {
		return 0
	}
	return t.ActiveSeconds / 60
}

// RecentSessions returns up to limit most recent completed sessions,
// newest last. A non-positive limit returns all retained sessions.
func (r *Recorder) RecentSessions(limit int) []tracker.CompletedSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	recent := r.ledger.Recent
	if limit > 0 && len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}
	return append([]tracker.CompletedSession(nil), recent...)
}
