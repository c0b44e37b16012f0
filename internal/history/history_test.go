package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playlog/backend/internal/tracker"
)

func completedSession(gameID string, start time.Time, active, idle time.Duration) tracker.CompletedSession {
	return tracker.CompletedSession{
		ID:             fmt.Sprintf("%s-%d", gameID, start.UnixNano()),
		GameID:         gameID,
		ExePath:        "/games/" + gameID + "/run.bin",
		StartedAt:      start,
		EndedAt:        start.Add(active + idle),
		ActiveDuration: active,
		IdleDuration:   idle,
	}
}

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := NewRecorder(NewStore(t.TempDir()), time.Second)
	require.NoError(t, err)
	return r
}

func TestRecorderAggregatesTotals(t *testing.T) {
	r := newTestRecorder(t)
	start := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

	s1 := completedSession("quake", start, 30*time.Minute, 5*time.Minute)
	s2 := completedSession("quake", start.Add(2*time.Hour), time.Hour, 0)
	require.NoError(t, r.Publish(tracker.Event{Type: tracker.EventEnded, Session: &s1}))
	require.NoError(t, r.Publish(tracker.Event{Type: tracker.EventEnded, Session: &s2}))

	totals, ok := r.Totals("quake")
	require.True(t, ok)
	assert.Equal(t, 2, totals.Sessions)
	assert.Equal(t, 90*time.Minute.Seconds(), totals.ActiveSeconds)
	assert.Equal(t, 5*time.Minute.Seconds(), totals.IdleSeconds)
	assert.Equal(t, s1.StartedAt, totals.FirstPlayedAt)
	assert.Equal(t, s2.EndedAt, totals.LastPlayedAt)

	assert.Equal(t, 90.0, r.TotalActiveMinutes("quake"))
	assert.Zero(t, r.TotalActiveMinutes("never-played"))
}

func TestRecorderIgnoresNonEndedEvents(t *testing.T) {
	r := newTestRecorder(t)

	require.NoError(t, r.Publish(tracker.Event{Type: tracker.EventStarted, GameID: "quake"}))
	require.NoError(t, r.Publish(tracker.Event{Type: tracker.EventLiveUpdate, GameID: "quake"}))
	require.NoError(t, r.Publish(tracker.Event{Type: tracker.EventEnded, GameID: "quake"})) // nil session

	_, ok := r.Totals("quake")
	assert.False(t, ok)
	assert.Empty(t, r.RecentSessions(0))
}

func TestRecorderCapsRecentSessions(t *testing.T) {
	r := newTestRecorder(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < maxRecentSessions+10; i++ {
		s := completedSession("marathon", start.Add(time.Duration(i)*time.Hour), time.Minute, 0)
		require.NoError(t, r.Publish(tracker.Event{Type: tracker.EventEnded, Session: &s}))
	}

	recent := r.RecentSessions(0)
	assert.Len(t, recent, maxRecentSessions)
	// Oldest entries were dropped, newest kept.
	assert.Equal(t, start.Add(time.Duration(maxRecentSessions+9)*time.Hour), recent[len(recent)-1].StartedAt)

	totals, ok := r.Totals("marathon")
	require.True(t, ok)
	assert.Equal(t, maxRecentSessions+10, totals.Sessions, "aggregates keep counting past the cap")

	assert.Len(t, r.RecentSessions(5), 5)
}

func TestStoreLoadMissingFile(t *testing.T) {
	s := NewStore(t.TempDir())
	l, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, ledgerVersion, l.Version)
	assert.NotNil(t, l.Totals)
	assert.Empty(t, l.Recent)
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	start := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

	l := newLedger()
	l.Totals["quake"] = &GameTotals{
		Sessions:      3,
		ActiveSeconds: 5400,
		IdleSeconds:   300,
		FirstPlayedAt: start,
		LastPlayedAt:  start.Add(3 * time.Hour),
	}
	l.Recent = append(l.Recent, completedSession("quake", start, 30*time.Minute, 5*time.Minute))
	require.NoError(t, s.Save(l))

	back, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, ledgerVersion, back.Version)
	require.Contains(t, back.Totals, "quake")
	assert.Equal(t, 3, back.Totals["quake"].Sessions)
	assert.Equal(t, 5400.0, back.Totals["quake"].ActiveSeconds)
	require.Len(t, back.Recent, 1)
	assert.Equal(t, "quake", back.Recent[0].GameID)
	assert.Equal(t, 30*time.Minute, back.Recent[0].ActiveDuration)
	assert.False(t, back.LastUpdated.IsZero())
}

func TestRecorderRunFinalSave(t *testing.T) {
	store := NewStore(t.TempDir())
	r, err := NewRecorder(store, time.Hour) // interval longer than the test
	require.NoError(t, err)

	s := completedSession("quake", time.Now().UTC(), 10*time.Minute, 0)
	require.NoError(t, r.Publish(tracker.Event{Type: tracker.EventEnded, Session: &s}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	back, err := store.Load()
	require.NoError(t, err)
	require.Contains(t, back.Totals, "quake")
	assert.Equal(t, 1, back.Totals["quake"].Sessions)
}
