package tracker

import (
	"encoding/json"
	"time"
)

// TrackedGame is a user-registered library entry the tracker watches.
// Detection is by the basename of ExePath only, not the full path or PID:
// two installs of the same executable name are indistinguishable. That
// imprecision is inherited from the original registration model and is
// deliberately preserved.
type TrackedGame struct {
	ID      string `json:"id"`
	ExePath string `json:"exePath"`
}

// SessionStatus is the observability label for a running session: the game
// process exists either under recent user input ("live") or with the whole
// system idle ("idle").
type SessionStatus int

const (
	StatusLive SessionStatus = iota
	StatusIdle
)

var statusNames = map[SessionStatus]string{
	StatusLive: "live",
	StatusIdle: "idle",
}

var statusFromName = map[string]SessionStatus{
	"live": StatusLive,
	"idle": StatusIdle,
}

func (s SessionStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s SessionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SessionStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := statusFromName[name]; ok {
		*s = v
	}
	return nil
}

// ActiveSession is the mutable per-game runtime state while the game's
// process is observed running. At most one exists per game ID at any
// instant; it lives only inside the tracker's session map.
type ActiveSession struct {
	GameID          string
	ExePath         string
	StartedAt       time.Time
	IdleAccumulated time.Duration
	wasIdle         bool
}

// status returns the observability label from the last tick's idle decision.
func (s *ActiveSession) status() SessionStatus {
	if s.wasIdle {
		return StatusIdle
	}
	return StatusLive
}

// activeFor returns wall-clock time since start minus accumulated idle
// time, clamped to zero.
func (s *ActiveSession) activeFor(now time.Time) time.Duration {
	active := now.Sub(s.StartedAt) - s.IdleAccumulated
	if active < 0 {
		active = 0
	}
	return active
}

// CompletedSession is the immutable record of a finished play session.
// ActiveDuration + IdleDuration need not equal EndedAt - StartedAt exactly
// because ActiveDuration is clamped at zero, but it is never negative.
type CompletedSession struct {
	ID             string        `json:"id"`
	GameID         string        `json:"gameId"`
	ExePath        string        `json:"exePath"`
	StartedAt      time.Time     `json:"startedAt"`
	EndedAt        time.Time     `json:"endedAt"`
	ActiveDuration time.Duration `json:"activeDuration"`
	IdleDuration   time.Duration `json:"idleDuration"`
}

// SessionSnapshot is a point-in-time view of one active session, served to
// clients on bootstrap/reconnect independently of the event stream.
type SessionSnapshot struct {
	GameID        string    `json:"gameId"`
	ExePath       string    `json:"exePath"`
	StartedAt     time.Time `json:"startedAt"`
	ActiveMinutes float64   `json:"activeMinutes"`
	Idle          bool      `json:"idle"`
}
