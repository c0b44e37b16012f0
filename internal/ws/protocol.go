package ws

import (
	"time"

	"github.com/playlog/backend/internal/tracker"
)

type MessageType string

const (
	MsgSnapshot       MessageType = "snapshot"
	MsgSessionStarted MessageType = "session_started"
	MsgSessionStatus  MessageType = "session_status"
	MsgLiveUpdate     MessageType = "live_update"
	MsgSessionEnded   MessageType = "session_ended"
	MsgProbeHealth    MessageType = "probe_health"
	MsgError          MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// SnapshotPayload is the full state sent to a client on connect and on
// the periodic snapshot loop, so a reconnecting UI never depends on
// having seen past deltas.
type SnapshotPayload struct {
	Sessions    []tracker.SessionSnapshot `json:"sessions"`
	ProbeHealth []tracker.ProbeHealth     `json:"probeHealth,omitempty"`
}

type SessionStartedPayload struct {
	GameID    string    `json:"gameId"`
	ExePath   string    `json:"exePath"`
	StartedAt time.Time `json:"startedAt"`
}

type SessionStatusPayload struct {
	GameID string                `json:"gameId"`
	Status tracker.SessionStatus `json:"status"`
}

// LiveSessionUpdate is one game's per-tick progress counter.
type LiveSessionUpdate struct {
	GameID        string  `json:"gameId"`
	ActiveMinutes float64 `json:"activeMinutes"`
	Idle          bool    `json:"idle"`
}

type LiveUpdatePayload struct {
	Updates []LiveSessionUpdate `json:"updates"`
}

type SessionEndedPayload struct {
	Session tracker.CompletedSession `json:"session"`
}

type ProbeHealthPayload struct {
	Probes []tracker.ProbeHealth `json:"probes"`
}

// ErrorPayload is sent to a single client, e.g. in reply to an
// unexpected inbound payload on the push-only stream.
type ErrorPayload struct {
	Error string `json:"error"`
}
