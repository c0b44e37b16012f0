package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playlog/backend/internal/tracker"
)

type rawMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readMessage(t *testing.T, conn *websocket.Conn) rawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg rawMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// dialWS serves srv's routes on an ephemeral port and opens a real
// websocket connection to /ws.
func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBroadcasterEventStream(t *testing.T) {
	srv, _, _, b := newTestServer(t, nil)

	started := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	b.SetSnapshotHook(func() SnapshotPayload {
		return SnapshotPayload{
			Sessions: []tracker.SessionSnapshot{{
				GameID:        "quake",
				ExePath:       "/games/quake/quake.bin",
				StartedAt:     started,
				ActiveMinutes: 12.5,
			}},
		}
	})

	conn := dialWS(t, srv)

	// A client gets the full state snapshot first.
	msg := readMessage(t, conn)
	require.Equal(t, MsgSnapshot, msg.Type)
	var snap SnapshotPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &snap))
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, "quake", snap.Sessions[0].GameID)

	// Lifecycle events go out immediately.
	require.NoError(t, b.Publish(tracker.Event{
		Type:    tracker.EventStarted,
		GameID:  "quake",
		ExePath: "/games/quake/quake.bin",
		At:      started,
	}))
	msg = readMessage(t, conn)
	require.Equal(t, MsgSessionStarted, msg.Type)
	var sp SessionStartedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &sp))
	assert.Equal(t, "quake", sp.GameID)
	assert.True(t, sp.StartedAt.Equal(started))

	// Live updates within one throttle window coalesce into one message.
	require.NoError(t, b.Publish(tracker.Event{Type: tracker.EventLiveUpdate, GameID: "quake", ActiveFor: 3 * time.Minute}))
	require.NoError(t, b.Publish(tracker.Event{Type: tracker.EventLiveUpdate, GameID: "doom", ActiveFor: time.Minute, Status: tracker.StatusIdle}))
	msg = readMessage(t, conn)
	require.Equal(t, MsgLiveUpdate, msg.Type)
	var lp LiveUpdatePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &lp))
	require.Len(t, lp.Updates, 2)
	assert.Equal(t, "quake", lp.Updates[0].GameID)
	assert.InDelta(t, 3.0, lp.Updates[0].ActiveMinutes, 0.001)
	assert.True(t, lp.Updates[1].Idle)

	// Ended events carry the completed record.
	require.NoError(t, b.Publish(tracker.Event{
		Type:   tracker.EventEnded,
		GameID: "quake",
		Session: &tracker.CompletedSession{
			ID:             "s1",
			GameID:         "quake",
			StartedAt:      started,
			EndedAt:        started.Add(time.Hour),
			ActiveDuration: 54 * time.Minute,
			IdleDuration:   6 * time.Minute,
		},
	}))
	msg = readMessage(t, conn)
	require.Equal(t, MsgSessionEnded, msg.Type)
	var ep SessionEndedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &ep))
	assert.Equal(t, "s1", ep.Session.ID)
	assert.Equal(t, 54*time.Minute, ep.Session.ActiveDuration)
}

func TestBroadcasterStatusAndHealth(t *testing.T) {
	srv, _, _, b := newTestServer(t, nil)
	conn := dialWS(t, srv)
	readMessage(t, conn) // discard connect snapshot

	require.NoError(t, b.Publish(tracker.Event{Type: tracker.EventStatus, GameID: "quake", Status: tracker.StatusIdle}))
	msg := readMessage(t, conn)
	require.Equal(t, MsgSessionStatus, msg.Type)
	var sp SessionStatusPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &sp))
	assert.Equal(t, tracker.StatusIdle, sp.Status)

	require.NoError(t, b.Publish(tracker.Event{Type: tracker.EventProbeHealth, Health: []tracker.ProbeHealth{
		{Probe: "idle", Status: tracker.ProbeDegraded, Failures: 1},
	}}))
	msg = readMessage(t, conn)
	require.Equal(t, MsgProbeHealth, msg.Type)
	var hp ProbeHealthPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &hp))
	require.Len(t, hp.Probes, 1)
	assert.Equal(t, tracker.ProbeDegraded, hp.Probes[0].Status)
}

// Publishing must stay safe while clients connect and disconnect
// underneath it: the send channels are owned by the broadcaster's lock,
// so a disconnect closing a channel can never race an in-flight send.
func TestBroadcastDuringClientChurn(t *testing.T) {
	srv, _, _, b := newTestServer(t, nil)
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			_ = b.Publish(tracker.Event{Type: tracker.EventStarted, GameID: "quake", At: time.Now()})
			_ = b.Publish(tracker.Event{Type: tracker.EventLiveUpdate, GameID: "quake", ActiveFor: time.Duration(i) * time.Second})
		}
	}()

	for i := 0; i < 120; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		require.NoError(t, conn.Close())
	}

	close(stop)
	wg.Wait()
	require.Eventually(t, func() bool { return b.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

// A queued live_update for a game must be delivered before that game's
// session_ended, even when the throttle window has not elapsed yet.
func TestEndedFlushesPendingLiveUpdates(t *testing.T) {
	srv, _, _, b := newTestServer(t, nil)
	conn := dialWS(t, srv)
	readMessage(t, conn) // connect snapshot

	require.NoError(t, b.Publish(tracker.Event{Type: tracker.EventLiveUpdate, GameID: "quake", ActiveFor: 5 * time.Minute}))
	require.NoError(t, b.Publish(tracker.Event{
		Type:   tracker.EventEnded,
		GameID: "quake",
		Session: &tracker.CompletedSession{
			ID:             "s1",
			GameID:         "quake",
			ActiveDuration: 5 * time.Minute,
		},
	}))

	msg := readMessage(t, conn)
	require.Equal(t, MsgLiveUpdate, msg.Type)
	var lp LiveUpdatePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &lp))
	require.Len(t, lp.Updates, 1)
	assert.Equal(t, "quake", lp.Updates[0].GameID)

	msg = readMessage(t, conn)
	require.Equal(t, MsgSessionEnded, msg.Type)
}

func TestClientPayloadGetsErrorReply(t *testing.T) {
	srv, _, _, _ := newTestServer(t, nil)
	conn := dialWS(t, srv)
	readMessage(t, conn) // connect snapshot

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"hello":"server"}`)))

	msg := readMessage(t, conn)
	require.Equal(t, MsgError, msg.Type)
	var ep ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &ep))
	assert.Equal(t, "unsupported message", ep.Error)
}

func TestBroadcasterClientLifecycle(t *testing.T) {
	srv, _, _, b := newTestServer(t, nil)

	conn := dialWS(t, srv)
	readMessage(t, conn) // connect snapshot

	require.Eventually(t, func() bool { return b.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return b.ClientCount() == 0 },
		time.Second, 10*time.Millisecond, "read-loop exit must remove the client")
}
