package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/playlog/backend/internal/tracker"
)

type client struct {
	conn *websocket.Conn
	// send is closed only by RemoveClient, under the broadcaster's write
	// lock. Every send into it holds at least the read lock, so a send
	// can never race the close.
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster fans tracker events out to WebSocket clients. Delivery is
// fire-and-forget: each client has a bounded send buffer and a client
// that cannot keep up is disconnected rather than allowed to stall the
// tick loop. Lifecycle events go out immediately; per-tick live updates
// are coalesced for one throttle window into a single message.
type Broadcaster struct {
	mu           sync.RWMutex
	clients      map[*client]bool
	snapshotHook func() SnapshotPayload
	throttle     time.Duration

	flushMu     sync.Mutex
	pendingLive []LiveSessionUpdate
	flushTimer  *time.Timer

	snapshotTicker *time.Ticker
	stopSnapshots  chan struct{}
}

func NewBroadcaster(throttle, snapshotInterval time.Duration) *Broadcaster {
	b := &Broadcaster{
		clients:        make(map[*client]bool),
		throttle:       throttle,
		snapshotTicker: time.NewTicker(snapshotInterval),
		stopSnapshots:  make(chan struct{}),
	}
	go b.snapshotLoop()
	return b
}

// SetSnapshotHook configures the callback that builds full-state
// snapshots. Must be set before clients connect.
func (b *Broadcaster) SetSnapshotHook(hook func() SnapshotPayload) {
	b.snapshotHook = hook
}

// Stop halts the periodic snapshot loop. Connected clients are kept.
func (b *Broadcaster) Stop() {
	b.snapshotTicker.Stop()
	close(b.stopSnapshots)
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	// Build the snapshot before taking the lock; the hook reads the
	// tracker, which has its own mutex.
	data, err := json.Marshal(WSMessage{Type: MsgSnapshot, Payload: b.snapshot()})

	b.mu.Lock()
	b.clients[c] = true
	if err == nil {
		select {
		case c.send <- data:
		default:
			// Client too slow for its very first message; it will get
			// the next periodic snapshot instead.
		}
	}
	b.mu.Unlock()

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Publish implements tracker.Sink.
func (b *Broadcaster) Publish(ev tracker.Event) error {
	switch ev.Type {
	case tracker.EventStarted:
		b.flushLive()
		b.broadcast(WSMessage{Type: MsgSessionStarted, Payload: SessionStartedPayload{
			GameID:    ev.GameID,
			ExePath:   ev.ExePath,
			StartedAt: ev.At,
		}})
	case tracker.EventStatus:
		b.broadcast(WSMessage{Type: MsgSessionStatus, Payload: SessionStatusPayload{
			GameID: ev.GameID,
			Status: ev.Status,
		}})
	case tracker.EventLiveUpdate:
		b.queueLive(LiveSessionUpdate{
			GameID:        ev.GameID,
			ActiveMinutes: ev.ActiveFor.Minutes(),
			Idle:          ev.Status == tracker.StatusIdle,
		})
	case tracker.EventEnded:
		// Drain queued counters first so a coalesced live_update for this
		// game never arrives after its session_ended.
		b.flushLive()
		b.broadcast(WSMessage{Type: MsgSessionEnded, Payload: SessionEndedPayload{
			Session: *ev.Session,
		}})
	case tracker.EventProbeHealth:
		b.broadcast(WSMessage{Type: MsgProbeHealth, Payload: ProbeHealthPayload{
			Probes: ev.Health,
		}})
	}
	return nil
}

// queueLive batches live updates produced within one throttle window into
// a single delta message.
func (b *Broadcaster) queueLive(update LiveSessionUpdate) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingLive = append(b.pendingLive, update)
	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flushLive)
	}
}

// flushLive drains the pending live-update queue immediately. Called by
// the throttle timer, and synchronously before lifecycle broadcasts so
// deltas keep their causal order.
func (b *Broadcaster) flushLive() {
	b.flushMu.Lock()
	if b.flushTimer != nil {
		b.flushTimer.Stop()
		b.flushTimer = nil
	}
	updates := b.pendingLive
	b.pendingLive = nil
	b.flushMu.Unlock()

	if len(updates) == 0 {
		return
	}
	b.broadcast(WSMessage{Type: MsgLiveUpdate, Payload: LiveUpdatePayload{Updates: updates}})
}

// SendError reports a protocol error to one client without touching the
// shared event stream.
func (b *Broadcaster) SendError(c *client, reason string) {
	data, err := json.Marshal(WSMessage{Type: MsgError, Payload: ErrorPayload{Error: reason}})
	if err != nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (b *Broadcaster) snapshot() SnapshotPayload {
	if b.snapshotHook == nil {
		return SnapshotPayload{}
	}
	return b.snapshotHook()
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.stopSnapshots:
			return
		case <-b.snapshotTicker.C:
			b.broadcast(WSMessage{Type: MsgSnapshot, Payload: b.snapshot()})
		}
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("broadcast marshal failed")
		return
	}

	var slow []*client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	// Disconnect stragglers after releasing the read lock; RemoveClient
	// needs the write lock. A client the reader goroutine removed in the
	// meantime is skipped by RemoveClient's membership check.
	for _, c := range slow {
		log.Warn().Msg("ws client too slow, disconnecting")
		b.RemoveClient(c)
	}
}
