package tracker

import "time"

// EventType classifies session lifecycle events.
type EventType int

const (
	EventStarted     EventType = iota // process first observed, session opened
	EventStatus                       // live/idle label changed
	EventLiveUpdate                   // per-tick active-time progress
	EventEnded                        // session finalized
	EventProbeHealth                  // probe failure-streak status changed
)

// Event carries one lifecycle notification to sinks. Only the fields
// relevant to the Type are populated. For a given game ID, events are
// published in causal order: a Started always precedes any Status,
// LiveUpdate, or Ended for the same session. No ordering is guaranteed
// across different games.
type Event struct {
	Type      EventType
	GameID    string
	ExePath   string
	At        time.Time // tick timestamp the event was produced at
	Status    SessionStatus
	ActiveFor time.Duration     // EventLiveUpdate
	Session   *CompletedSession // EventEnded; snapshot, safe to retain
	Health    []ProbeHealth     // EventProbeHealth
}

// Sink receives tracker events. Delivery is best-effort: a returned error
// is logged by the tracker and never aborts the transition that produced
// the event. Publish is called from the tracker's tick goroutine and must
// not block for long; slow consumers should buffer or drop internally.
type Sink interface {
	Publish(Event) error
}

type multiSink []Sink

func (m multiSink) Publish(ev Event) error {
	var firstErr error
	for _, s := range m {
		if err := s.Publish(ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Sinks fans one event stream out to several sinks. Every sink sees every
// event; the first error is reported after all sinks have been tried.
func Sinks(sinks ...Sink) Sink {
	return multiSink(sinks)
}
