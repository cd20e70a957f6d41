// Package progress fans run progress out to any number of subscribers
// without letting a slow consumer stall the harvest.
package progress

import (
	"sync"
	"time"
)

// Phase names the stage of work an event reports on.
type Phase string

const (
	PhaseScanning    Phase = "scanning"
	PhaseFetching    Phase = "fetching"
	PhaseParsing     Phase = "parsing"
	PhaseReconciling Phase = "reconciling"
)

// Event is one progress observation. Completed and Total count units of
// the current phase; Total is zero when the extent is not yet known.
type Event struct {
	Phase     Phase     `json:"phase"`
	Brand     string    `json:"brand,omitempty"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Errors    int       `json:"errors"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Emitter delivers events to subscribers over bounded channels. Publish
// never blocks: when a subscriber's buffer is full the oldest pending
// event is dropped, so consumers always converge on recent state.
type Emitter struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
	now    func() time.Time
}

// NewEmitter builds an emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{
		subs: make(map[int]chan Event),
		now:  time.Now,
	}
}

// SetClock overrides the event timestamp source for tests.
func (e *Emitter) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Subscribe registers a consumer and returns its event channel together
// with a cancel function. The channel is closed on cancel or when the
// emitter itself closes. buffer must be at least 1.
func (e *Emitter) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Event, buffer)
	if e.closed {
		close(ch)
		return ch, func() {}
	}

	id := e.nextID
	e.nextID++
	e.subs[id] = ch

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber. Events published after Close
// are discarded.
func (e *Emitter) Publish(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	if ev.At.IsZero() {
		ev.At = e.now()
	}

	for _, ch := range e.subs {
		for {
			select {
			case ch <- ev:
			default:
				// Buffer full: evict the oldest event and retry. The
				// eviction can only race with the consumer draining, in
				// which case the retry succeeds immediately.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Close closes every subscriber channel. Further Publish calls are no-ops
// and further Subscribe calls receive an already-closed channel.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}
