package statushub

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kelvana/presetsmith/internal/models"
)

// subscriberBuffer must hold every transition a request can ever publish
// (PENDING, PROCESSING, terminal) plus the immediate emit on subscribe.
const subscriberBuffer = 4

// Hub is the in-process source of truth for "what is the current status of
// request X" and the fan-out point for live updates. One writer per id (the
// dispatch task) keeps per-id publishes ordered; the hub only guards its own
// maps.
type Hub struct {
	mu     sync.RWMutex
	status map[string]models.RequestStatus
	topics map[string]*topic

	grace time.Duration
	log   *logrus.Logger
}

type topic struct {
	mu     sync.Mutex
	subs   map[int]chan models.RequestStatus
	nextID int
	closed bool
}

func New(grace time.Duration, log *logrus.Logger) *Hub {
	if grace <= 0 {
		grace = 500 * time.Millisecond
	}
	if log == nil {
		log = logrus.New()
	}
	return &Hub{
		status: make(map[string]models.RequestStatus),
		topics: make(map[string]*topic),
		grace:  grace,
		log:    log,
	}
}

// SetStatus updates the authoritative map and fans the new status out to all
// live subscribers. Attempts to move out of a terminal state are rejected
// and logged. Terminal statuses schedule topic teardown after the grace
// period so already-attached subscribers observe the final value first.
func (h *Hub) SetStatus(id string, st models.RequestStatus) {
	h.mu.Lock()
	if cur, ok := h.status[id]; ok && cur != st && !cur.CanTransition(st) {
		h.mu.Unlock()
		h.log.WithFields(logrus.Fields{
			"request_id": id,
			"from":       cur,
			"to":         st,
		}).Error("rejected illegal status transition")
		return
	}
	h.status[id] = st
	t := h.topics[id]
	h.mu.Unlock()

	if t != nil {
		t.publish(st)
	}

	if st.IsTerminal() {
		time.AfterFunc(h.grace, func() { h.teardown(id) })
	}
}

// GetStatus is an O(1) lookup. The second return is false when this process
// has never seen the id; callers fall back to the ledger to tell "never
// existed" apart from "existed before a restart".
func (h *Hub) GetStatus(id string) (models.RequestStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.status[id]
	return st, ok
}

// Subscribe attaches a live listener for id. The current status, when known,
// is emitted immediately so a late subscriber does not wait for the next
// transition. The returned cancel func detaches the subscriber; it is safe
// to call more than once and never affects the producer or other
// subscribers. If the id's topic was already torn down after a terminal
// status, the channel yields the final value once and is closed. Cancelling
// the last subscriber of an id with no status reaps the topic, so probing
// bogus ids cannot grow the map.
func (h *Hub) Subscribe(id string) (<-chan models.RequestStatus, func()) {
	ch := make(chan models.RequestStatus, subscriberBuffer)

	// Lock order is always hub then topic.
	h.mu.Lock()
	cur, known := h.status[id]
	if known && cur.IsTerminal() {
		if _, live := h.topics[id]; !live {
			h.mu.Unlock()
			ch <- cur
			close(ch)
			return ch, func() {}
		}
	}
	t, ok := h.topics[id]
	if !ok {
		t = &topic{subs: make(map[int]chan models.RequestStatus)}
		h.topics[id] = t
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		h.mu.Unlock()
		if known {
			ch <- cur
		}
		close(ch)
		return ch, func() {}
	}
	subID := t.nextID
	t.nextID++
	t.subs[subID] = ch
	if known {
		ch <- cur
	}
	t.mu.Unlock()
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { h.unsubscribe(id, t, subID) })
	}
	return ch, cancel
}

// unsubscribe detaches one subscriber. When it was the last one and the id
// has no authoritative status (nothing will ever publish), the empty topic
// is reaped; topics for live requests stay until the terminal teardown.
func (h *Hub) unsubscribe(id string, t *topic, subID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, still := t.subs[subID]
	if !still {
		return
	}
	delete(t.subs, subID)
	close(ch)

	if len(t.subs) != 0 || t.closed {
		return
	}
	if _, known := h.status[id]; known {
		return
	}
	if h.topics[id] == t {
		delete(h.topics, id)
	}
}

// Clear drops the authoritative status and any topic for id.
func (h *Hub) Clear(id string) {
	h.mu.Lock()
	delete(h.status, id)
	t := h.topics[id]
	delete(h.topics, id)
	h.mu.Unlock()
	if t != nil {
		t.close()
	}
}

func (h *Hub) teardown(id string) {
	h.mu.Lock()
	t := h.topics[id]
	delete(h.topics, id)
	h.mu.Unlock()
	if t != nil {
		t.close()
	}
}

// publish delivers st to every subscriber in map-apply order. The send is
// non-blocking: the buffer covers the whole lifecycle, so a full channel
// means an abandoned reader and the event is dropped rather than stalling
// the writer.
func (t *topic) publish(st models.RequestStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	for _, ch := range t.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

func (t *topic) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
}
