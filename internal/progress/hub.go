// Package progress fans job progress updates out to live subscribers.
// Delivery is at-most-once with no replay.
package progress

import (
	"sync"
	"sync/atomic"

	"github.com/psantana5/parbench/pkg/logging"
)

// DefaultBuffer is the per-subscriber queue length
const DefaultBuffer = 64

// Update is one progress notification
type Update struct {
	JobID    string `json:"job_id"`
	Message  string `json:"message"`
	Progress int    `json:"progress"`
}

// Subscription receives updates on C until it is closed by Unsubscribe
type Subscription struct {
	C     <-chan Update
	ch    chan Update
	jobID string
}

func (s *Subscription) wants(jobID string) bool {
	return s.jobID == "" || s.jobID == jobID
}

// Hub is a best-effort broadcaster. Emit never blocks; a subscriber whose
// queue is full misses the update.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	logger  *logging.Logger
	dropped atomic.Uint64
	emitted atomic.Uint64
}

// NewHub creates an empty hub
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscribe registers a listener. An empty jobID receives every job's updates.
func (h *Hub) Subscribe(jobID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Update, buffer)
	sub := &Subscription{C: ch, ch: ch, jobID: jobID}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes the listener and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// Emit publishes an update to every interested subscriber
func (h *Hub) Emit(jobID, message string, progress int) {
	u := Update{JobID: jobID, Message: message, Progress: progress}
	h.emitted.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if !sub.wants(jobID) {
			continue
		}
		select {
		case sub.ch <- u:
		default:
			h.dropped.Add(1)
			h.logger.Debug("progress update dropped", map[string]interface{}{"job_id": jobID, "progress": progress})
		}
	}
}

// Subscribers returns the number of live subscriptions
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a queue was full
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Emitted returns how many updates were published
func (h *Hub) Emitted() uint64 { return h.emitted.Load() }
