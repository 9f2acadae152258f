// Package notify turns filter events into outward notifications.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/eliteGoblin/clickguard/internal/domain"
)

// Event names carried on the wire.
const (
	EventClickBlocked  = "click_blocked"
	EventStatusChanged = "filter_status_changed"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 256

// Notification is one outward event.
type Notification struct {
	Event   string    `json:"event"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// Hub fans notifications out to subscribers.
// Publishing never blocks: a subscriber whose queue is full misses the
// event and the drop is counted.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	dropped atomic.Uint64
	now     func() time.Time
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[*Subscription]struct{}),
		now:  time.Now,
	}
}

// Subscription is one consumer's queue.
type Subscription struct {
	ID string

	hub  *Hub
	ch   chan Notification
	once sync.Once
}

// C returns the channel notifications arrive on. It is closed by Close.
func (s *Subscription) C() <-chan Notification {
	return s.ch
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		close(s.ch)
		s.hub.mu.Unlock()
	})
}

// Subscribe registers a consumer with the given queue length.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{
		ID:  uuid.NewString(),
		hub: h,
		ch:  make(chan Notification, buffer),
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Subscribers returns the number of attached consumers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped on full queues.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// NotifyBlocked publishes a click_blocked event.
func (h *Hub) NotifyBlocked(ev domain.BlockedEvent) {
	h.publish(Notification{Event: EventClickBlocked, Payload: ev, At: h.now()})
}

// NotifyStatusChanged publishes a filter_status_changed event.
func (h *Hub) NotifyStatusChanged(status domain.FilterStatus) {
	h.publish(Notification{Event: EventStatusChanged, Payload: status, At: h.now()})
}

func (h *Hub) publish(n Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.ch <- n:
		default:
			h.dropped.Add(1)
		}
	}
}
