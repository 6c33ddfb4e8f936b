// internal/sink/hub.go
package sink

import (
	"sync"

	"go.uber.org/atomic"
	"k8s.io/klog/v2"

	"github.com/tamzrod/hsc-probe/internal/poller"
)

// DefaultBuffer is the subscriber buffer used when none is given.
const DefaultBuffer = 256

// Hub fans events out to subscribers. Publish never blocks: with no
// subscriber the event is dropped, and a full subscriber misses it.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscription is one observer's stream.
type Subscription struct {
	hub  *Hub
	ch   chan poller.Event
	once sync.Once
}

// C returns the event stream. It is closed by Close.
func (s *Subscription) C() <-chan poller.Event { return s.ch }

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		close(s.ch)
		s.hub.mu.Unlock()
	})
}

// Subscribe attaches a new observer.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{hub: h, ch: make(chan poller.Event, buffer)}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Publish implements poller.Publisher.
func (h *Hub) Publish(ev poller.Event) {
	h.published.Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			h.dropped.Inc()
			klog.V(3).InfoS("Event dropped, subscriber full", "block", ev.Block, "id", ev.ID)
		}
	}
}

// Subscribers returns the number of attached observers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Published returns the number of events ever published.
func (h *Hub) Published() uint64 { return h.published.Load() }

// Dropped returns the number of per-subscriber deliveries skipped.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Consume runs fn for every event on sub until the subscription closes.
func Consume(sub *Subscription, fn func(poller.Event)) {
	for ev := range sub.C() {
		fn(ev)
	}
}
