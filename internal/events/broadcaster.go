package events

import (
	"sync"
	"sync/atomic"

	"github.com/mailburst/mailburst/internal/metrics"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 256

// Broadcaster fans events out to any number of subscribers. Publish
// never blocks: when a subscriber's buffer is full the event is
// dropped for that subscriber only. No history is kept, so a
// subscriber that connects mid-job sees only what follows.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	buffer  int
	dropped atomic.Uint64
}

// Subscription is one observer's event feed. C stays open until
// Close is called.
type Subscription struct {
	C <-chan Event

	b  *Broadcaster
	ch chan Event
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new observer.
func (b *Broadcaster) Subscribe() *Subscription {
	ch := make(chan Event, b.buffer)
	sub := &Subscription{C: ch, b: b, ch: ch}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Close unsubscribes and closes the feed. Safe to call once per
// subscription; pending buffered events are still readable.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if _, ok := s.b.subs[s]; !ok {
		return
	}
	delete(s.b.subs, s)
	close(s.ch)
}

// Publish delivers an event to every current subscriber without
// blocking. Full buffers drop the event for that subscriber.
func (b *Broadcaster) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
			metrics.IncEventsDropped()
		}
	}
}

// Dropped returns how many events were discarded on full buffers.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
