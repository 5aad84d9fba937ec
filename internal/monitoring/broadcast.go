package monitoring

import "sync"

// subscriberBuffer bounds how far a slow subscriber may fall behind
// before events are dropped for it.
const subscriberBuffer = 32

// Broadcaster fans request events out to live subscribers (/v1/events).
// Publishing never blocks: a subscriber that cannot keep up loses events
// rather than stalling request handling.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan []byte]struct{})}
}

// Subscribe registers a new subscriber and returns its channel plus a
// cancel function that must be called when the subscriber goes away.
func (b *Broadcaster) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers payload to every subscriber that has buffer room.
func (b *Broadcaster) Publish(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- payload:
		default:
		}
	}
}
