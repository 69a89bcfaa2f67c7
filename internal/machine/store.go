package machine

import (
	"sync"
)

// subscriberBufferSize is the per-subscriber channel buffer. Slow consumers
// drop old snapshots rather than stall the binder.
const subscriberBufferSize = 16

// Store is the application-wide container for the machine's latest state.
//
// It is decoupled from any particular transport: the Binder feeds it from
// whichever transport is active. Consumers either poll Latest() or
// Subscribe() for a live feed.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Store struct {
	mu      sync.RWMutex
	current *Snapshot
	subs    map[int]chan Snapshot
	nextID  int
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		subs: make(map[int]chan Snapshot),
	}
}

// Update records a new snapshot and fans it out to subscribers.
// Subscribers with full buffers have their oldest pending snapshot
// dropped in favour of the new one; the feed stays live, not lossless.
func (s *Store) Update(snap Snapshot) {
	s.mu.Lock()
	s.current = &snap
	s.mu.Unlock()

	// Fan out under the read lock: unsubscribe takes the write lock before
	// closing a channel, so no send can race a close.
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Buffer full: drop the oldest, then deliver the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// Latest returns the most recent snapshot, if any has been received.
func (s *Store) Latest() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Snapshot{}, false
	}
	return *s.current, true
}

// Clear discards the current snapshot. Called on rebinding so state from a
// previous session (notably a demo session) never leaks into the next one.
func (s *Store) Clear() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

// Subscribe registers a live snapshot feed.
//
// Returns:
//   - <-chan Snapshot: the feed; buffered, lossy under backpressure
//   - func(): unsubscribe; idempotent, closes the feed
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBufferSize)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		_, existed := s.subs[id]
		delete(s.subs, id)
		s.mu.Unlock()
		if existed {
			close(ch)
		}
	}
	return ch, unsubscribe
}

// SubscriberCount returns the number of active subscriptions.
func (s *Store) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
