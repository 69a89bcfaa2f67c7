package machine

import (
	"sync"
)

// BinderLogger is the logging interface the Binder needs.
// Compatible with logging.Logger and slog.Logger.
type BinderLogger interface {
	Debug(msg string, args ...any)
}

// Binder wires an active transport's snapshot stream into the Store.
//
// Exactly one stream is bound at a time. Rebinding (on a transport change)
// first detaches from the previous stream and clears the Store so the new
// session starts from a clean slate.
//
// Thread Safety:
//   - Bind and Unbind are safe for concurrent use; they serialise
//     internally.
type Binder struct {
	store  *Store
	logger BinderLogger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewBinder creates a Binder feeding the given Store.
func NewBinder(store *Store, logger BinderLogger) *Binder {
	return &Binder{
		store:  store,
		logger: logger,
	}
}

// Bind attaches the given snapshot stream to the Store.
//
// Any previously bound stream is detached first and the Store is cleared.
// The binding ends when either the stream closes (transport disconnect) or
// Unbind is called.
func (b *Binder) Bind(events <-chan Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.detachLocked()
	b.store.Clear()

	stop := make(chan struct{})
	done := make(chan struct{})
	b.stop = stop
	b.done = done

	go b.pump(events, stop, done)
	if b.logger != nil {
		b.logger.Debug("domain store bound to transport stream")
	}
}

// Unbind detaches the current stream, if any, and clears the Store.
// Safe to call when nothing is bound.
func (b *Binder) Unbind() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.detachLocked()
	b.store.Clear()
}

// detachLocked stops the pump goroutine and waits for it to exit.
// Caller must hold b.mu.
func (b *Binder) detachLocked() {
	if b.stop == nil {
		return
	}
	close(b.stop)
	<-b.done
	b.stop = nil
	b.done = nil
	if b.logger != nil {
		b.logger.Debug("domain store unbound from transport stream")
	}
}

// pump copies snapshots from the stream into the Store until the stream
// closes or the binding is stopped.
func (b *Binder) pump(events <-chan Snapshot, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case snap, ok := <-events:
			if !ok {
				return
			}
			b.store.Update(snap)
		}
	}
}
