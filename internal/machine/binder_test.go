package machine

import (
	"testing"
	"time"
)

// waitForState polls the store until the latest snapshot matches want.
func waitForState(t *testing.T, store *Store, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if snap, ok := store.Latest(); ok && snap.State == want {
			return
		}
		select {
		case <-deadline:
			snap, _ := store.Latest()
			t.Fatalf("store never reached state %q (latest: %+v)", want, snap)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestBinder_BindFeedsStore(t *testing.T) {
	store := NewStore()
	binder := NewBinder(store, nil)

	events := make(chan Snapshot, 1)
	binder.Bind(events)
	defer binder.Unbind()

	events <- Snapshot{State: StateReady}
	waitForState(t, store, StateReady)
}

func TestBinder_RebindClearsStore(t *testing.T) {
	store := NewStore()
	binder := NewBinder(store, nil)

	demo := make(chan Snapshot, 1)
	binder.Bind(demo)
	demo <- Snapshot{State: StateBrewing, BrewTemp: 92}
	waitForState(t, store, StateBrewing)

	// Rebinding to a new stream must not carry the old session's state
	local := make(chan Snapshot, 1)
	binder.Bind(local)

	if _, ok := store.Latest(); ok {
		t.Error("store retained snapshot from previous binding")
	}

	local <- Snapshot{State: StateHeating}
	waitForState(t, store, StateHeating)
	binder.Unbind()
}

func TestBinder_UnbindStopsPump(t *testing.T) {
	store := NewStore()
	binder := NewBinder(store, nil)

	events := make(chan Snapshot, 1)
	binder.Bind(events)
	binder.Unbind()

	if _, ok := store.Latest(); ok {
		t.Error("store not cleared by Unbind")
	}

	// Snapshots sent after Unbind must not reach the store
	select {
	case events <- Snapshot{State: StateFault}:
	default:
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := store.Latest(); ok {
		t.Error("snapshot applied after Unbind")
	}

	// Unbind again is safe
	binder.Unbind()
}

func TestBinder_StreamCloseEndsBinding(t *testing.T) {
	store := NewStore()
	binder := NewBinder(store, nil)

	events := make(chan Snapshot)
	binder.Bind(events)
	close(events)

	// A subsequent bind must not hang on the dead pump
	next := make(chan Snapshot, 1)
	binder.Bind(next)
	next <- Snapshot{State: StateIdle}
	waitForState(t, store, StateIdle)
	binder.Unbind()
}
