package finalize

import (
	"context"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleEventStream(t *testing.T) {
	sys := newTestSystem(t, nil)

	var mu sync.Mutex
	var got []EventType
	sub := sys.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
	})
	defer sub.Close()

	id, err := sys.Register(nil, nil)
	require.NoError(t, err)
	sys.MarkUnreachable(id)
	require.NoError(t, sys.RunCycle(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{EventRegistered, EventQueued, EventFinalized, EventReclaimed}, got)
}

func TestSubscriptionCloseDetaches(t *testing.T) {
	sys := newTestSystem(t, nil)

	var count int
	sub := sys.Subscribe(func(Event) { count++ })

	_, err := sys.Register(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	sub.Close()
	sub.Close() // safe to repeat

	_, err = sys.Register(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDroppedSubscriptionDoesNotLeak(t *testing.T) {
	sys := newTestSystem(t, nil)

	var count int
	// The subscription is dropped on the floor: the hub must not keep it
	// alive, mirroring how a long-lived publisher should not pin its
	// subscribers.
	func() {
		_ = sys.Subscribe(func(Event) { count++ })
	}()

	runtime.GC()
	runtime.GC()

	_, err := sys.Register(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDisposedEventCarriesState(t *testing.T) {
	sys := newTestSystem(t, nil)

	var events []Event
	sub := sys.Subscribe(func(e Event) {
		if e.Type == EventDisposed {
			events = append(events, e)
		}
	})
	defer sub.Close()

	id, err := sys.Register(nil, nil)
	require.NoError(t, err)
	require.NoError(t, sys.Dispose(id))
	require.NoError(t, sys.Dispose(id))

	require.Equal(t, 1, len(events))
	assert.Equal(t, id, events[0].Handle)
	assert.Equal(t, StateDisposed, events[0].State)
}
