package finalize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalizerErrorIsContained(t *testing.T) {
	sys := newTestSystem(t, nil)

	boom := errors.New("release failed")
	bad, err := sys.Register(func(HandleView) error { return boom }, nil)
	require.NoError(t, err)

	var finalized atomic.Int32
	good, err := sys.Register(func(HandleView) error { finalized.Add(1); return nil }, nil)
	require.NoError(t, err)

	sys.MarkUnreachable(bad)
	sys.MarkUnreachable(good)
	require.NoError(t, sys.RunCycle(context.Background()))

	// The failing handle neither crashed the worker nor starved its peer.
	assert.Equal(t, int32(1), finalized.Load())

	ferr := sys.LastFinalizerError()
	require.NotNil(t, ferr)
	assert.Equal(t, bad, ferr.Handle)
	assert.Equal(t, uint32(1), ferr.Attempt)
	assert.ErrorIs(t, ferr, boom)

	// A failed finalizer still counts as the handle's one pass.
	for _, id := range []HandleID{bad, good} {
		st, err := sys.GetState(id)
		require.NoError(t, err)
		assert.Equal(t, StateReclaimed, st)
	}
}

func TestFinalizerPanicIsContained(t *testing.T) {
	sys := newTestSystem(t, nil)

	id, err := sys.Register(func(HandleView) error { panic("finalizer exploded") }, nil)
	require.NoError(t, err)

	sys.MarkUnreachable(id)
	require.NoError(t, sys.RunCycle(context.Background()))

	ferr := sys.LastFinalizerError()
	require.NotNil(t, ferr)
	assert.Contains(t, ferr.Error(), "finalizer exploded")

	st, err := sys.GetState(id)
	require.NoError(t, err)
	assert.Equal(t, StateReclaimed, st)
}

func TestStrictModeRoutesFailuresToFatalHandler(t *testing.T) {
	var fatal atomic.Pointer[FinalizerError]
	cfg := DefaultConfig()
	cfg.StrictFailures = true
	cfg.FatalHandler = func(err *FinalizerError) { fatal.Store(err) }
	sys := newTestSystem(t, cfg)

	boom := errors.New("unhandled")
	id, err := sys.Register(func(HandleView) error { return boom }, nil)
	require.NoError(t, err)

	sys.MarkUnreachable(id)
	require.NoError(t, sys.RunCycle(context.Background()))

	got := fatal.Load()
	require.NotNil(t, got)
	assert.Equal(t, id, got.Handle)
	assert.ErrorIs(t, got, boom)
}

func TestDisposeDuringFinalizationRunsOneCleanup(t *testing.T) {
	sys := newTestSystem(t, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var finalized, disposed atomic.Int32

	id, err := sys.Register(
		func(HandleView) error {
			finalized.Add(1)
			close(started)
			<-release
			return nil
		},
		func() error { disposed.Add(1); return nil },
	)
	require.NoError(t, err)

	sys.MarkUnreachable(id)

	cycleErr := make(chan error, 1)
	go func() { cycleErr <- sys.RunCycle(context.Background()) }()

	<-started
	// The finalizer callback is mid-flight: it owns the single cleanup
	// execution, so Dispose only records suppression.
	require.NoError(t, sys.Dispose(id))
	close(release)
	require.NoError(t, <-cycleErr)

	assert.Equal(t, int32(1), finalized.Load())
	assert.Equal(t, int32(0), disposed.Load())

	st, err := sys.GetState(id)
	require.NoError(t, err)
	assert.Equal(t, StateDisposed, st)
}

func TestDisposeRacingResolveLandsDisposed(t *testing.T) {
	sys := newTestSystem(t, nil)

	// Track which handles got a Disposed event: whenever Dispose observed the
	// finalizer mid-flight and reported success, the handle must settle in
	// Disposed, never Reclaimed, no matter how the resolve step interleaves.
	var mu sync.Mutex
	disposedEvents := make(map[HandleID]bool)
	sub := sys.Subscribe(func(e Event) {
		if e.Type == EventDisposed {
			mu.Lock()
			disposedEvents[e.Handle] = true
			mu.Unlock()
		}
	})
	defer sub.Close()

	for i := 0; i < 500; i++ {
		id, err := sys.Register(nil, nil)
		require.NoError(t, err)
		sys.MarkUnreachable(id)

		var wg sync.WaitGroup
		wg.Add(1)
		var derr error
		go func() {
			defer wg.Done()
			derr = sys.Dispose(id)
		}()
		require.NoError(t, sys.RunCycle(context.Background()))
		wg.Wait()
		require.NoError(t, derr)

		st, err := sys.GetState(id)
		require.NoError(t, err)

		mu.Lock()
		sawDispose := disposedEvents[id]
		mu.Unlock()
		if sawDispose {
			assert.Equal(t, StateDisposed, st)
		} else {
			// Without a Disposed event the dispose either lost outright
			// (Reclaimed) or its flags landed just after the worker's final
			// check and demoted the handle (Disposed).
			assert.Contains(t, []HandleState{StateDisposed, StateReclaimed}, st)
		}
	}
}

func TestConcurrentDisposeAndCollectExactlyOnce(t *testing.T) {
	sys := newTestSystem(t, nil)

	const n = 200
	type tracked struct {
		id       HandleID
		cleanups atomic.Int32
	}
	handles := make([]*tracked, n)
	for i := 0; i < n; i++ {
		tr := &tracked{}
		id, err := sys.Register(
			func(HandleView) error { tr.cleanups.Add(1); return nil },
			func() error { tr.cleanups.Add(1); return nil },
		)
		require.NoError(t, err)
		tr.id = id
		handles[i] = tr
	}

	// Race explicit disposal against the unreachability trigger for every
	// handle, then drain until quiet.
	var wg sync.WaitGroup
	wg.Add(2 * n)
	for _, tr := range handles {
		go func() {
			defer wg.Done()
			_ = sys.Dispose(tr.id)
		}()
		go func() {
			defer wg.Done()
			sys.MarkUnreachable(tr.id)
		}()
	}
	wg.Wait()
	require.NoError(t, sys.AwaitQuiescence(context.Background()))

	for i, tr := range handles {
		assert.Equal(t, int32(1), tr.cleanups.Load(), fmt.Sprintf("handle %d cleaned up wrong number of times", i))
		st, err := sys.GetState(tr.id)
		require.NoError(t, err)
		assert.Contains(t, []HandleState{StateDisposed, StateReclaimed}, st)
	}
}

func TestStartWorkerConcurrentWithClose(t *testing.T) {
	for i := 0; i < 50; i++ {
		sys, err := New(nil)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = sys.StartWorker()
		}()
		go func() {
			defer wg.Done()
			_ = sys.Close()
		}()
		wg.Wait()
		require.NoError(t, sys.Close())
	}
}

func TestBackgroundWorkerDrains(t *testing.T) {
	sys := newTestSystem(t, nil)

	var finalized atomic.Int32
	done := make(chan struct{})
	id, err := sys.Register(func(HandleView) error {
		finalized.Add(1)
		close(done)
		return nil
	}, nil)
	require.NoError(t, err)

	require.NoError(t, sys.StartWorker())
	assert.ErrorIs(t, sys.StartWorker(), ErrWorkerRunning)
	assert.ErrorIs(t, sys.RunCycle(context.Background()), ErrWorkerRunning)

	sys.MarkUnreachable(id)
	<-done
	assert.Equal(t, int32(1), finalized.Load())
}
