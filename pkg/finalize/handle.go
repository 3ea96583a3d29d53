package finalize

import (
	"strconv"
	"sync/atomic"
)

// HandleID identifies one finalizable logical object. IDs are 1-based so that
// 0 can be used as an invalid marker.
type HandleID uint64

// HandleState is the lifecycle state of a handle.
type HandleState uint32

const (
	// StateActive means the handle is reachable and not scheduled for cleanup.
	StateActive HandleState = iota
	// StateQueued means the backing object became unreachable and the handle
	// sits in the finalization queue.
	StateQueued
	// StateFinalizing means the worker is running the finalizer callback.
	StateFinalizing
	// StateDisposed means explicit cleanup ran; the finalizer is suppressed.
	StateDisposed
	// StateReclaimed is terminal; the handle's record has been dropped.
	StateReclaimed
)

func (s HandleState) String() string {
	switch s {
	case StateActive:
		return "Active"
	case StateQueued:
		return "Queued"
	case StateFinalizing:
		return "Finalizing"
	case StateDisposed:
		return "Disposed"
	case StateReclaimed:
		return "Reclaimed"
	}
	return "Unknown(" + strconv.FormatUint(uint64(s), 10) + ")"
}

// FinalizerFunc is the user cleanup run by the worker when a handle is found
// unreachable and not suppressed. A returned error (or panic) is recorded and
// isolated to this handle.
type FinalizerFunc func(view HandleView) error

// DisposeFunc is the user cleanup run exactly once via explicit disposal.
type DisposeFunc func() error

// HandleView is a read-only snapshot of a handle, safe to hand to callbacks
// and introspection callers.
type HandleView struct {
	ID         HandleID
	State      HandleState
	Suppressed bool
	Reachable  bool
	Attempts   uint32
}

// handle is the mutable lifecycle record. All state transitions go through
// compare-and-swap on state so a racing Dispose and the unreachability
// trigger settle on exactly one cleanup execution.
type handle struct {
	id        HandleID
	finalizer FinalizerFunc
	dispose   DisposeFunc

	state      atomic.Uint32
	suppressed atomic.Bool
	reachable  atomic.Bool
	attempts   atomic.Uint32

	// armed is true while a finalization pass is owed. Registration arms the
	// handle, running the finalizer consumes it, re-registration re-arms it.
	// A resurrected handle whose finalizer already ran is collected without
	// another callback unless explicitly re-registered.
	armed atomic.Bool

	// disposeClaimed guards the dispose callback across arbitrarily many
	// Dispose calls.
	disposeClaimed atomic.Bool

	// pendingDispose is set when Dispose arrives while the finalizer is
	// mid-flight; the resolve step then lands the handle in Disposed.
	pendingDispose atomic.Bool

	// resurrect / reregister are requests recorded by the running finalizer
	// callback and consumed by the worker's resolve step.
	resurrect  atomic.Bool
	reregister atomic.Bool
}

func (h *handle) loadState() HandleState {
	return HandleState(h.state.Load())
}

func (h *handle) casState(from, to HandleState) bool {
	return h.state.CompareAndSwap(uint32(from), uint32(to))
}

func (h *handle) view() HandleView {
	return HandleView{
		ID:         h.id,
		State:      h.loadState(),
		Suppressed: h.suppressed.Load(),
		Reachable:  h.reachable.Load(),
		Attempts:   h.attempts.Load(),
	}
}
