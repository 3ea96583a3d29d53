package finalize

import (
	"sync/atomic"

	"github.com/srediag/finalize/internal/weakref"
)

// EventType classifies lifecycle events emitted by the system.
type EventType uint8

const (
	EventRegistered EventType = iota
	EventQueued
	EventFinalized
	EventFinalizerFailed
	EventDisposed
	EventResurrected
	EventReRegistered
	EventReclaimed
)

func (t EventType) String() string {
	switch t {
	case EventRegistered:
		return "Registered"
	case EventQueued:
		return "Queued"
	case EventFinalized:
		return "Finalized"
	case EventFinalizerFailed:
		return "FinalizerFailed"
	case EventDisposed:
		return "Disposed"
	case EventResurrected:
		return "Resurrected"
	case EventReRegistered:
		return "ReRegistered"
	case EventReclaimed:
		return "Reclaimed"
	}
	return "Unknown"
}

// Event is one lifecycle notification.
type Event struct {
	Type    EventType
	Handle  HandleID
	State   HandleState
	Attempt uint32
	Err     error
}

// Subscription ties a callback to the hub. The hub holds it only weakly:
// dropping the last strong reference unsubscribes implicitly, so a long-lived
// system never keeps a short-lived subscriber alive. Close unsubscribes
// deterministically.
type Subscription struct {
	hub    *hub
	id     uint64
	fn     func(Event)
	closed atomic.Bool
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.hub.subs.Remove(s.id)
	}
}

// hub fans lifecycle events out to weakly-held subscriptions.
type hub struct {
	subs *weakref.Registry[Subscription]
}

func newHub() *hub {
	return &hub{subs: weakref.New[Subscription]()}
}

func (h *hub) subscribe(fn func(Event)) *Subscription {
	s := &Subscription{hub: h, fn: fn}
	s.id = h.subs.Add(s)
	return s
}

func (h *hub) publish(e Event) {
	h.subs.Each(func(s *Subscription) bool {
		if !s.closed.Load() {
			s.fn(e)
		}
		return true
	})
}
