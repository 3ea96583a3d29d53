package finalize

import (
	"fmt"

	"go.uber.org/zap"
)

// disposer implements the explicit-dispose contract: idempotent cleanup and
// finalizer suppression, coordinated with the worker through the handle's
// atomic state.
type disposer struct {
	table   *table
	events  *hub
	metrics *Metrics
	logger  *zap.Logger
}

func newDisposer(t *table, events *hub, metrics *Metrics, logger *zap.Logger) *disposer {
	return &disposer{table: t, events: events, metrics: metrics, logger: logger}
}

// dispose runs the deterministic cleanup path for a handle.
//
// Already Disposed or Reclaimed handles, and unknown ids, are a no-op:
// double disposal is defined behavior, not a failure. When the handle is
// Active or Queued, dispose wins the cleanup race outright. When the
// finalizer callback is mid-flight, the in-flight invocation is the single
// cleanup execution; dispose records suppression and the worker's resolve
// step lands the handle in Disposed without a second cleanup body.
func (d *disposer) dispose(id HandleID) error {
	h, ok := d.table.get(id)
	if !ok {
		return nil
	}
	for {
		switch st := h.loadState(); st {
		case StateDisposed, StateReclaimed:
			return nil

		case StateActive, StateQueued:
			if !h.casState(st, StateDisposed) {
				continue
			}
			h.suppressed.Store(true)
			var err error
			if h.disposeClaimed.CompareAndSwap(false, true) {
				err = d.invoke(h)
				d.metrics.Disposals.Inc()
			}
			d.events.publish(Event{Type: EventDisposed, Handle: id, State: StateDisposed})
			d.logger.Debug("handle disposed", zap.Uint64("handle", uint64(id)))
			return err

		case StateFinalizing:
			h.suppressed.Store(true)
			h.pendingDispose.Store(true)
			// If the worker's resolve step settled this episode before the
			// flags landed, they arrived too late; retry against the new
			// state.
			if h.loadState() != StateFinalizing {
				continue
			}
			d.events.publish(Event{Type: EventDisposed, Handle: id, State: StateFinalizing})
			return nil

		default:
			return fmt.Errorf("finalize: handle %d in unexpected state %s", id, st)
		}
	}
}

// invoke runs the dispose callback with panic containment; its error
// propagates synchronously to the caller.
func (d *disposer) invoke(h *handle) (err error) {
	if h.dispose == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("finalize: dispose callback panic for handle %d: %v", h.id, r)
		}
	}()
	return h.dispose()
}
