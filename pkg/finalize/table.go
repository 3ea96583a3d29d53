package finalize

import (
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
)

// shardHandleID spreads sequential handle ids across cmap shards
// (64-bit finalizer from MurmurHash3).
func shardHandleID(id HandleID) uint32 {
	h := uint64(id)
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	return uint32(h)
}

// table owns the registry of live handles and the tombstones of reclaimed
// ones. Reclaimed handles stay introspectable as StateReclaimed even though
// their record is dropped.
type table struct {
	handles    cmap.ConcurrentMap[HandleID, *handle]
	tombstones cmap.ConcurrentMap[HandleID, struct{}]
	nextID     atomic.Uint64

	queue   *finalizationQueue
	cycle   *atomic.Uint64
	events  *hub
	metrics *Metrics
	logger  *zap.Logger
}

func newTable(q *finalizationQueue, cycle *atomic.Uint64, events *hub, metrics *Metrics, logger *zap.Logger) *table {
	return &table{
		handles:    cmap.NewWithCustomShardingFunction[HandleID, *handle](shardHandleID),
		tombstones: cmap.NewWithCustomShardingFunction[HandleID, struct{}](shardHandleID),
		queue:      q,
		cycle:      cycle,
		events:     events,
		metrics:    metrics,
		logger:     logger,
	}
}

// register creates a handle in Active state with a finalization pass owed.
func (t *table) register(finalizer FinalizerFunc, dispose DisposeFunc) *handle {
	h := &handle{
		id:        HandleID(t.nextID.Add(1)),
		finalizer: finalizer,
		dispose:   dispose,
	}
	h.state.Store(uint32(StateActive))
	h.reachable.Store(true)
	h.armed.Store(true)
	t.handles.Set(h.id, h)

	t.metrics.Registrations.Inc()
	t.metrics.LiveHandles.Inc()
	t.events.publish(Event{Type: EventRegistered, Handle: h.id, State: StateActive})
	t.logger.Debug("handle registered", zap.Uint64("handle", uint64(h.id)))
	return h
}

func (t *table) get(id HandleID) (*handle, bool) {
	return t.handles.Get(id)
}

// markUnreachable transitions Active -> Queued and submits a queue entry.
// Any other state, an unknown id included, is a silent no-op: collection may
// race explicit disposal and losing that race is defined behavior.
func (t *table) markUnreachable(id HandleID) {
	h, ok := t.handles.Get(id)
	if !ok {
		return
	}
	if !h.casState(StateActive, StateQueued) {
		return
	}
	h.reachable.Store(false)
	if err := t.queue.put(entry{id: id, enqueuedAtCycle: t.cycle.Load()}); err != nil {
		// Queue disposed during shutdown; put the handle back so state stays
		// consistent for introspection.
		h.casState(StateQueued, StateActive)
		h.reachable.Store(true)
		t.logger.Warn("enqueue failed", zap.Uint64("handle", uint64(id)), zap.Error(err))
		return
	}
	t.events.publish(Event{Type: EventQueued, Handle: id, State: StateQueued})
}

// remove drops a reclaimed handle's record and leaves a tombstone behind.
func (t *table) remove(id HandleID) {
	t.handles.Remove(id)
	t.tombstones.Set(id, struct{}{})
	t.metrics.LiveHandles.Dec()
}

// state answers for live and reclaimed handles alike.
func (t *table) state(id HandleID) (HandleState, error) {
	if h, ok := t.handles.Get(id); ok {
		return h.loadState(), nil
	}
	if t.tombstones.Has(id) {
		return StateReclaimed, nil
	}
	return 0, ErrHandleNotFound
}

func (t *table) len() int {
	return t.handles.Count()
}

// each visits a snapshot of the live handles in unspecified order.
func (t *table) each(fn func(h *handle) bool) {
	for item := range t.handles.IterBuffered() {
		if !fn(item.Val) {
			return
		}
	}
}
