package finalize

import (
	"context"
	"sync/atomic"
)

// System aggregates the handle table, finalization queue, worker, disposal
// coordinator, and cycle driver behind the public surface. Construct one per
// logical heap being modeled; there is deliberately no package-level instance.
type System struct {
	cfg      *Config
	cycleNum atomic.Uint64

	queue    *finalizationQueue
	events   *hub
	metrics  *Metrics
	table    *table
	worker   *worker
	disposer *disposer
	driver   *driver

	closed atomic.Bool
}

// New builds a System from cfg. A nil cfg means DefaultConfig.
func New(cfg *Config) (*System, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.withDefaults()

	s := &System{cfg: cfg}
	s.queue = newFinalizationQueue(cfg.QueueHint)
	s.events = newHub()
	s.metrics = newMetrics(cfg.Registerer, s.queue.len)
	s.table = newTable(s.queue, &s.cycleNum, s.events, s.metrics, cfg.Logger)

	w, err := newWorker(s.table, s.queue, &s.cycleNum, s.events, s.metrics, cfg)
	if err != nil {
		return nil, err
	}
	s.worker = w
	s.disposer = newDisposer(s.table, s.events, s.metrics, cfg.Logger)
	s.driver = newDriver(s.queue, s.worker, &s.cycleNum, cfg)
	return s, nil
}

// Register creates a handle for one finalizable object. Either callback may
// be nil.
func (s *System) Register(finalizer FinalizerFunc, dispose DisposeFunc) (HandleID, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return s.table.register(finalizer, dispose).id, nil
}

// Dispose runs deterministic cleanup for the handle. Idempotent: repeat
// calls, and calls for unknown handles, are a no-op.
func (s *System) Dispose(id HandleID) error {
	return s.disposer.dispose(id)
}

// MarkUnreachable reports that the handle's backing object became
// unreachable, queueing it for finalization. It is the caller-driven
// substitute for tracing collection and fails silently when the handle is in
// any state but Active.
func (s *System) MarkUnreachable(id HandleID) {
	s.table.markUnreachable(id)
}

// RunCycle drains the finalization work queued before the call and reclaims
// non-resurrected, non-re-registered handles. It returns after that snapshot
// has been fully processed.
func (s *System) RunCycle(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.driver.runCycle(ctx)
}

// AwaitQuiescence runs cycles until no finalization work remains pending,
// backing off between polls.
func (s *System) AwaitQuiescence(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.driver.awaitQuiescence(ctx)
}

// Resurrect restores the reachability of the handle whose finalizer callback
// is currently executing, averting reclamation this cycle. Calling it from
// anywhere else fails with ErrNotFinalizing.
func (s *System) Resurrect(id HandleID) error {
	return s.worker.requestResurrect(id)
}

// ReRegisterForFinalization requests another finalization pass for the handle
// whose finalizer callback is currently executing. Callers are expected to
// bound retries with the view's Attempts count; the subsystem imposes no cap.
func (s *System) ReRegisterForFinalization(id HandleID) error {
	return s.worker.requestReRegister(id)
}

// GetState reports the lifecycle state of a handle. Reclaimed handles keep
// answering StateReclaimed; ids that were never registered fail with
// ErrHandleNotFound.
func (s *System) GetState(id HandleID) (HandleState, error) {
	return s.table.state(id)
}

// UseResource models an access to the handle's backing resource. It fails
// with a UseAfterDisposeError once the handle is Disposed or Reclaimed.
func (s *System) UseResource(id HandleID) (HandleView, error) {
	if h, ok := s.table.get(id); ok {
		v := h.view()
		// Reclaimed can be observed here in the window between the worker's
		// state transition and the table removal.
		if v.State == StateDisposed || v.State == StateReclaimed {
			return HandleView{}, &UseAfterDisposeError{Handle: id, State: v.State}
		}
		return v, nil
	}
	if s.table.tombstones.Has(id) {
		return HandleView{}, &UseAfterDisposeError{Handle: id, State: StateReclaimed}
	}
	return HandleView{}, ErrHandleNotFound
}

// Subscribe attaches fn to the lifecycle event stream. The system holds the
// subscription only weakly; keep the returned value alive for as long as the
// events are wanted, or Close it to detach deterministically.
func (s *System) Subscribe(fn func(Event)) *Subscription {
	return s.events.subscribe(fn)
}

// StartWorker launches the background drain loop. While it runs, RunCycle
// fails with ErrWorkerRunning; Close stops it.
func (s *System) StartWorker() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.worker.start()
}

// Metrics exposes the system's Prometheus instruments.
func (s *System) Metrics() *Metrics {
	return s.metrics
}

// LastFinalizerError returns the most recent contained finalizer failure, or
// nil.
func (s *System) LastFinalizerError() *FinalizerError {
	return s.worker.lastError()
}

// QueueDepth reports the number of pending finalization entries.
func (s *System) QueueDepth() int64 {
	return s.queue.len()
}

// LiveHandles reports the number of addressable handles.
func (s *System) LiveHandles() int {
	return s.table.len()
}

// Closed reports whether Close has been called.
func (s *System) Closed() bool {
	return s.closed.Load()
}

// Close disposes the queue, stops the background worker if one is running,
// and releases the executor. Pending entries are dropped, not finalized.
func (s *System) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.queue.dispose()
	s.worker.close()
	return nil
}
