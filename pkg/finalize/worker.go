package finalize

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// worker drains the finalization queue and invokes finalizer callbacks.
// Every invocation goes through a size-1 ants pool, so callbacks execute
// strictly sequentially no matter which path (cycle drain or background loop)
// fed them in. User callbacks therefore never need their own locking.
type worker struct {
	table   *table
	queue   *finalizationQueue
	cycle   *atomic.Uint64
	events  *hub
	metrics *Metrics
	logger  *zap.Logger
	pool    *ants.Pool

	strict bool
	fatal  func(err *FinalizerError)

	// current is the handle whose finalizer callback is executing, 0 when
	// idle. Resurrect/ReRegister validate against it.
	current atomic.Uint64

	lastErr atomic.Pointer[FinalizerError]

	bgRunning atomic.Bool

	// bgMu guards bgDone against a start racing a close.
	bgMu   sync.Mutex
	bgDone chan struct{}
}

func newWorker(t *table, q *finalizationQueue, cycle *atomic.Uint64, events *hub, metrics *Metrics, cfg *Config) (*worker, error) {
	pool, err := ants.NewPool(1)
	if err != nil {
		return nil, fmt.Errorf("finalize: create worker pool: %w", err)
	}
	w := &worker{
		table:   t,
		queue:   q,
		cycle:   cycle,
		events:  events,
		metrics: metrics,
		logger:  cfg.Logger,
		pool:    pool,
		strict:  cfg.StrictFailures,
		fatal:   cfg.FatalHandler,
	}
	if w.fatal == nil {
		log := cfg.Logger
		w.fatal = func(err *FinalizerError) {
			log.Fatal("unhandled finalizer failure", zap.Uint64("handle", uint64(err.Handle)), zap.Error(err))
		}
	}
	return w, nil
}

// drain processes exactly n entries, sequentially, and returns when the last
// one has been fully resolved. The caller snapshots n from the queue length,
// so pop never blocks here.
func (w *worker) drain(n int) error {
	for i := 0; i < n; i++ {
		e, err := w.queue.pop()
		if err != nil {
			return err
		}
		if err := w.run(e); err != nil {
			return err
		}
	}
	return nil
}

// start launches the background loop: a blocking dequeue feeding the same
// size-1 pool. It owns the queue until the queue is disposed.
func (w *worker) start() error {
	w.bgMu.Lock()
	defer w.bgMu.Unlock()
	if !w.bgRunning.CompareAndSwap(false, true) {
		return ErrWorkerRunning
	}
	done := make(chan struct{})
	w.bgDone = done
	go func() {
		defer func() {
			w.bgRunning.Store(false)
			close(done)
		}()
		for {
			e, err := w.queue.pop()
			if err != nil {
				return
			}
			if err := w.run(e); err != nil {
				return
			}
		}
	}()
	return nil
}

func (w *worker) running() bool {
	return w.bgRunning.Load()
}

// close releases the executor after the background loop, if any, has exited.
// The queue must already be disposed so the blocking dequeue unblocks.
func (w *worker) close() {
	w.bgMu.Lock()
	done := w.bgDone
	w.bgMu.Unlock()
	if done != nil {
		<-done
	}
	w.pool.Release()
}

// run executes one entry on the pool and waits for it.
func (w *worker) run(e entry) error {
	var wg sync.WaitGroup
	wg.Add(1)
	if err := w.pool.Submit(func() {
		defer wg.Done()
		w.process(e)
	}); err != nil {
		wg.Done()
		return fmt.Errorf("finalize: submit finalization: %w", err)
	}
	wg.Wait()
	return nil
}

// process is the per-entry finalization protocol. Winning the Queued ->
// Finalizing transition designates the finalizer as the single cleanup
// execution for this episode; a Dispose that lost that race only records
// suppression and the resolve step honors it.
func (w *worker) process(e entry) {
	h, ok := w.table.get(e.id)
	if !ok {
		// Stale entry; the handle was reclaimed or disposed away earlier.
		return
	}
	if !h.casState(StateQueued, StateFinalizing) {
		// Disposed (or resurrected) between enqueue and dequeue: skip the
		// invocation entirely.
		return
	}
	// Fresh episode: stale requests from a previous pass must not leak into
	// this one.
	h.resurrect.Store(false)
	h.reregister.Store(false)
	h.pendingDispose.Store(false)

	if h.armed.CompareAndSwap(true, false) {
		w.current.Store(uint64(h.id))
		err := w.invoke(h)
		w.current.Store(0)
		attempt := h.attempts.Add(1)

		if err != nil {
			ferr := &FinalizerError{Handle: h.id, Attempt: attempt, Err: err}
			w.lastErr.Store(ferr)
			w.metrics.FinalizerErrors.Inc()
			w.logger.Warn("finalizer callback failed",
				zap.Uint64("handle", uint64(h.id)),
				zap.Uint32("attempt", attempt),
				zap.Error(err))
			w.events.publish(Event{Type: EventFinalizerFailed, Handle: h.id, State: StateFinalizing, Attempt: attempt, Err: ferr})
			if w.strict {
				w.fatal(ferr)
			}
		} else {
			w.metrics.Finalizations.Inc()
			w.events.publish(Event{Type: EventFinalized, Handle: h.id, State: StateFinalizing, Attempt: attempt})
		}
	}

	w.resolve(h)
}

// invoke runs the finalizer callback with panic containment.
func (w *worker) invoke(h *handle) (err error) {
	if h.finalizer == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("finalizer panic: %v", r)
		}
	}()
	return h.finalizer(h.view())
}

// resolve settles the post-finalization state. Precedence: a dispose that
// arrived mid-flight beats resurrection, resurrection beats re-registration,
// and a handle nobody spoke for is reclaimed.
func (w *worker) resolve(h *handle) {
	switch {
	case h.pendingDispose.Load() || h.suppressed.Load():
		h.casState(StateFinalizing, StateDisposed)

	case h.resurrect.Load():
		h.reachable.Store(true)
		h.casState(StateFinalizing, StateActive)
		w.metrics.Resurrections.Inc()
		w.events.publish(Event{Type: EventResurrected, Handle: h.id, State: StateActive, Attempt: h.attempts.Load()})

	case h.reregister.Load():
		h.armed.Store(true)
		if h.casState(StateFinalizing, StateQueued) {
			if err := w.queue.put(entry{id: h.id, enqueuedAtCycle: w.cycle.Load()}); err != nil {
				w.logger.Warn("re-enqueue failed", zap.Uint64("handle", uint64(h.id)), zap.Error(err))
			}
		}
		w.metrics.ReRegistrations.Inc()
		w.events.publish(Event{Type: EventReRegistered, Handle: h.id, State: StateQueued, Attempt: h.attempts.Load()})

	default:
		if h.casState(StateFinalizing, StateReclaimed) {
			// Dispose flags stored between the checks above and this CAS
			// still count: demote instead of reclaiming, so a Dispose that
			// observed Finalizing always lands the handle in Disposed.
			if h.pendingDispose.Load() || h.suppressed.Load() {
				h.casState(StateReclaimed, StateDisposed)
				return
			}
			w.table.remove(h.id)
			w.metrics.Reclaims.Inc()
			w.events.publish(Event{Type: EventReclaimed, Handle: h.id, State: StateReclaimed, Attempt: h.attempts.Load()})
		}
	}
}

// requestResurrect records a resurrection for the handle whose finalizer is
// currently executing.
func (w *worker) requestResurrect(id HandleID) error {
	if id == 0 || HandleID(w.current.Load()) != id {
		return ErrNotFinalizing
	}
	h, ok := w.table.get(id)
	if !ok {
		return ErrHandleNotFound
	}
	h.resurrect.Store(true)
	return nil
}

// requestReRegister records a re-registration for the handle whose finalizer
// is currently executing.
func (w *worker) requestReRegister(id HandleID) error {
	if id == 0 || HandleID(w.current.Load()) != id {
		return ErrNotFinalizing
	}
	h, ok := w.table.get(id)
	if !ok {
		return ErrHandleNotFound
	}
	h.reregister.Store(true)
	return nil
}

// lastError returns the most recent contained finalizer failure, if any.
func (w *worker) lastError() *FinalizerError {
	return w.lastErr.Load()
}
