package finalize

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// driver orchestrates collection cycles. A cycle drains the queue snapshot
// taken at call time and lets the worker reclaim whatever nobody resurrected
// or re-registered. It never marks anything unreachable itself: collection
// timing stays in the caller's hands.
type driver struct {
	queue  *finalizationQueue
	worker *worker
	cycle  *atomic.Uint64
	logger *zap.Logger

	mu sync.Mutex

	newBackOff func() backoff.BackOff

	tracer trace.Tracer
	cycles metric.Int64Counter
}

func newDriver(q *finalizationQueue, w *worker, cycle *atomic.Uint64, cfg *Config) *driver {
	d := &driver{
		queue:      q,
		worker:     w,
		cycle:      cycle,
		logger:     cfg.Logger,
		newBackOff: cfg.QuiescenceBackOff,
		tracer:     cfg.Tracer,
	}
	if cfg.Meter != nil {
		if c, err := cfg.Meter.Int64Counter("finalize.cycles"); err == nil {
			d.cycles = c
		}
	}
	return d
}

// runCycle synchronously processes all entries queued before the call.
// Entries enqueued during the cycle (re-registrations included) wait for the
// next one.
func (d *driver) runCycle(ctx context.Context) error {
	if d.worker.running() {
		return ErrWorkerRunning
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tracer != nil {
		var span trace.Span
		ctx, span = d.tracer.Start(ctx, "finalize.RunCycle")
		defer span.End()
	}

	cycle := d.cycle.Add(1)
	n := d.queue.len()
	err := d.worker.drain(int(n))

	if d.cycles != nil {
		d.cycles.Add(ctx, 1)
	}
	d.logger.Debug("collection cycle complete",
		zap.Uint64("cycle", cycle),
		zap.Int64("drained", n),
		zap.Error(err))
	return err
}

// awaitQuiescence runs cycles until no finalization work is pending, waiting
// between polls per the configured backoff schedule. A schedule that stops
// (for example because a finalizer re-registers forever) surfaces as
// ErrRetryExhausted rather than looping silently.
func (d *driver) awaitQuiescence(ctx context.Context) error {
	b := d.newBackOff()
	b.Reset()
	for {
		if err := d.runCycle(ctx); err != nil {
			return err
		}
		if d.queue.len() == 0 {
			return nil
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return ErrRetryExhausted
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
