// Package finalize implements the finalization and disposal lifecycle for
// objects that need both deferred (finalizer) and deterministic (dispose)
// cleanup.
//
// Callers register a pair of cleanup callbacks and get back a handle. When the
// backing object becomes unreachable the handle is queued, and a single
// sequential worker invokes the finalizer callback with per-handle failure
// isolation. Explicit disposal is idempotent and suppresses the finalizer, and
// the two cleanup paths coordinate through the handle's atomic state so that
// exactly one of them runs the cleanup body even when they race. Finalizer
// callbacks may resurrect their handle or re-register it for a future pass.
//
// The package is instrumented with Prometheus counters and, optionally,
// OpenTelemetry metrics and tracing (OTel Go SDK v1.30.0).
//
// Example usage:
//
//	sys, err := finalize.New(finalize.DefaultConfig())
//	// ...
//	id, _ := sys.Register(cleanupFn, disposeFn)
//	sys.MarkUnreachable(id)
//	_ = sys.RunCycle(context.Background())
//
// See README.md for details.
package finalize
