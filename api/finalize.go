// Package api defines the public contracts consumed by application and demo
// code. Consumers program against these interfaces and never depend on the
// subsystem's internals.
package api

import (
	"context"
	"io"

	"github.com/srediag/finalize/pkg/finalize"
)

// Registrar creates handles for finalizable objects.
type Registrar interface {
	Register(finalizer finalize.FinalizerFunc, dispose finalize.DisposeFunc) (finalize.HandleID, error)
}

// Disposer runs deterministic cleanup. Dispose is idempotent.
type Disposer interface {
	Dispose(id finalize.HandleID) error
}

// Collector drives the simulated collection: the explicit unreachability
// trigger plus the synchronous cycle.
type Collector interface {
	MarkUnreachable(id finalize.HandleID)
	RunCycle(ctx context.Context) error
}

// Introspector exposes handle state for tests and diagnostics.
type Introspector interface {
	GetState(id finalize.HandleID) (finalize.HandleState, error)
	UseResource(id finalize.HandleID) (finalize.HandleView, error)
	DumpState(w io.Writer) error
}

var (
	_ Registrar    = (*finalize.System)(nil)
	_ Disposer     = (*finalize.System)(nil)
	_ Collector    = (*finalize.System)(nil)
	_ Introspector = (*finalize.System)(nil)
)
