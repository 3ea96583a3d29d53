// Package adapter provides adapters for wiring the finalization subsystem
// into external monitoring systems.
package adapter

import (
	"fmt"

	"github.com/heptiolabs/healthcheck"

	"github.com/srediag/finalize/pkg/finalize"
)

// HealthOptions tunes the checks exposed by NewHealthHandler.
type HealthOptions struct {
	// MaxBacklog is the finalization queue depth above which the system is
	// reported not ready. Zero means 1024.
	MaxBacklog int64
}

// NewHealthHandler builds a healthcheck handler for one finalization system:
// a liveness check that fails once the system is closed, and a readiness
// check that fails while the finalization backlog exceeds MaxBacklog.
func NewHealthHandler(sys *finalize.System, opts HealthOptions) healthcheck.Handler {
	maxBacklog := opts.MaxBacklog
	if maxBacklog <= 0 {
		maxBacklog = 1024
	}

	h := healthcheck.NewHandler()
	h.AddLivenessCheck("finalizer-worker", func() error {
		if sys.Closed() {
			return fmt.Errorf("finalization system closed")
		}
		return nil
	})
	h.AddReadinessCheck("finalization-backlog", func() error {
		if depth := sys.QueueDepth(); depth > maxBacklog {
			return fmt.Errorf("finalization backlog %d exceeds %d", depth, maxBacklog)
		}
		return nil
	})
	return h
}
