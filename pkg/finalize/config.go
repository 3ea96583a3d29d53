package finalize

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config carries the knobs for one System. The zero value of any field is
// replaced by the DefaultConfig value in New.
type Config struct {
	// QueueHint is the initial capacity hint for the finalization queue.
	QueueHint int64

	// StrictFailures switches finalizer failure handling from per-handle
	// isolation to the fatal-by-default behavior of a real runtime: every
	// callback error or panic is routed to FatalHandler after being recorded.
	StrictFailures bool

	// FatalHandler receives finalizer failures in strict mode. The default
	// handler terminates the process through the logger.
	FatalHandler func(err *FinalizerError)

	// Logger receives structured diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger

	// Registerer, when set, gets this system's Prometheus instruments
	// registered against it.
	Registerer prometheus.Registerer

	// Meter and Tracer enable optional OpenTelemetry instrumentation of
	// collection cycles. Either may be nil.
	Meter  metric.Meter
	Tracer trace.Tracer

	// QuiescenceBackOff builds the wait schedule AwaitQuiescence uses between
	// cycles. The schedule's stop condition bounds how long a perpetually
	// re-registering finalizer can keep the caller polling.
	QuiescenceBackOff func() backoff.BackOff
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() *Config {
	return &Config{
		QueueHint: 64,
		Logger:    zap.NewNop(),
		QuiescenceBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Millisecond
			b.MaxInterval = 50 * time.Millisecond
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
}

func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	out := *c
	if out.QueueHint <= 0 {
		out.QueueHint = def.QueueHint
	}
	if out.Logger == nil {
		out.Logger = def.Logger
	}
	if out.QuiescenceBackOff == nil {
		out.QuiescenceBackOff = def.QuiescenceBackOff
	}
	return &out
}
