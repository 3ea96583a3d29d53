package finalize

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue extracts a Counter's value for assertions.
func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func gaugeValue(g prometheus.Metric) float64 {
	m := &dto.Metric{}
	_ = g.Write(m)
	return m.GetGauge().GetValue()
}

func TestMetricsFollowLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Registerer = prometheus.NewRegistry()
	sys := newTestSystem(t, cfg)
	m := sys.Metrics()

	reclaimed, err := sys.Register(nil, nil)
	require.NoError(t, err)
	disposed, err := sys.Register(nil, nil)
	require.NoError(t, err)
	failing, err := sys.Register(func(HandleView) error { return errors.New("bad") }, nil)
	require.NoError(t, err)

	assert.Equal(t, float64(3), counterValue(m.Registrations))
	assert.Equal(t, float64(3), gaugeValue(m.LiveHandles))

	require.NoError(t, sys.Dispose(disposed))
	assert.Equal(t, float64(1), counterValue(m.Disposals))

	sys.MarkUnreachable(reclaimed)
	sys.MarkUnreachable(failing)
	assert.Equal(t, float64(2), gaugeValue(m.QueueDepth))

	require.NoError(t, sys.RunCycle(context.Background()))

	assert.Equal(t, float64(1), counterValue(m.FinalizerErrors))
	assert.Equal(t, float64(2), counterValue(m.Reclaims))
	assert.Equal(t, float64(1), gaugeValue(m.LiveHandles))
	assert.Equal(t, float64(0), gaugeValue(m.QueueDepth))
}

func TestMetricsResurrectionAndReRegistration(t *testing.T) {
	sys := newTestSystem(t, nil)
	m := sys.Metrics()

	res, err := sys.Register(func(v HandleView) error { return sys.Resurrect(v.ID) }, nil)
	require.NoError(t, err)
	rer, err := sys.Register(func(v HandleView) error {
		if v.Attempts == 0 {
			return sys.ReRegisterForFinalization(v.ID)
		}
		return nil
	}, nil)
	require.NoError(t, err)

	sys.MarkUnreachable(res)
	sys.MarkUnreachable(rer)
	require.NoError(t, sys.AwaitQuiescence(context.Background()))

	// Three successful callback runs: one for the resurrected handle, two
	// for the re-registered one.
	assert.Equal(t, float64(1), counterValue(m.Resurrections))
	assert.Equal(t, float64(1), counterValue(m.ReRegistrations))
	assert.Equal(t, float64(3), counterValue(m.Finalizations))
}
