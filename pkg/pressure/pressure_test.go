package pressure

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWatcherFiresAboveThreshold(t *testing.T) {
	fired := make(chan struct{}, 1)
	w := &Watcher{
		Threshold: 80,
		Interval:  time.Millisecond,
		Sampler:   func() (float64, error) { return 92.5, nil },
		OnPressure: func() {
			select {
			case fired <- struct{}{}:
			default:
			}
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never fired under pressure")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatcherQuietBelowThreshold(t *testing.T) {
	var fires atomic.Int32
	w := &Watcher{
		Threshold:  80,
		Interval:   time.Millisecond,
		Sampler:    func() (float64, error) { return 10, nil },
		OnPressure: func() { fires.Add(1) },
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Run(ctx), context.DeadlineExceeded)
	assert.Equal(t, int32(0), fires.Load())
}

func TestWatcherSurvivesSamplerErrors(t *testing.T) {
	var calls atomic.Int32
	w := &Watcher{
		Threshold: 80,
		Interval:  time.Millisecond,
		Sampler: func() (float64, error) {
			calls.Add(1)
			return 0, errors.New("no procfs here")
		},
		OnPressure: func() { t.Error("must not fire on failed samples") },
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Run(ctx), context.DeadlineExceeded)
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}
