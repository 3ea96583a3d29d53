// Package pressure watches system memory usage and nudges the owner when it
// crosses a threshold, typically to trigger an extra collection cycle.
package pressure

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// Sampler reports the current system memory usage as a percentage.
type Sampler func() (usedPercent float64, err error)

func systemSampler() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// Watcher periodically samples memory usage and fires OnPressure when the
// threshold is met or exceeded.
type Watcher struct {
	// Threshold is the used-memory percentage at which OnPressure fires.
	Threshold float64
	// Interval is the sampling period.
	Interval time.Duration
	// OnPressure is invoked, at most once per sample, while usage stays at or
	// above Threshold.
	OnPressure func()
	// Sampler overrides the system sampler, mainly for tests.
	Sampler Sampler
	// Logger receives sampling failures. Defaults to a no-op logger.
	Logger *zap.Logger
}

// Run samples until ctx is done and returns ctx.Err().
func (w *Watcher) Run(ctx context.Context) error {
	sample := w.Sampler
	if sample == nil {
		sample = systemSampler
	}
	log := w.Logger
	if log == nil {
		log = zap.NewNop()
	}
	interval := w.Interval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			used, err := sample()
			if err != nil {
				log.Warn("memory sample failed", zap.Error(err))
				continue
			}
			if used >= w.Threshold && w.OnPressure != nil {
				log.Debug("memory pressure", zap.Float64("used_percent", used))
				w.OnPressure()
			}
		}
	}
}
