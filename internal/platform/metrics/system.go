package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// StartSystemMetrics samples host CPU and memory until ctx is done.
func (r *Registry) StartSystemMetrics(ctx context.Context, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.collectSystemMetrics(ctx, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.collectSystemMetrics(ctx, logger)
		}
	}
}

func (r *Registry) collectSystemMetrics(ctx context.Context, logger zerolog.Logger) {
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		logger.Debug().Err(err).Msg("cpu sample failed")
	} else if len(pct) > 0 {
		r.systemCPUUsage.Set(pct[0])
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		logger.Debug().Err(err).Msg("memory sample failed")
		return
	}
	r.systemMemoryUsage.WithLabelValues("total").Set(float64(vm.Total))
	r.systemMemoryUsage.WithLabelValues("available").Set(float64(vm.Available))
	r.systemMemoryUsage.WithLabelValues("used").Set(float64(vm.Used))
}
