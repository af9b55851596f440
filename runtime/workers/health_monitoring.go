package workers

import (
	"context"
	"log/slog"
	"messaging-core/observability"
	"messaging-core/runtime"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// StatsSource reports the live shape of the room registry.
type StatsSource interface {
	Stats() runtime.RegistryStats
}

// HealthMonitoringWorker samples the process itself (CPU, resident memory)
// and the room registry into gauges.
type HealthMonitoringWorker struct {
	log            *slog.Logger
	metrics        *observability.Metrics
	registry       StatsSource
	metricInterval time.Duration
	pid            int32
	proc           *process.Process
}

func NewHealthMonitoringWorker(
	log *slog.Logger,
	metrics *observability.Metrics,
	registry StatsSource,
	metricInterval time.Duration,
) *HealthMonitoringWorker {
	return &HealthMonitoringWorker{
		log:            log,
		metrics:        metrics,
		registry:       registry,
		metricInterval: metricInterval,
		pid:            int32(os.Getpid()),
	}
}

func (w *HealthMonitoringWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping health sampling")
			return nil
		case <-ticker.C:
			w.Sample()
		}
	}
}

func (w *HealthMonitoringWorker) Sample() {
	stats := w.registry.Stats()
	w.metrics.Rooms.Set(float64(stats.Rooms))
	w.metrics.Memberships.Set(float64(stats.Memberships))
	w.metrics.Connections.Set(float64(stats.Connections))

	if w.proc == nil {
		p, err := process.NewProcess(w.pid)
		if err != nil {
			w.log.Debug("Error while retrieving process", "pid", w.pid, "err", err)
			return
		}
		w.proc = p
	}
	cpu, err := w.proc.CPUPercent()
	if err != nil {
		w.log.Error("Error while finding process cpu usage", "err", err)
		return
	}
	mem, err := w.proc.MemoryInfo()
	if err != nil {
		w.log.Error("Error while finding process ram usage", "err", err)
		return
	}
	w.metrics.ProcessCPUPercent.Set(cpu)
	w.metrics.ProcessRSSBytes.Set(float64(mem.RSS))
}
