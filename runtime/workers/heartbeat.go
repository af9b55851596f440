package workers

import (
	"context"
	"log/slog"
	"time"
)

const DefaultProbeTimeout = 2 * time.Second

// Probe checks one dependency (store, index, broker...).
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthReporter receives each round of probe results.
type HealthReporter interface {
	Report(results map[string]error)
}

// HeartbeatWorker probes the dependencies of the process on a fixed
// interval and reports them, which drives gRPC health and /readyz.
type HeartbeatWorker struct {
	log      *slog.Logger
	reporter HealthReporter
	probes   []Probe
	interval time.Duration
	timeout  time.Duration
}

func NewHeartbeatWorker(log *slog.Logger, reporter HealthReporter, interval time.Duration, probes ...Probe) *HeartbeatWorker {
	return &HeartbeatWorker{
		log:      log,
		reporter: reporter,
		probes:   probes,
		interval: interval,
		timeout:  DefaultProbeTimeout,
	}
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	w.log.Info("Starting heartbeat worker", "probes", len(w.probes))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Beat(ctx)
		}
	}
}

// Beat runs every probe once, each under its own timeout.
func (w *HeartbeatWorker) Beat(ctx context.Context) {
	results := make(map[string]error, len(w.probes))
	for _, probe := range w.probes {
		probeCtx, cancel := context.WithTimeout(ctx, w.timeout)
		err := probe.Check(probeCtx)
		cancel()
		if err != nil {
			w.log.Warn("Dependency unhealthy", "probe", probe.Name, "error", err)
		}
		results[probe.Name] = err
	}
	w.reporter.Report(results)
}
