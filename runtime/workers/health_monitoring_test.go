package workers

import (
	"log/slog"
	"messaging-core/observability"
	"messaging-core/runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fixedStats runtime.RegistryStats

func (s fixedStats) Stats() runtime.RegistryStats { return runtime.RegistryStats(s) }

func TestHealthMonitoringWorker_Sample(t *testing.T) {
	req := require.New(t)
	metrics := observability.NewMetrics()
	worker := NewHealthMonitoringWorker(slog.Default(), metrics,
		fixedStats{Rooms: 3, Memberships: 5, Connections: 4}, time.Minute)

	// When the worker samples
	worker.Sample()

	// Then registry gauges reflect the registry
	req.Equal(float64(3), testutil.ToFloat64(metrics.Rooms))
	req.Equal(float64(5), testutil.ToFloat64(metrics.Memberships))
	req.Equal(float64(4), testutil.ToFloat64(metrics.Connections))

	// And the process uses some memory
	req.Greater(testutil.ToFloat64(metrics.ProcessRSSBytes), float64(0))
}
