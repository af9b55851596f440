package workers

import (
	"context"
	"log/slog"
	"messaging-core/domain"
	"messaging-core/observability"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestChannelCapacityWorker_Sample(t *testing.T) {
	req := require.New(t)
	metrics := observability.NewMetrics()
	committed := make(chan domain.MessageCommitted, 4)
	committed <- domain.MessageCommitted{}
	committed <- domain.MessageCommitted{}

	worker := NewChannelCapacityWorker(slog.Default(), metrics, time.Minute,
		NamedChannel{Name: "committed", Channel: committed},
		NamedChannel{Name: "not_a_channel", Channel: 42},
	)

	// When the channels are sampled
	worker.Sample()

	// Then the backlog is reported and the bogus entry is ignored
	req.Equal(float64(2), testutil.ToFloat64(metrics.ChannelBacklog.WithLabelValues("committed")))
	req.Equal(1, testutil.CollectAndCount(metrics.ChannelBacklog))
}

func TestChannelCapacityWorker_Run_Stops_With_Context(t *testing.T) {
	req := require.New(t)
	worker := NewChannelCapacityWorker(slog.Default(), observability.NewMetrics(), time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	req.NoError(worker.Run(ctx))
}
