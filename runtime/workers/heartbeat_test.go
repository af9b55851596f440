package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type reportSink struct {
	mu      sync.Mutex
	reports []map[string]error
}

func (r *reportSink) Report(results map[string]error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, results)
}

func (r *reportSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

func TestHeartbeatWorker_Beat_Reports_Every_Probe(t *testing.T) {
	req := require.New(t)
	sink := &reportSink{}
	worker := NewHeartbeatWorker(slog.Default(), sink, time.Hour,
		Probe{Name: "store", Check: func(context.Context) error { return nil }},
		Probe{Name: "kafka", Check: func(context.Context) error { return fmt.Errorf("no broker") }},
		Probe{Name: "slow", Check: func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			req.True(ok)
			return nil
		}},
	)

	worker.Beat(context.Background())

	req.Len(sink.reports, 1)
	report := sink.reports[0]
	req.Len(report, 3)
	req.NoError(report["store"])
	req.EqualError(report["kafka"], "no broker")
}

func TestHeartbeatWorker_Run_Beats_Immediately_And_Stops(t *testing.T) {
	req := require.New(t)
	sink := &reportSink{}
	worker := NewHeartbeatWorker(slog.Default(), sink, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	req.Eventually(func() bool { return sink.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	req.NoError(<-done)
}
