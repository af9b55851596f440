package workers

import (
	"context"
	"log/slog"
	"messaging-core/contract"
	"time"
)

const DefaultSweepInterval = 250 * time.Millisecond

// Sweeper expires everything due at now and reports how many entries went away.
type Sweeper interface {
	Sweep(now time.Time) int
}

// TypingSweeper ticks the typing indicator expiry, so a client that never
// sends typing:stop is cleaned up within expiry + interval.
type TypingSweeper struct {
	log      *slog.Logger
	sweeper  Sweeper
	clock    contract.Clock
	interval time.Duration
}

func NewTypingSweeper(log *slog.Logger, sweeper Sweeper, clock contract.Clock, interval time.Duration) *TypingSweeper {
	if clock == nil {
		clock = time.Now
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &TypingSweeper{log: log, sweeper: sweeper, clock: clock, interval: interval}
}

func (w *TypingSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping typing sweep")
			return nil
		case <-ticker.C:
			w.sweeper.Sweep(w.clock())
		}
	}
}
