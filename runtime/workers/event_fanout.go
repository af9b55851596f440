package workers

import (
	"context"
	"fmt"
	"log/slog"
	"messaging-core/contract"
	"messaging-core/domain"
	"time"
)

const DefaultSinkTimeout = 5 * time.Second

// EventFanout hands every committed message to in-process sinks
// (offline notification, search indexing).
//
// It is best effort: a failing sink is logged and the next one still runs.
// The message is already durable, nothing here is retried. Sinks run in
// channel order, one event at a time, so a sink sees a conversation's
// messages in sequence order.
type EventFanout struct {
	log         *slog.Logger
	committed   <-chan domain.MessageCommitted
	sinks       []contract.MessageSink
	sinkTimeout time.Duration
}

func NewEventFanout(log *slog.Logger, committed <-chan domain.MessageCommitted, sinkTimeout time.Duration, sinks ...contract.MessageSink) *EventFanout {
	if sinkTimeout <= 0 {
		sinkTimeout = DefaultSinkTimeout
	}
	return &EventFanout{log: log, committed: committed, sinks: sinks, sinkTimeout: sinkTimeout}
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case evt := <-w.committed:
			w.Fanout(ctx, evt)
		case <-ctx.Done():
			w.log.Debug("Context done, stopping message fanout", "pending", len(w.committed))
			return nil
		}
	}
}

// Fanout One sink after the other for each event
func (w *EventFanout) Fanout(ctx context.Context, evt domain.MessageCommitted) {
	for _, sink := range w.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
		err := sink.Consume(sinkCtx, evt)
		cancel()
		if err != nil {
			w.log.Warn("Sink failed",
				"sink", fmt.Sprintf("%T", sink),
				"conversation_id", evt.Message.ConversationID,
				"seq", evt.Message.Seq,
				"error", err)
		}
	}
}
