package workers

import (
	"context"
	"fmt"
	"log/slog"
	"messaging-core/domain"
	"messaging-core/mocks"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestEventFanout_Fanout(t *testing.T) {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	notifications := mocks.NewMockMessageSink(ctrl)
	search := mocks.NewMockMessageSink(ctrl)
	fanout := NewEventFanout(log, nil, time.Second, notifications, search)
	evt := domain.MessageCommitted{Message: domain.Message{ID: "m1", ConversationID: "c1", Seq: 1}}

	// Given the first sink fails
	notifications.EXPECT().Consume(gomock.Any(), evt).Return(fmt.Errorf("broker down"))
	// Then the second one is still consumed
	search.EXPECT().Consume(gomock.Any(), evt).Return(nil)

	// When an event is handled
	fanout.Fanout(context.Background(), evt)
}

func TestEventFanout_SinkTimeout(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	slow := mocks.NewMockMessageSink(ctrl)
	fanout := NewEventFanout(log, nil, 20*time.Millisecond, slow)

	// Given a sink stuck until its deadline
	slow.EXPECT().Consume(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ domain.MessageCommitted) error {
			<-ctx.Done()
			return ctx.Err()
		})

	// When an event is handled
	start := time.Now()
	fanout.Fanout(context.Background(), domain.MessageCommitted{})

	// Then the worker is released by the timeout
	req.Less(time.Since(start), time.Second)
}

func TestEventFanout_Run_Drains_In_Order(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	committed := make(chan domain.MessageCommitted, 3)
	sink := mocks.NewMockMessageSink(ctrl)
	fanout := NewEventFanout(slog.Default(), committed, time.Second, sink)

	var got []uint64
	done := make(chan struct{})
	sink.EXPECT().Consume(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, evt domain.MessageCommitted) error {
		got = append(got, evt.Message.Seq)
		if len(got) == 3 {
			close(done)
		}
		return nil
	}).Times(3)

	for seq := uint64(1); seq <= 3; seq++ {
		committed <- domain.MessageCommitted{Message: domain.Message{Seq: seq}}
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- fanout.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("Events were not consumed")
	}
	cancel()
	req.NoError(<-stopped)
	req.Equal([]uint64{1, 2, 3}, got)
}
