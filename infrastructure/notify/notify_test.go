package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"messaging-core/domain"
	"messaging-core/mocks"
	"messaging-core/runtime"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	saramamocks "github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func notification() domain.NewMessageNotification {
	return domain.NewMessageNotification{
		RecipientID:    "bob",
		SenderID:       "alice",
		SenderName:     "Alice",
		ContentPreview: "is the bike still available?",
		ConversationID: "c1",
		MessageID:      "m1",
		Seq:            3,
		CreatedAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestKafkaNotifier_Notify_Publishes_Keyed_Record(t *testing.T) {
	req := require.New(t)
	producer := saramamocks.NewSyncProducer(t, NewKafkaConfig("messaging-test"))
	notifier := NewKafkaNotifier(producer, "chat.notifications", slog.Default())

	// Then one record keyed by the recipient is sent
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "chat.notifications" {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil || string(key) != "bob" {
			return fmt.Errorf("unexpected key %q", key)
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var record notificationRecord
		if err = json.Unmarshal(value, &record); err != nil {
			return err
		}
		if record.SenderName != "Alice" || record.Seq != 3 {
			return fmt.Errorf("unexpected record %+v", record)
		}
		return nil
	})

	// When a notice is published
	req.NoError(notifier.Notify(context.Background(), notification()))
	req.NoError(notifier.Close())
}

func TestKafkaNotifier_Notify_Reports_Broker_Errors(t *testing.T) {
	req := require.New(t)
	producer := saramamocks.NewSyncProducer(t, NewKafkaConfig("messaging-test"))
	notifier := NewKafkaNotifier(producer, "chat.notifications", slog.Default())

	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	err := notifier.Notify(context.Background(), notification())
	req.ErrorIs(err, sarama.ErrNotLeaderForPartition)
	req.NoError(notifier.Close())
}

func TestKafkaNotifier_Notify_Honours_Cancelled_Context(t *testing.T) {
	req := require.New(t)
	producer := saramamocks.NewSyncProducer(t, NewKafkaConfig("messaging-test"))
	notifier := NewKafkaNotifier(producer, "chat.notifications", slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req.ErrorIs(notifier.Notify(ctx, notification()), context.Canceled)
	req.NoError(notifier.Close())
}

type inbox struct {
	id, userID string
	mu         sync.Mutex
	frames     []domain.Frame
}

func (a *inbox) ID() string     { return a.id }
func (a *inbox) UserID() string { return a.userID }
func (a *inbox) Close()         {}
func (a *inbox) Deliver(f domain.Frame) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frames = append(a.frames, f)
	return nil
}

func TestLiveNotifier_Reaches_Every_Connection_Of_The_Recipient(t *testing.T) {
	req := require.New(t)
	registry := runtime.NewRegistry(slog.Default())
	phone := &inbox{id: uuid.NewString(), userID: "bob"}
	laptop := &inbox{id: uuid.NewString(), userID: "bob"}
	other := &inbox{id: uuid.NewString(), userID: "carol"}
	for _, a := range []*inbox{phone, laptop, other} {
		registry.Connect(a)
	}

	req.NoError(NewLiveNotifier(registry, slog.Default()).Notify(context.Background(), notification()))

	for _, a := range []*inbox{phone, laptop} {
		req.Len(a.frames, 1)
		req.Equal(domain.EventNotification, a.frames[0].Type)
		payload := a.frames[0].Payload.(domain.NotificationPayload)
		req.Equal("Alice", payload.SenderName)
		req.Equal("c1", payload.ConversationID)
	}
	req.Empty(other.frames)
}

func TestMulti_Calls_Every_Notifier(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	first, second := mocks.NewMockNotifier(ctrl), mocks.NewMockNotifier(ctrl)
	boom := fmt.Errorf("boom")

	// Given the first notifier fails
	first.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(boom)
	// Then the second one is still called
	second.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil)

	err := Multi{first, second, NewLogNotifier(slog.Default())}.Notify(context.Background(), notification())
	req.ErrorIs(err, boom)
}
