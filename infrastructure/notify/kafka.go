package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"messaging-core/contract"
	"messaging-core/domain"
	"time"

	"github.com/IBM/sarama"
)

const eventTypeHeader = "event-type"

// notificationRecord is the Kafka value. Consumers (push, e-mail) own the
// delivery; the messaging core only publishes.
type notificationRecord struct {
	RecipientID    string    `json:"recipientId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	ContentPreview string    `json:"contentPreview"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	Seq            uint64    `json:"seq"`
	CreatedAt      time.Time `json:"createdAt"`
}

// KafkaNotifier publishes one record per offline notice, keyed by recipient
// so every notice of one user lands on the same partition, in order.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
	log      *slog.Logger
}

var _ contract.Notifier = (*KafkaNotifier)(nil)

// NewKafkaConfig is an idempotent, all-replicas-ack producer configuration.
func NewKafkaConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Return.Successes = true
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

func NewKafkaNotifier(producer sarama.SyncProducer, topic string, log *slog.Logger) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic, log: log}
}

func DialKafkaNotifier(brokers []string, topic, clientID string, log *slog.Logger) (*KafkaNotifier, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewKafkaConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaNotifier(producer, topic, log), nil
}

func (k *KafkaNotifier) Notify(ctx context.Context, n domain.NewMessageNotification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(notificationRecord{
		RecipientID:    n.RecipientID,
		SenderID:       n.SenderID,
		SenderName:     n.SenderName,
		ContentPreview: n.ContentPreview,
		ConversationID: n.ConversationID,
		MessageID:      n.MessageID,
		Seq:            n.Seq,
		CreatedAt:      n.CreatedAt,
	})
	if err != nil {
		return err
	}
	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(n.RecipientID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(eventTypeHeader), Value: []byte(domain.EventNotification)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", k.topic, err)
	}
	k.log.Debug("Notification published", "user_id", n.RecipientID, "conversation_id", n.ConversationID, "partition", partition, "offset", offset)
	return nil
}

func (k *KafkaNotifier) Close() error {
	if k.producer == nil {
		return nil
	}
	return k.producer.Close()
}
