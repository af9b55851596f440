package domain

import "time"

// NewMessageNotification is emitted for a recipient with no live actor joined
// to the conversation. Delivery is someone else's business.
type NewMessageNotification struct {
	RecipientID    string
	SenderID       string
	SenderName     string
	ContentPreview string
	ConversationID string
	MessageID      string
	Seq            uint64
	CreatedAt      time.Time
}

func NewNotification(m Message, senderName string, previewLength int) NewMessageNotification {
	return NewMessageNotification{
		RecipientID:    m.RecipientID,
		SenderID:       m.SenderID,
		SenderName:     senderName,
		ContentPreview: Preview(m.Content, previewLength),
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		Seq:            m.Seq,
		CreatedAt:      m.CreatedAt,
	}
}

// MessageCommitted is published once a message is durable and broadcast.
// RecipientOnline is sampled while the conversation lock was still held.
type MessageCommitted struct {
	Message         Message
	RecipientOnline bool
}
