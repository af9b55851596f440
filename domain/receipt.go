package domain

import "time"

// AllMessages is the message id carried by a receipt covering a whole conversation.
const AllMessages = "all"

// ReceiptUpdate is the transient result of a read transition. It is never
// stored itself, only its side effects on Message.Read are.
type ReceiptUpdate struct {
	ConversationID string
	MessageID      string
	ReaderID       string
	ReadAt         time.Time
	Changed        int // messages flipped from unread to read
	Unread         int // recomputed counter for (conversation, reader)
}

func (r ReceiptUpdate) CoversConversation() bool {
	return r.MessageID == AllMessages
}
