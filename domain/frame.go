package domain

import "time"

type EventType string

// Client to server.
const (
	EventJoin        EventType = "join"
	EventLeave       EventType = "leave"
	EventSendMessage EventType = "message:send"
	EventMarkRead    EventType = "read:mark"
	EventTypingStart EventType = "typing:start"
	EventTypingStop  EventType = "typing:stop"
)

// Server to client. typing:start and typing:stop are shared with the inbound set.
const (
	EventMessageNew      EventType = "message:new"
	EventMessageAck      EventType = "message:ack"
	EventReadUpdate      EventType = "read:update"
	EventNotification    EventType = "notification:new_message"
	EventBackfill        EventType = "backfill"
	EventError           EventType = "error"
	EventConnectionReady EventType = "connection:ready"
)

func (t EventType) Inbound() bool {
	switch t {
	case EventJoin, EventLeave, EventSendMessage, EventMarkRead, EventTypingStart, EventTypingStop:
		return true
	}
	return false
}

// Droppable frames may be discarded under backpressure. Messages and
// receipts never are.
func (t EventType) Droppable() bool {
	return t == EventTypingStart || t == EventTypingStop
}

// Frame is one outbound event, payload is one of the *Payload types below.
type Frame struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

type JoinPayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
	// LastSeq is the highest sequence the client already holds, 0 when unknown.
	LastSeq uint64 `json:"lastSeq,omitempty"`
}

type LeavePayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type SendMessagePayload struct {
	ConversationID string `json:"conversationId,omitempty" validate:"required_without=RecipientID"`
	RecipientID    string `json:"recipientId,omitempty" validate:"required_without=ConversationID"`
	Content        string `json:"content"`
	PatternID      string `json:"patternId,omitempty"`
	AttachmentURL  string `json:"attachmentUrl,omitempty"`
	AttachmentType string `json:"attachmentType,omitempty"`
	AttachmentName string `json:"attachmentName,omitempty"`
	// ClientID is echoed in the ack so the client can match its optimistic copy.
	ClientID string `json:"clientId,omitempty"`
}

type MarkReadPayload struct {
	MessageID        string `json:"messageId" validate:"required_without=ConversationID"`
	ConversationID   string `json:"conversationId,omitempty"`
	MarkConversation bool   `json:"markConversation"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
	UserID         string `json:"userId,omitempty"`
}

type AttachmentPayload struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
	Name string `json:"name,omitempty"`
}

type MessagePayload struct {
	ID             string             `json:"id"`
	ConversationID string             `json:"conversationId"`
	SenderID       string             `json:"senderId"`
	RecipientID    string             `json:"recipientId"`
	Content        string             `json:"content"`
	Attachment     *AttachmentPayload `json:"attachment,omitempty"`
	Seq            uint64             `json:"seq"`
	CreatedAt      time.Time          `json:"createdAt"`
	Read           bool               `json:"read"`
	ReadAt         *time.Time         `json:"readAt,omitempty"`
	ClientID       string             `json:"clientId,omitempty"`
}

type ReadUpdatePayload struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	ReaderID       string    `json:"readerId"`
	ReadAt         time.Time `json:"readAt"`
}

type NotificationPayload struct {
	SenderName     string `json:"senderName"`
	ContentPreview string `json:"contentPreview"`
	ConversationID string `json:"conversationId"`
}

type BackfillPayload struct {
	ConversationID string           `json:"conversationId"`
	Messages       []MessagePayload `json:"messages"`
	NextSince      uint64           `json:"nextSince"`
	HasMore        bool             `json:"hasMore"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

type ReadyPayload struct {
	UserID  string `json:"userId"`
	ActorID string `json:"actorId"`
}

func ToMessagePayload(m Message) MessagePayload {
	p := MessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		Content:        m.Content,
		Seq:            m.Seq,
		CreatedAt:      m.CreatedAt,
		Read:           m.Read,
		ReadAt:         m.ReadAt,
	}
	if m.Attachment != nil {
		p.Attachment = &AttachmentPayload{URL: m.Attachment.URL, Kind: string(m.Attachment.Kind), Name: m.Attachment.Name}
	}
	return p
}

func NewMessageFrame(m Message) Frame {
	return Frame{Type: EventMessageNew, Payload: ToMessagePayload(m)}
}

func NewAckFrame(m Message, clientID string) Frame {
	p := ToMessagePayload(m)
	p.ClientID = clientID
	return Frame{Type: EventMessageAck, Payload: p}
}

func NewReadUpdateFrame(r ReceiptUpdate) Frame {
	return Frame{Type: EventReadUpdate, Payload: ReadUpdatePayload{
		ConversationID: r.ConversationID,
		MessageID:      r.MessageID,
		ReaderID:       r.ReaderID,
		ReadAt:         r.ReadAt,
	}}
}

func NewTypingFrame(t EventType, conversationID, userID string) Frame {
	return Frame{Type: t, Payload: TypingPayload{ConversationID: conversationID, UserID: userID}}
}

func NewNotificationFrame(n NewMessageNotification) Frame {
	return Frame{Type: EventNotification, Payload: NotificationPayload{
		SenderName:     n.SenderName,
		ContentPreview: n.ContentPreview,
		ConversationID: n.ConversationID,
	}}
}

func NewErrorFrame(code, message string, retryable bool) Frame {
	return Frame{Type: EventError, Payload: ErrorPayload{Code: code, Message: message, Retryable: retryable}}
}

func NewBackfillFrame(conversationID string, messages []Message, nextSince uint64, hasMore bool) Frame {
	payload := BackfillPayload{
		ConversationID: conversationID,
		Messages:       make([]MessagePayload, 0, len(messages)),
		NextSince:      nextSince,
		HasMore:        hasMore,
	}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, ToMessagePayload(m))
	}
	return Frame{Type: EventBackfill, Payload: payload}
}

func NewReadyFrame(userID, actorID string) Frame {
	return Frame{Type: EventConnectionReady, Payload: ReadyPayload{UserID: userID, ActorID: actorID}}
}
