package domain

import "strings"

// SendMessageCommand is the intent accepted by the delivery dispatcher.
// Either ConversationID or RecipientID designates the target.
type SendMessageCommand struct {
	SenderID       string
	ConversationID string
	RecipientID    string
	ContextID      string
	Content        string
	Attachment     *Attachment
	ClientID       string
}

// FirstContact reports whether the target must be resolved from the recipient.
func (c SendMessageCommand) FirstContact() bool {
	return strings.TrimSpace(c.ConversationID) == ""
}

// MarkReadCommand names what a reader has seen. A message alone marks that
// message; Conversation, or a conversation without a message, marks every
// unread message of it. When both ids are given the message must belong to
// the conversation.
type MarkReadCommand struct {
	ReaderID       string
	MessageID      string
	ConversationID string
	Conversation   bool
}

// WholeConversation reports whether every unread message is targeted.
func (c MarkReadCommand) WholeConversation() bool {
	return c.Conversation || strings.TrimSpace(c.MessageID) == ""
}
