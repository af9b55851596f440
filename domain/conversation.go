// Package domain contains core concepts of the messaging core.
// This file defines Conversation threads and the participant-pair rules.
// No runtime, network, or storage logic should be added here.
package domain

import (
	"sort"
	"strings"
	"time"
)

// Conversation is a durable two-party thread, optionally scoped to a linking
// context such as a marketplace item.
type Conversation struct {
	ID                 string
	Participants       [2]string // sorted, see NormalizePair
	ContextID          string
	CreatedAt          time.Time
	LastMessageAt      time.Time
	LastMessageID      string
	LastMessageSeq     uint64
	LastSenderID       string
	LastMessagePreview string
	Archived           bool
}

// NormalizePair trims and orders two participant ids so that (a, b) and
// (b, a) designate the same conversation.
func NormalizePair(a, b string) [2]string {
	pair := []string{strings.TrimSpace(a), strings.TrimSpace(b)}
	sort.Strings(pair)
	return [2]string{pair[0], pair[1]}
}

// PairKey is the uniqueness key of a conversation: unordered pair plus context.
func PairKey(a, b, contextID string) string {
	pair := NormalizePair(a, b)
	return pair[0] + "|" + pair[1] + "|" + strings.TrimSpace(contextID)
}

func (c Conversation) HasParticipant(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// Peer returns the other participant, or "" when userID is not part of the conversation.
func (c Conversation) Peer(userID string) string {
	switch userID {
	case c.Participants[0]:
		return c.Participants[1]
	case c.Participants[1]:
		return c.Participants[0]
	default:
		return ""
	}
}

// LastActivity falls back to the creation time for conversations without messages.
func (c Conversation) LastActivity() time.Time {
	if !c.LastMessageAt.IsZero() {
		return c.LastMessageAt
	}
	return c.CreatedAt
}

// ApplyMessage moves the last-message pointer forward. Older sequences are ignored.
func (c *Conversation) ApplyMessage(m Message, previewLength int) {
	if m.Seq <= c.LastMessageSeq {
		return
	}
	c.LastMessageSeq = m.Seq
	c.LastMessageID = m.ID
	c.LastMessageAt = m.CreatedAt
	c.LastSenderID = m.SenderID
	c.LastMessagePreview = Preview(m.Content, previewLength)
}

// ConversationSummary is a Conversation as seen by one participant.
type ConversationSummary struct {
	Conversation Conversation
	Peer         ParticipantRef
	UnreadCount  int
}
