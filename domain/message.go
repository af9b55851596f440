// Package domain contains core concepts of the messaging core.
// This file defines Message events and related rules.
// Once persisted, body and sequence number are immutable; only the read
// flag and read timestamp ever change.
package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultMaxContentLength = 1000
	DefaultPreviewLength    = 50
)

// Message represents one persisted chat message.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	RecipientID    string
	Content        string
	Attachment     *Attachment
	Seq            uint64 // strictly increasing and gapless per conversation, starts at 1
	CreatedAt      time.Time
	Read           bool
	ReadAt         *time.Time
}

// NormalizeContent trims the body and reports its length in runes.
func NormalizeContent(content string) (string, int) {
	trimmed := strings.TrimSpace(content)
	return trimmed, utf8.RuneCountInString(trimmed)
}

// Preview truncates content to at most n runes.
func Preview(content string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n])
}

// UnreadFor reports whether the message is unread for the given participant.
func (m Message) UnreadFor(userID string) bool {
	return m.RecipientID == userID && !m.Read
}
