//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"messaging-core/domain"
	"reflect"
	"time"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// Used for logging and supervision, so workers don't have to name themselves.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// MessageStore persists conversations and messages.
// Append must assign seq = last+1 atomically with the write, and
// FindOrCreateConversation must be unique per (unordered pair, context)
// even under concurrent first contact from both sides.
type MessageStore interface {
	FindOrCreateConversation(ctx context.Context, a, b, contextID string, now time.Time) (domain.Conversation, bool, error)
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
	ListConversations(ctx context.Context, userID string, includeArchived bool) ([]domain.Conversation, error)
	ArchiveConversation(ctx context.Context, conversationID string, archived bool) error
	Append(ctx context.Context, message domain.Message) (domain.Message, error)
	ListSince(ctx context.Context, conversationID string, sinceSeq uint64, limit int) ([]domain.Message, error)
	GetMessage(ctx context.Context, messageID string) (domain.Message, error)
	MarkRead(ctx context.Context, messageID, readerID string, at time.Time) (bool, domain.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error)
	CountUnread(ctx context.Context, conversationID, participantID string) (int, error)
	Close() error
}

// MessageSink consumes committed messages once the conversation lock is released.
// Sinks are best effort: an error is logged, the message stays persisted.
type MessageSink interface {
	Consume(ctx context.Context, evt domain.MessageCommitted) error
}

// Notifier delivers offline notices. Failures are logged by the caller, never retried.
type Notifier interface {
	Notify(ctx context.Context, n domain.NewMessageNotification) error
}

// ProfileDirectory resolves display metadata, it is not authoritative.
type ProfileDirectory interface {
	Lookup(ctx context.Context, userID string) (domain.ParticipantRef, error)
}

// SearchIndex is a secondary index over message bodies, rebuilt from the store if lost.
type SearchIndex interface {
	Index(ctx context.Context, message domain.Message) error
	Search(ctx context.Context, conversationID, query string, limit int) ([]SearchHit, error)
	Close() error
}

type SearchHit struct {
	MessageID string
	Seq       uint64
	Score     float64
}

// Actor is what the registry knows of a live connection.
// Deliver never blocks on network I/O.
type Actor interface {
	ID() string
	UserID() string
	Deliver(frame domain.Frame) error
	Close()
}

type IRegistry interface {
	Join(conversationID string, actor Actor) bool
	Leave(conversationID string, actor Actor) bool
	LeaveAll(actor Actor) []string
	Broadcast(conversationID string, frame domain.Frame, exclude Actor) int
	SendToUser(userID string, frame domain.Frame) int
	IsOnline(conversationID, userID string) bool
	Members(conversationID string) []Actor
	Connect(actor Actor)
	Disconnect(actor Actor)
}

// Clock is injected wherever expiry is computed.
type Clock func() time.Time
