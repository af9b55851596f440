package services

import (
	"context"
	"fmt"
	"log/slog"
	"messaging-core/contract"
	"messaging-core/domain"
	"messaging-core/errors"
	"messaging-core/observability"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContentFilter rewrites a body before it is persisted.
type ContentFilter interface {
	Censor(content string) (string, []string)
}

type IDispatcher interface {
	SendMessage(ctx context.Context, cmd domain.SendMessageCommand, origin contract.Actor) (domain.Message, error)
}

// Dispatcher is the delivery dispatcher. For one conversation, sequence
// assignment, persistence and the enqueue of the resulting frames happen
// under a single per-conversation lock, which is what keeps every actor's
// view in sequence order. No network I/O happens under the lock: Deliver
// only enqueues.
type Dispatcher struct {
	store            contract.MessageStore
	registry         contract.IRegistry
	committed        chan<- domain.MessageCommitted
	filter           ContentFilter
	locks            *keyedMutex
	clock            contract.Clock
	metrics          *observability.Metrics
	log              *slog.Logger
	maxContentLength int
}

var _ IDispatcher = (*Dispatcher)(nil)

func NewDispatcher(
	log *slog.Logger,
	store contract.MessageStore,
	registry contract.IRegistry,
	committed chan<- domain.MessageCommitted,
	filter ContentFilter,
	metrics *observability.Metrics,
	clock contract.Clock,
	maxContentLength int,
) *Dispatcher {
	if clock == nil {
		clock = time.Now
	}
	if maxContentLength <= 0 {
		maxContentLength = domain.DefaultMaxContentLength
	}
	return &Dispatcher{
		store:            store,
		registry:         registry,
		committed:        committed,
		filter:           filter,
		locks:            newKeyedMutex(),
		clock:            clock,
		metrics:          metrics,
		log:              log,
		maxContentLength: maxContentLength,
	}
}

// SendMessage validates, persists and broadcasts one message.
// origin is the sender's connection, or nil for a send without a live connection;
// it receives message:ack instead of message:new.
func (d *Dispatcher) SendMessage(ctx context.Context, cmd domain.SendMessageCommand, origin contract.Actor) (domain.Message, error) {
	// A send started by a connection that closes meanwhile still completes.
	ctx = context.WithoutCancel(ctx)

	content, err := d.validateContent(cmd.Content)
	if err != nil {
		return domain.Message{}, err
	}
	conv, err := d.resolveConversation(ctx, cmd)
	if err != nil {
		return domain.Message{}, err
	}
	if d.filter != nil {
		content, _ = d.filter.Censor(content)
	}

	unlock := d.locks.Lock(conv.ID)
	stored, err := d.store.Append(ctx, domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       cmd.SenderID,
		RecipientID:    conv.Peer(cmd.SenderID),
		Content:        content,
		Attachment:     cmd.Attachment,
		CreatedAt:      d.clock().UTC(),
	})
	if err != nil {
		unlock()
		d.metrics.PersistFailures.Inc()
		d.log.Warn("Message not persisted", "conversation_id", conv.ID, "user_id", cmd.SenderID, "error", err)
		return domain.Message{}, fmt.Errorf("send message: %w", err)
	}
	d.registry.Broadcast(conv.ID, domain.NewMessageFrame(stored), origin)
	if origin != nil {
		if err = origin.Deliver(domain.NewAckFrame(stored, cmd.ClientID)); err != nil {
			d.log.Debug("Ack not delivered", "actor_id", origin.ID(), "error", err)
		}
	}
	online := d.registry.IsOnline(conv.ID, stored.RecipientID)
	unlock()

	d.metrics.MessagesSent.Inc()
	d.publish(domain.MessageCommitted{Message: stored, RecipientOnline: online})
	if conv.Archived {
		// New activity brings an archived conversation back.
		if err = d.store.ArchiveConversation(ctx, conv.ID, false); err != nil {
			d.log.Warn("Conversation not restored", "conversation_id", conv.ID, "error", err)
		}
	}
	return stored, nil
}

func (d *Dispatcher) validateContent(raw string) (string, error) {
	content, length := domain.NormalizeContent(raw)
	if length == 0 {
		return "", errors.ErrEmptyContent
	}
	if length > d.maxContentLength {
		return "", fmt.Errorf("%w: %d > %d", errors.ErrContentTooLong, length, d.maxContentLength)
	}
	return content, nil
}

func (d *Dispatcher) resolveConversation(ctx context.Context, cmd domain.SendMessageCommand) (domain.Conversation, error) {
	if !cmd.FirstContact() {
		conv, err := d.store.GetConversation(ctx, strings.TrimSpace(cmd.ConversationID))
		if err != nil {
			return domain.Conversation{}, err
		}
		if !conv.HasParticipant(cmd.SenderID) {
			return domain.Conversation{}, errors.ErrNotParticipant
		}
		return conv, nil
	}
	conv, _, err := ResolveConversation(ctx, d.store, cmd.SenderID, cmd.RecipientID, cmd.ContextID, d.clock())
	return conv, err
}

// ResolveConversation returns the conversation of the pair for the context, creating it on first contact.
func ResolveConversation(ctx context.Context, store contract.MessageStore, senderID, recipientID, contextID string, now time.Time) (domain.Conversation, bool, error) {
	senderID, recipientID = strings.TrimSpace(senderID), strings.TrimSpace(recipientID)
	if recipientID == "" {
		return domain.Conversation{}, false, errors.ErrMissingTarget
	}
	if recipientID == senderID {
		return domain.Conversation{}, false, errors.ErrSelfConversation
	}
	return store.FindOrCreateConversation(ctx, senderID, recipientID, strings.TrimSpace(contextID), now)
}

// publish never blocks: a full channel only costs the offline notification.
func (d *Dispatcher) publish(evt domain.MessageCommitted) {
	if d.committed == nil {
		return
	}
	select {
	case d.committed <- evt:
	default:
		d.metrics.Notifications.WithLabelValues("dropped").Inc()
		d.log.Warn("Committed message event lost", "conversation_id", evt.Message.ConversationID, "seq", evt.Message.Seq)
	}
}
