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
)

type IReceiptTracker interface {
	Mark(ctx context.Context, cmd domain.MarkReadCommand) (domain.ReceiptUpdate, error)
	MarkRead(ctx context.Context, readerID, messageID string) (domain.ReceiptUpdate, error)
	MarkConversationRead(ctx context.Context, readerID, conversationID string) (domain.ReceiptUpdate, error)
	Unread(ctx context.Context, conversationID, participantID string) (int, error)
}

// ReceiptTracker applies read transitions and publishes read:update to the room.
// The unread counter it reports is always recomputed by the store, never kept here.
type ReceiptTracker struct {
	store    contract.MessageStore
	registry contract.IRegistry
	clock    contract.Clock
	metrics  *observability.Metrics
	log      *slog.Logger
}

var _ IReceiptTracker = (*ReceiptTracker)(nil)

func NewReceiptTracker(log *slog.Logger, store contract.MessageStore, registry contract.IRegistry, metrics *observability.Metrics, clock contract.Clock) *ReceiptTracker {
	if clock == nil {
		clock = time.Now
	}
	return &ReceiptTracker{store: store, registry: registry, clock: clock, metrics: metrics, log: log}
}

// Mark resolves the command's target. A conversation-wide mark may name only
// a message: its conversation is looked up.
func (t *ReceiptTracker) Mark(ctx context.Context, cmd domain.MarkReadCommand) (domain.ReceiptUpdate, error) {
	messageID := strings.TrimSpace(cmd.MessageID)
	if messageID == "" {
		if strings.TrimSpace(cmd.ConversationID) == "" {
			return domain.ReceiptUpdate{}, errors.ErrMissingReadTarget
		}
		return t.MarkConversationRead(ctx, cmd.ReaderID, cmd.ConversationID)
	}

	m, err := t.store.GetMessage(ctx, messageID)
	if err != nil {
		return domain.ReceiptUpdate{}, err
	}
	if cmd.ConversationID != "" && cmd.ConversationID != m.ConversationID {
		return domain.ReceiptUpdate{}, fmt.Errorf("%w: %s is not in %s", errors.ErrMessageNotFound, messageID, cmd.ConversationID)
	}
	if cmd.WholeConversation() {
		return t.MarkConversationRead(ctx, cmd.ReaderID, m.ConversationID)
	}
	return t.markMessage(ctx, cmd.ReaderID, m)
}

// MarkRead marks one message as read by its recipient. The sender marking its
// own message, or a message already read, is an unchanged update, not an error.
func (t *ReceiptTracker) MarkRead(ctx context.Context, readerID, messageID string) (domain.ReceiptUpdate, error) {
	m, err := t.store.GetMessage(ctx, messageID)
	if err != nil {
		return domain.ReceiptUpdate{}, err
	}
	return t.markMessage(ctx, readerID, m)
}

func (t *ReceiptTracker) markMessage(ctx context.Context, readerID string, m domain.Message) (domain.ReceiptUpdate, error) {
	err := t.authorize(ctx, m.ConversationID, readerID)
	if err != nil {
		return domain.ReceiptUpdate{}, err
	}

	now := t.clock().UTC()
	update := domain.ReceiptUpdate{ConversationID: m.ConversationID, MessageID: m.ID, ReaderID: readerID, ReadAt: now}
	if m.RecipientID == readerID {
		changed, stored, err := t.store.MarkRead(ctx, m.ID, readerID, now)
		if err != nil {
			return domain.ReceiptUpdate{}, err
		}
		if changed {
			update.Changed = 1
		}
		if stored.ReadAt != nil {
			update.ReadAt = *stored.ReadAt
		}
	}
	if update.Unread, err = t.store.CountUnread(ctx, m.ConversationID, readerID); err != nil {
		return domain.ReceiptUpdate{}, err
	}
	t.publish(update, "message")
	return update, nil
}

// MarkConversationRead marks every unread message addressed to the reader in one step.
func (t *ReceiptTracker) MarkConversationRead(ctx context.Context, readerID, conversationID string) (domain.ReceiptUpdate, error) {
	if err := t.authorize(ctx, conversationID, readerID); err != nil {
		return domain.ReceiptUpdate{}, err
	}
	now := t.clock().UTC()
	changed, err := t.store.MarkConversationRead(ctx, conversationID, readerID, now)
	if err != nil {
		return domain.ReceiptUpdate{}, err
	}
	update := domain.ReceiptUpdate{
		ConversationID: conversationID,
		MessageID:      domain.AllMessages,
		ReaderID:       readerID,
		ReadAt:         now,
		Changed:        changed,
	}
	if update.Unread, err = t.store.CountUnread(ctx, conversationID, readerID); err != nil {
		return domain.ReceiptUpdate{}, err
	}
	t.publish(update, "conversation")
	return update, nil
}

func (t *ReceiptTracker) Unread(ctx context.Context, conversationID, participantID string) (int, error) {
	return t.store.CountUnread(ctx, conversationID, participantID)
}

func (t *ReceiptTracker) authorize(ctx context.Context, conversationID, readerID string) error {
	conv, err := t.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(readerID) {
		return errors.ErrNotParticipant
	}
	return nil
}

// publish only speaks when something actually flipped.
func (t *ReceiptTracker) publish(update domain.ReceiptUpdate, scope string) {
	if update.Changed == 0 {
		return
	}
	t.metrics.Receipts.WithLabelValues(scope).Inc()
	n := t.registry.Broadcast(update.ConversationID, domain.NewReadUpdateFrame(update), nil)
	t.log.Debug("Read update broadcast", "conversation_id", update.ConversationID, "user_id", update.ReaderID, "changed", update.Changed, "actors", n)
}
