package services

import (
	"context"
	"log/slog"
	"messaging-core/contract"
	"messaging-core/domain"
	"messaging-core/observability"
)

const DefaultBackfillPageSize = 200

// Page is one bounded slice of a conversation after a sequence number.
// NextSince is the seq to resume from; it equals the request's since when the page is empty.
type Page struct {
	ConversationID string
	Messages       []domain.Message
	NextSince      uint64
	HasMore        bool
}

type IBackfill interface {
	Fetch(ctx context.Context, conversationID string, sinceSeq uint64, limit int) (Page, error)
	Iterate(ctx context.Context, conversationID string, sinceSeq uint64, fn func(Page) error) error
}

// Backfill replays persisted messages strictly after a sequence number, ascending.
// Two calls chained through NextSince never overlap and never leave a gap.
type Backfill struct {
	store    contract.MessageStore
	pageSize int
	metrics  *observability.Metrics
	log      *slog.Logger
}

var _ IBackfill = (*Backfill)(nil)

func NewBackfill(log *slog.Logger, store contract.MessageStore, metrics *observability.Metrics, pageSize int) *Backfill {
	if pageSize <= 0 {
		pageSize = DefaultBackfillPageSize
	}
	return &Backfill{store: store, pageSize: pageSize, metrics: metrics, log: log}
}

// Fetch returns at most limit messages, capped by the page size.
func (b *Backfill) Fetch(ctx context.Context, conversationID string, sinceSeq uint64, limit int) (Page, error) {
	if limit <= 0 || limit > b.pageSize {
		limit = b.pageSize
	}
	// One extra row tells whether another page exists.
	messages, err := b.store.ListSince(ctx, conversationID, sinceSeq, limit+1)
	if err != nil {
		return Page{}, err
	}
	page := Page{ConversationID: conversationID, NextSince: sinceSeq}
	if len(messages) > limit {
		messages, page.HasMore = messages[:limit], true
	}
	page.Messages = messages
	if n := len(messages); n > 0 {
		page.NextSince = messages[n-1].Seq
	}
	return page, nil
}

// Iterate walks every page after sinceSeq until the conversation is exhausted,
// fn returns an error or ctx is done.
func (b *Backfill) Iterate(ctx context.Context, conversationID string, sinceSeq uint64, fn func(Page) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := b.Fetch(ctx, conversationID, sinceSeq, b.pageSize)
		if err != nil {
			return err
		}
		if len(page.Messages) == 0 {
			return nil
		}
		if err = fn(page); err != nil {
			return err
		}
		b.metrics.BackfilledMessages.Add(float64(len(page.Messages)))
		b.log.Debug("Backfill page replayed", "conversation_id", conversationID, "since", sinceSeq, "count", len(page.Messages))
		if !page.HasMore {
			return nil
		}
		sinceSeq = page.NextSince
	}
}
