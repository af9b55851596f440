package services

import (
	"context"
	"log/slog"
	"messaging-core/contract"
	"messaging-core/domain"
	"messaging-core/errors"
	"sort"
	"strings"
	"time"
)

const defaultSearchLimit = 20

type IConversationService interface {
	List(ctx context.Context, userID string, includeArchived bool) ([]domain.ConversationSummary, error)
	Get(ctx context.Context, userID, conversationID string) (domain.ConversationSummary, error)
	Open(ctx context.Context, userID, recipientID, contextID string) (domain.ConversationSummary, bool, error)
	Messages(ctx context.Context, userID, conversationID string, sinceSeq uint64, limit int) (Page, error)
	Archive(ctx context.Context, userID, conversationID string, archived bool) error
	Search(ctx context.Context, userID, conversationID, query string, limit int) ([]domain.Message, error)
	Authorize(ctx context.Context, userID, conversationID string) (domain.Conversation, error)
}

// ConversationService serves the request/response side: listings, history and search.
// Live delivery goes through the Dispatcher only.
type ConversationService struct {
	store    contract.MessageStore
	profiles contract.ProfileDirectory
	index    contract.SearchIndex
	backfill IBackfill
	clock    contract.Clock
	log      *slog.Logger
}

var _ IConversationService = (*ConversationService)(nil)

func NewConversationService(
	log *slog.Logger,
	store contract.MessageStore,
	profiles contract.ProfileDirectory,
	index contract.SearchIndex,
	backfill IBackfill,
	clock contract.Clock,
) *ConversationService {
	if clock == nil {
		clock = time.Now
	}
	return &ConversationService{store: store, profiles: profiles, index: index, backfill: backfill, clock: clock, log: log}
}

// List returns the user's conversations, most recent activity first.
func (s *ConversationService) List(ctx context.Context, userID string, includeArchived bool) ([]domain.ConversationSummary, error) {
	conversations, err := s.store.ListConversations(ctx, userID, includeArchived)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LastActivity().After(conversations[j].LastActivity())
	})
	summaries := make([]domain.ConversationSummary, 0, len(conversations))
	for _, conv := range conversations {
		summary, err := s.summarize(ctx, userID, conv)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *ConversationService) Get(ctx context.Context, userID, conversationID string) (domain.ConversationSummary, error) {
	conv, err := s.Authorize(ctx, userID, conversationID)
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	return s.summarize(ctx, userID, conv)
}

// Open is create-or-fetch: the boolean reports whether the conversation was just created.
func (s *ConversationService) Open(ctx context.Context, userID, recipientID, contextID string) (domain.ConversationSummary, bool, error) {
	conv, created, err := ResolveConversation(ctx, s.store, userID, recipientID, contextID, s.clock())
	if err != nil {
		return domain.ConversationSummary{}, false, err
	}
	if created {
		s.log.Info("Conversation created", "conversation_id", conv.ID, "user_id", userID, "context_id", conv.ContextID)
	}
	summary, err := s.summarize(ctx, userID, conv)
	return summary, created, err
}

func (s *ConversationService) Messages(ctx context.Context, userID, conversationID string, sinceSeq uint64, limit int) (Page, error) {
	if _, err := s.Authorize(ctx, userID, conversationID); err != nil {
		return Page{}, err
	}
	return s.backfill.Fetch(ctx, conversationID, sinceSeq, limit)
}

// Archive is a soft, reversible hide. Messages are never deleted.
func (s *ConversationService) Archive(ctx context.Context, userID, conversationID string, archived bool) error {
	if _, err := s.Authorize(ctx, userID, conversationID); err != nil {
		return err
	}
	return s.store.ArchiveConversation(ctx, conversationID, archived)
}

// Search matches message bodies in one conversation, best score first.
// Hits the store no longer knows are skipped.
func (s *ConversationService) Search(ctx context.Context, userID, conversationID, query string, limit int) ([]domain.Message, error) {
	if _, err := s.Authorize(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" || s.index == nil {
		return []domain.Message{}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	hits, err := s.index.Search(ctx, conversationID, query, limit)
	if err != nil {
		return nil, err
	}
	messages := make([]domain.Message, 0, len(hits))
	for _, hit := range hits {
		m, err := s.store.GetMessage(ctx, hit.MessageID)
		if errors.Is(err, errors.ErrMessageNotFound) {
			s.log.Debug("Stale search hit", "conversation_id", conversationID, "message_id", hit.MessageID)
			continue
		}
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// Authorize loads the conversation and checks the user takes part in it.
func (s *ConversationService) Authorize(ctx context.Context, userID, conversationID string) (domain.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !conv.HasParticipant(userID) {
		return domain.Conversation{}, errors.ErrNotParticipant
	}
	return conv, nil
}

func (s *ConversationService) summarize(ctx context.Context, userID string, conv domain.Conversation) (domain.ConversationSummary, error) {
	unread, err := s.store.CountUnread(ctx, conv.ID, userID)
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	return domain.ConversationSummary{
		Conversation: conv,
		Peer:         s.lookup(ctx, conv.Peer(userID)),
		UnreadCount:  unread,
	}, nil
}

// lookup never fails: a missing profile degrades to the bare identity.
func (s *ConversationService) lookup(ctx context.Context, userID string) domain.ParticipantRef {
	if s.profiles == nil {
		return domain.ParticipantRef{ID: userID}
	}
	ref, err := s.profiles.Lookup(ctx, userID)
	if err != nil {
		if !errors.Is(err, errors.ErrProfileNotFound) {
			s.log.Warn("Profile lookup failed", "user_id", userID, "error", err)
		}
		return domain.ParticipantRef{ID: userID}
	}
	return ref
}
