package services

import (
	"context"
	"fmt"
	"log/slog"
	"messaging-core/contract"
	"messaging-core/domain"
	"messaging-core/errors"
	"messaging-core/observability"
	"time"
)

const DefaultNotificationTimeout = 3 * time.Second

// NotificationSink hands a notice to the Notifier when the recipient had no
// connection joined to the conversation at commit time.
type NotificationSink struct {
	notifier      contract.Notifier
	profiles      contract.ProfileDirectory
	metrics       *observability.Metrics
	log           *slog.Logger
	timeout       time.Duration
	previewLength int
}

var _ contract.MessageSink = (*NotificationSink)(nil)

func NewNotificationSink(log *slog.Logger, notifier contract.Notifier, profiles contract.ProfileDirectory, metrics *observability.Metrics, timeout time.Duration, previewLength int) *NotificationSink {
	if timeout <= 0 {
		timeout = DefaultNotificationTimeout
	}
	if previewLength <= 0 {
		previewLength = domain.DefaultPreviewLength
	}
	return &NotificationSink{
		notifier:      notifier,
		profiles:      profiles,
		metrics:       metrics,
		log:           log,
		timeout:       timeout,
		previewLength: previewLength,
	}
}

func (s *NotificationSink) Consume(ctx context.Context, evt domain.MessageCommitted) error {
	if evt.RecipientOnline {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n := domain.NewNotification(evt.Message, s.senderName(ctx, evt.Message.SenderID), s.previewLength)
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.metrics.Notifications.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %w", errors.ErrNotificationFailed, err)
	}
	s.metrics.Notifications.WithLabelValues("sent").Inc()
	return nil
}

func (s *NotificationSink) senderName(ctx context.Context, senderID string) string {
	if s.profiles == nil {
		return senderID
	}
	ref, err := s.profiles.Lookup(ctx, senderID)
	if err != nil {
		s.log.Debug("Sender name unavailable", "user_id", senderID, "error", err)
		return senderID
	}
	return ref.Name()
}

// SearchSink keeps the search index in step with the store.
type SearchSink struct {
	index contract.SearchIndex
}

var _ contract.MessageSink = (*SearchSink)(nil)

func NewSearchSink(index contract.SearchIndex) *SearchSink {
	return &SearchSink{index: index}
}

func (s *SearchSink) Consume(ctx context.Context, evt domain.MessageCommitted) error {
	return s.index.Index(ctx, evt.Message)
}
