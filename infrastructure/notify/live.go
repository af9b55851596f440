package notify

import (
	"context"
	"log/slog"
	"messaging-core/contract"
	"messaging-core/domain"
)

// LiveNotifier pushes notification:new_message to the recipient's open
// connections that are not joined to the conversation (inbox badge, toast).
type LiveNotifier struct {
	registry contract.IRegistry
	log      *slog.Logger
}

var _ contract.Notifier = (*LiveNotifier)(nil)

func NewLiveNotifier(registry contract.IRegistry, log *slog.Logger) *LiveNotifier {
	return &LiveNotifier{registry: registry, log: log}
}

func (l *LiveNotifier) Notify(_ context.Context, n domain.NewMessageNotification) error {
	delivered := l.registry.SendToUser(n.RecipientID, domain.NewNotificationFrame(n))
	l.log.Debug("Live notification", "user_id", n.RecipientID, "actors", delivered)
	return nil
}

// LogNotifier stands in when no broker is configured.
type LogNotifier struct {
	log *slog.Logger
}

var _ contract.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(_ context.Context, n domain.NewMessageNotification) error {
	l.log.Info("New message for offline user",
		"user_id", n.RecipientID,
		"sender", n.SenderName,
		"conversation_id", n.ConversationID,
		"seq", n.Seq)
	return nil
}
