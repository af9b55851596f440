package notify

import (
	"context"
	"messaging-core/contract"
	"messaging-core/domain"
	"messaging-core/errors"
)

// Multi calls every notifier, even after a failure, and joins the errors.
type Multi []contract.Notifier

var _ contract.Notifier = Multi(nil)

func (m Multi) Notify(ctx context.Context, n domain.NewMessageNotification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
