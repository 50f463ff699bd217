package referral

import (
	"context"
	"fmt"

	"github.com/refermed/refermed/internal/platform/notification"
)

// Notifier is the slice of the notification manager the sink uses.
type Notifier interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error)
}

// NotificationSink turns lifecycle events into emails for the counterpart
// provider: created goes to the receiving side, completed and referred-back
// go back to the referrer.
type NotificationSink struct {
	directory Directory
	notifier  Notifier
}

func NewNotificationSink(directory Directory, notifier Notifier) *NotificationSink {
	return &NotificationSink{directory: directory, notifier: notifier}
}

func (s *NotificationSink) Publish(ctx context.Context, e Event) error {
	by, err := s.directory.GetParticipant(ctx, e.Referral.ReferredBy)
	if err != nil {
		return fmt.Errorf("lookup referrer: %w", err)
	}
	to, err := s.directory.GetParticipant(ctx, e.Referral.ReferredTo)
	if err != nil {
		return fmt.Errorf("lookup recipient: %w", err)
	}

	data := map[string]string{
		"patient_name": e.Referral.PatientName,
		"referred_by":  by.Name,
		"referred_to":  to.Name,
	}

	var recipient string
	switch e.Kind {
	case EventCreated:
		recipient = to.Email
	case EventCompleted, EventReferredBack:
		recipient = by.Email
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}

	_, err = s.notifier.SendFromTemplate(ctx, string(e.Kind), data, recipient)
	return err
}
