package referral

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/refermed/refermed/internal/domain/identity"
	"github.com/refermed/refermed/internal/platform/notification"
)

func TestNotificationSink_RoutesByEventKind(t *testing.T) {
	by := &identity.Participant{ID: uuid.New(), Name: "Dr. Adams", Email: "adams@example.com", Verified: true}
	to := &identity.Participant{ID: uuid.New(), Name: "Dr. Baker", Email: "baker@example.com", Verified: true}
	dir := &mockDirectory{participants: map[uuid.UUID]*identity.Participant{by.ID: by, to.ID: to}}

	email := &notification.MockEmailSender{}
	mgr := notification.NewManager(email, nil, notification.NewTemplateEngine())
	sink := NewNotificationSink(dir, mgr)

	ref := Referral{ID: uuid.New(), PatientName: "Jane Roe", ReferredBy: by.ID, ReferredTo: to.ID}

	cases := []struct {
		kind      EventKind
		recipient string
	}{
		{EventCreated, "baker@example.com"},
		{EventCompleted, "adams@example.com"},
		{EventReferredBack, "adams@example.com"},
	}
	for _, tc := range cases {
		if err := sink.Publish(context.Background(), Event{Kind: tc.kind, Referral: ref, OccurredAt: time.Now()}); err != nil {
			t.Fatalf("Publish(%s) failed: %v", tc.kind, err)
		}
	}

	calls := email.Calls()
	if len(calls) != len(cases) {
		t.Fatalf("expected %d emails, got %d", len(cases), len(calls))
	}
	for i, tc := range cases {
		if calls[i].To != tc.recipient {
			t.Errorf("event %s went to %s, want %s", tc.kind, calls[i].To, tc.recipient)
		}
	}
}

func TestNotificationSink_UnknownParticipant(t *testing.T) {
	dir := &mockDirectory{participants: map[uuid.UUID]*identity.Participant{}}
	email := &notification.MockEmailSender{}
	mgr := notification.NewManager(email, nil, notification.NewTemplateEngine())
	sink := NewNotificationSink(dir, mgr)

	ref := Referral{ID: uuid.New(), ReferredBy: uuid.New(), ReferredTo: uuid.New()}
	if err := sink.Publish(context.Background(), Event{Kind: EventCreated, Referral: ref}); err == nil {
		t.Fatal("expected error for unknown participants")
	}
	if len(email.Calls()) != 0 {
		t.Fatal("no email should be sent when lookup fails")
	}
}
