package referral

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/refermed/refermed/internal/domain/identity"
)

// Directory is the slice of the provider directory the referral service needs
// to validate participants.
type Directory interface {
	GetParticipant(ctx context.Context, id uuid.UUID) (*identity.Participant, error)
}

// EventSink receives lifecycle events after a transition commits.
type EventSink interface {
	Publish(ctx context.Context, e Event) error
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(ctx context.Context, e Event) error

func (f EventSinkFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

type Service struct {
	repo      Repository
	directory Directory
	sink      EventSink
	logger    zerolog.Logger
}

// NewService constructs the referral service. sink may be nil when nothing
// consumes lifecycle events.
func NewService(repo Repository, directory Directory, sink EventSink, logger zerolog.Logger) *Service {
	return &Service{repo: repo, directory: directory, sink: sink, logger: logger}
}

// Create opens a pending referral from referredBy to referredTo. Both sides
// must be known, verified providers and must differ.
func (s *Service) Create(ctx context.Context, referredBy, referredTo uuid.UUID, patientName, patientEmail, notes string) (*Referral, error) {
	patientName = strings.TrimSpace(patientName)
	if patientName == "" {
		return nil, fmt.Errorf("patient_name is required")
	}
	if referredBy == referredTo {
		return nil, ErrSelfReferral
	}
	for _, id := range []uuid.UUID{referredBy, referredTo} {
		p, err := s.directory.GetParticipant(ctx, id)
		if err == identity.ErrNotFound {
			return nil, ErrInvalidParticipant
		}
		if err != nil {
			return nil, err
		}
		if !p.Verified {
			return nil, ErrInvalidParticipant
		}
	}

	ref := &Referral{
		PatientName:  patientName,
		PatientEmail: strings.TrimSpace(patientEmail),
		Notes:        notes,
		ReferredBy:   referredBy,
		ReferredTo:   referredTo,
		Status:       StatusPending,
	}
	if err := s.repo.Create(ctx, ref); err != nil {
		return nil, err
	}

	s.publish(EventCreated, ref)
	return ref, nil
}

// Get returns a referral to one of its participants.
func (s *Service) Get(ctx context.Context, actorID, referralID uuid.UUID) (*Referral, error) {
	ref, err := s.repo.GetByID(ctx, referralID)
	if err != nil {
		return nil, err
	}
	if !ref.IsParticipant(actorID) {
		return nil, ErrForbidden
	}
	return ref, nil
}

// Complete moves a pending referral to Completed. Only the receiving provider
// may complete a pending referral; once terminal, any participant calling
// Complete gets the terminal record back unchanged.
func (s *Service) Complete(ctx context.Context, actorID, referralID uuid.UUID) (*Referral, error) {
	ref, err := s.repo.GetByID(ctx, referralID)
	if err != nil {
		return nil, err
	}
	if !ref.IsParticipant(actorID) {
		return nil, ErrForbidden
	}

	if ref.Status == StatusPending {
		if actorID != ref.ReferredTo {
			return nil, ErrForbidden
		}
		transitioned, err := s.repo.Complete(ctx, referralID)
		if err != nil {
			return nil, err
		}
		if transitioned {
			ref, err = s.repo.GetByID(ctx, referralID)
			if err != nil {
				return nil, err
			}
			s.publish(EventCompleted, ref)
			return ref, nil
		}
		// Lost the race: someone else completed it first. Fall through to the
		// idempotent re-read.
	}

	return s.repo.GetByID(ctx, referralID)
}

// ReferBack flags a pending referral for follow-up with the referring
// provider. Only the receiving provider may set it; flagging twice is a
// no-op, flagging after completion is rejected.
func (s *Service) ReferBack(ctx context.Context, actorID, referralID uuid.UUID) (*Referral, error) {
	ref, err := s.repo.GetByID(ctx, referralID)
	if err != nil {
		return nil, err
	}
	if !ref.IsParticipant(actorID) {
		return nil, ErrForbidden
	}
	if actorID != ref.ReferredTo {
		return nil, ErrForbidden
	}
	if ref.Status == StatusCompleted {
		return nil, ErrAlreadyCompleted
	}

	alreadySet := ref.ReferBack
	flagged, err := s.repo.SetReferBack(ctx, referralID)
	if err != nil {
		return nil, err
	}
	if !flagged {
		// Completed between the read and the update.
		return nil, ErrAlreadyCompleted
	}

	ref, err = s.repo.GetByID(ctx, referralID)
	if err != nil {
		return nil, err
	}
	if !alreadySet {
		s.publish(EventReferredBack, ref)
	}
	return ref, nil
}

// ListSent returns referrals the provider created.
func (s *Service) ListSent(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*Referral, int, error) {
	return s.repo.ListByReferrer(ctx, providerID, limit, offset)
}

// ListReceived returns referrals addressed to the provider.
func (s *Service) ListReceived(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*Referral, int, error) {
	return s.repo.ListByReferredTo(ctx, providerID, limit, offset)
}

// CountsFor returns the provider's received/completed totals.
func (s *Service) CountsFor(ctx context.Context, providerID uuid.UUID) (Counts, error) {
	return s.repo.CountsFor(ctx, providerID)
}

// publish hands the event to the sink on a detached context so a slow
// consumer cannot hold up the request. Sink failures are logged and dropped.
func (s *Service) publish(kind EventKind, ref *Referral) {
	if s.sink == nil {
		return
	}
	e := Event{Kind: kind, Referral: *ref, OccurredAt: time.Now().UTC()}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.sink.Publish(ctx, e); err != nil {
			s.logger.Error().Err(err).
				Str("event", string(kind)).
				Str("referral_id", e.Referral.ID.String()).
				Msg("failed to publish referral event")
		}
	}()
}
