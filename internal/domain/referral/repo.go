package referral

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists referrals. Implementations map missing rows to
// ErrNotFound. The two guarded updates are compare-and-set on the row's
// status so concurrent actors cannot double-apply a transition.
type Repository interface {
	Create(ctx context.Context, r *Referral) error
	GetByID(ctx context.Context, id uuid.UUID) (*Referral, error)
	// Complete moves Pending to Completed. It reports false without error when
	// the referral exists but was not pending.
	Complete(ctx context.Context, id uuid.UUID) (bool, error)
	// SetReferBack flags a pending referral for follow-up. It reports false
	// without error when the referral exists but was not pending.
	SetReferBack(ctx context.Context, id uuid.UUID) (bool, error)
	ListByReferrer(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*Referral, int, error)
	ListByReferredTo(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*Referral, int, error)
	CountsFor(ctx context.Context, providerID uuid.UUID) (Counts, error)
}
