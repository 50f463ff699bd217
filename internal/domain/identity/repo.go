package identity

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists participants. Implementations map missing rows to
// ErrNotFound.
type Repository interface {
	Create(ctx context.Context, p *Participant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Participant, error)
	GetByEmail(ctx context.Context, email string) (*Participant, error)
	SetVerified(ctx context.Context, id uuid.UUID) error
	// List returns verified participants whose role is in roles, excluding the
	// given id, newest first.
	List(ctx context.Context, roles []Role, exclude uuid.UUID, limit, offset int) ([]*Participant, int, error)
}
