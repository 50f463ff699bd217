// Package identity is the provider directory: registration, verification,
// login, and tier-filtered provider listings.
package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Role is the care tier of a participant.
type Role string

const (
	RolePrimaryCare Role = "primary_care"
	RoleSpecialist  Role = "specialist"
	RoleOther       Role = "other"
)

// ValidRole reports whether r is a known care tier.
func ValidRole(r Role) bool {
	switch r {
	case RolePrimaryCare, RoleSpecialist, RoleOther:
		return true
	}
	return false
}

// Participant is a provider in the directory. Patients are not participants;
// they appear only as display attributes on referrals.
type Participant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Specialty string    `json:"specialty,omitempty"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	ErrNotFound    = errors.New("participant not found")
	ErrEmailTaken  = errors.New("email already registered")
	ErrInvalidRole = errors.New("invalid role")
	ErrNotVerified = errors.New("participant not verified")
)
