// Package referral holds the referral records and their lifecycle: a referral
// is created Pending by a referring provider, may be flagged for follow-up by
// the receiving provider, and ends Completed. Records are never deleted.
package referral

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a referral. The only transition is
// Pending to Completed; Completed is terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Referral links a referring provider to a receiving provider for one
// patient. The patient appears as display attributes only.
type Referral struct {
	ID           uuid.UUID  `json:"id"`
	PatientName  string     `json:"patient_name"`
	PatientEmail string     `json:"patient_email,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	ReferredBy   uuid.UUID  `json:"referred_by"`
	ReferredTo   uuid.UUID  `json:"referred_to"`
	Status       Status     `json:"status"`
	ReferBack    bool       `json:"refer_back"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// IsParticipant reports whether id is either side of the referral.
func (r *Referral) IsParticipant(id uuid.UUID) bool {
	return id == r.ReferredBy || id == r.ReferredTo
}

// Counts summarizes a provider's received referrals for dashboards.
type Counts struct {
	Received  int `json:"received"`
	Completed int `json:"completed"`
}

var (
	ErrNotFound           = errors.New("referral not found")
	ErrForbidden          = errors.New("not allowed to act on this referral")
	ErrInvalidParticipant = errors.New("unknown or unverified participant")
	ErrSelfReferral       = errors.New("cannot refer to yourself")
	ErrAlreadyCompleted   = errors.New("referral already completed")
)

// EventKind names a successful lifecycle transition.
type EventKind string

const (
	EventCreated      EventKind = "referral-created"
	EventCompleted    EventKind = "referral-completed"
	EventReferredBack EventKind = "referral-referred-back"
)

// Event is emitted after a transition commits. Delivery is best-effort and
// never rolls the transition back.
type Event struct {
	Kind       EventKind `json:"kind"`
	Referral   Referral  `json:"referral"`
	OccurredAt time.Time `json:"occurred_at"`
}
