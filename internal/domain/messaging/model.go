// Package messaging provides per-referral conversation rooms and the message
// router that assigns per-room sequence numbers and fans messages out to live
// connections.
package messaging

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Room is the conversation scoped to one referral between its two providers.
// The pair is stored sorted so the same two participants always map to the
// same row regardless of argument order.
type Room struct {
	ID            uuid.UUID `json:"id"`
	ReferralID    uuid.UUID `json:"referral_id"`
	ParticipantLo uuid.UUID `json:"participant_lo"`
	ParticipantHi uuid.UUID `json:"participant_hi"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsMember reports whether id is one of the room's participants.
func (r *Room) IsMember(id uuid.UUID) bool {
	return id == r.ParticipantLo || id == r.ParticipantHi
}

// Members returns both participants of the room.
func (r *Room) Members() [2]uuid.UUID {
	return [2]uuid.UUID{r.ParticipantLo, r.ParticipantHi}
}

// SortPair orders two participant ids canonically.
func SortPair(a, b uuid.UUID) (lo, hi uuid.UUID) {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return a, b
	}
	return b, a
}

// Message is one immutable entry in a room's conversation. Sequence is
// per-room, starts at 1, and is strictly increasing with no gaps.
type Message struct {
	ID        uuid.UUID       `json:"id"`
	RoomID    uuid.UUID       `json:"room_id"`
	SenderID  uuid.UUID       `json:"sender_id"`
	Sequence  int64           `json:"sequence"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrForbidden     = errors.New("not allowed to access this room")
	ErrNotRoomMember = errors.New("not a member of this room")
)
