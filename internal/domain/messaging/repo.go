package messaging

import (
	"context"

	"github.com/google/uuid"
)

// RoomRepository persists rooms keyed by (referral, sorted pair).
// Implementations map missing rows to ErrRoomNotFound.
type RoomRepository interface {
	// EnsureRoom returns the room for r's (referral, pair) triple, creating it
	// when absent. Concurrent first callers converge on a single row.
	EnsureRoom(ctx context.Context, r *Room) (*Room, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*Room, error)
	ListForParticipant(ctx context.Context, participantID uuid.UUID, limit, offset int) ([]*Room, int, error)
}

// MessageRepository persists room messages. Messages are immutable once
// inserted.
type MessageRepository interface {
	Insert(ctx context.Context, m *Message) error
	// ListByRoom returns messages in ascending sequence order.
	ListByRoom(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]*Message, int, error)
	// MaxSequence returns the highest sequence in the room, zero when empty.
	MaxSequence(ctx context.Context, roomID uuid.UUID) (int64, error)
}
