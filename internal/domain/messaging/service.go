package messaging

import (
	"context"

	"github.com/google/uuid"

	"github.com/refermed/refermed/internal/domain/referral"
)

// Referrals is the slice of the referral store the resolver needs.
type Referrals interface {
	GetByID(ctx context.Context, id uuid.UUID) (*referral.Referral, error)
}

// Service resolves rooms deterministically from referrals and lists a
// participant's conversations.
type Service struct {
	rooms     RoomRepository
	referrals Referrals
}

func NewService(rooms RoomRepository, referrals Referrals) *Service {
	return &Service{rooms: rooms, referrals: referrals}
}

// ResolveRoom returns the room for the referral, creating it on first access.
// Any number of concurrent first calls yield the same room. The actor must be
// one of the referral's two providers.
func (s *Service) ResolveRoom(ctx context.Context, actorID, referralID uuid.UUID) (*Room, error) {
	ref, err := s.referrals.GetByID(ctx, referralID)
	if err == referral.ErrNotFound {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	if !ref.IsParticipant(actorID) {
		return nil, ErrForbidden
	}

	lo, hi := SortPair(ref.ReferredBy, ref.ReferredTo)
	return s.rooms.EnsureRoom(ctx, &Room{
		ReferralID:    referralID,
		ParticipantLo: lo,
		ParticipantHi: hi,
	})
}

// GetRoom returns a room to one of its members.
func (s *Service) GetRoom(ctx context.Context, actorID, roomID uuid.UUID) (*Room, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsMember(actorID) {
		return nil, ErrForbidden
	}
	return room, nil
}

// ListRooms returns the participant's conversations, newest first.
func (s *Service) ListRooms(ctx context.Context, participantID uuid.UUID, limit, offset int) ([]*Room, int, error) {
	return s.rooms.ListForParticipant(ctx, participantID, limit, offset)
}
