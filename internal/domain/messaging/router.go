package messaging

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/refermed/refermed/internal/platform/realtime"
)

// Router accepts messages into rooms. Each room has a mutex covering sequence
// assignment, persistence, and fan-out, so all live connections observe
// messages in sequence order. Delivery is best-effort: an offline or slow
// member never fails the send.
type Router struct {
	rooms    RoomRepository
	messages MessageRepository
	registry *realtime.Registry
	logger   zerolog.Logger

	mu     sync.Mutex
	states map[uuid.UUID]*roomState
}

// roomState is the in-memory sequence counter for one room, seeded lazily
// from the store's high-water mark.
type roomState struct {
	mu     sync.Mutex
	seq    int64
	seeded bool
}

func NewRouter(rooms RoomRepository, messages MessageRepository, registry *realtime.Registry, logger zerolog.Logger) *Router {
	return &Router{
		rooms:    rooms,
		messages: messages,
		registry: registry,
		logger:   logger,
		states:   make(map[uuid.UUID]*roomState),
	}
}

func (r *Router) state(roomID uuid.UUID) *roomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[roomID]
	if !ok {
		st = &roomState{}
		r.states[roomID] = st
	}
	return st
}

// seedLocked loads the room's max sequence on first touch. Callers hold
// st.mu.
func (r *Router) seedLocked(ctx context.Context, st *roomState, roomID uuid.UUID) error {
	if st.seeded {
		return nil
	}
	max, err := r.messages.MaxSequence(ctx, roomID)
	if err != nil {
		return err
	}
	st.seq = max
	st.seeded = true
	return nil
}

// Send accepts a message from senderID into the room: membership check,
// sequence assignment, persist, then fan-out to every member's connections,
// sender included. The whole path runs under the room's mutex so sequences
// are strictly increasing and delivery order matches sequence order on every
// connection.
func (r *Router) Send(ctx context.Context, senderID, roomID uuid.UUID, payload json.RawMessage) (*Message, error) {
	room, err := r.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsMember(senderID) {
		return nil, ErrNotRoomMember
	}

	st := r.state(roomID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := r.seedLocked(ctx, st, roomID); err != nil {
		return nil, err
	}

	msg := &Message{
		RoomID:   roomID,
		SenderID: senderID,
		Sequence: st.seq + 1,
		Payload:  payload,
	}
	if err := r.messages.Insert(ctx, msg); err != nil {
		// Counter untouched: the sequence stays gap-free.
		return nil, err
	}
	st.seq++

	r.fanOutLocked(room, msg)
	return msg, nil
}

// fanOutLocked delivers the message envelope to all live connections of both
// members. Callers hold the room mutex; enqueue never blocks.
func (r *Router) fanOutLocked(room *Room, msg *Message) {
	env := realtime.Envelope{
		Kind:     realtime.KindMessage,
		RoomID:   msg.RoomID.String(),
		SenderID: msg.SenderID.String(),
		Payload:  msg.Payload,
		Sequence: msg.Sequence,
		Ts:       msg.CreatedAt,
	}
	data := env.Encode()

	for _, member := range room.Members() {
		delivered := r.registry.Deliver(member.String(), data)
		r.logger.Debug().
			Str("room_id", msg.RoomID.String()).
			Str("participant_id", member.String()).
			Int64("sequence", msg.Sequence).
			Int("delivered", delivered).
			Msg("message fan-out")
	}
}

// History returns the room's messages in sequence order to a member.
func (r *Router) History(ctx context.Context, actorID, roomID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	room, err := r.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, 0, err
	}
	if !room.IsMember(actorID) {
		return nil, 0, ErrNotRoomMember
	}
	return r.messages.ListByRoom(ctx, roomID, limit, offset)
}

// LastSequence returns the room's current high-water mark to a member.
func (r *Router) LastSequence(ctx context.Context, actorID, roomID uuid.UUID) (int64, error) {
	room, err := r.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return 0, err
	}
	if !room.IsMember(actorID) {
		return 0, ErrNotRoomMember
	}

	st := r.state(roomID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := r.seedLocked(ctx, st, roomID); err != nil {
		return 0, err
	}
	return st.seq, nil
}

// JoinRoom implements realtime.RoomGateway. It verifies membership and hands
// back the room's latest sequence so the client can backfill.
func (r *Router) JoinRoom(ctx context.Context, participantID, roomID string) (int64, error) {
	pid, err := uuid.Parse(participantID)
	if err != nil {
		return 0, ErrNotRoomMember
	}
	rid, err := uuid.Parse(roomID)
	if err != nil {
		return 0, ErrRoomNotFound
	}
	return r.LastSequence(ctx, pid, rid)
}

// SendMessage implements realtime.RoomGateway.
func (r *Router) SendMessage(ctx context.Context, senderID, roomID string, payload json.RawMessage) error {
	sid, err := uuid.Parse(senderID)
	if err != nil {
		return ErrNotRoomMember
	}
	rid, err := uuid.Parse(roomID)
	if err != nil {
		return ErrRoomNotFound
	}
	_, err = r.Send(ctx, sid, rid, payload)
	return err
}

// touchedRooms is a test hook reporting how many rooms have live counters.
func (r *Router) touchedRooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

var _ realtime.RoomGateway = (*Router)(nil)
