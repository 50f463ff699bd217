package messaging

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/refermed/refermed/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Room Repository ===========

type roomRepoPG struct{ pool *pgxpool.Pool }

func NewRoomRepoPG(pool *pgxpool.Pool) RoomRepository {
	return &roomRepoPG{pool: pool}
}

func (r *roomRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const roomCols = `id, referral_id, participant_lo, participant_hi, created_at`

func (r *roomRepoPG) scanRoom(row pgx.Row) (*Room, error) {
	var rm Room
	err := row.Scan(&rm.ID, &rm.ReferralID, &rm.ParticipantLo, &rm.ParticipantHi, &rm.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	return &rm, err
}

// EnsureRoom inserts the triple with ON CONFLICT DO NOTHING, then reads the
// surviving row back inside one transaction. The unique constraint makes
// concurrent first access converge on a single room.
func (r *roomRepoPG) EnsureRoom(ctx context.Context, rm *Room) (*Room, error) {
	var out *Room
	err := db.InTx(ctx, r.pool, func(ctx context.Context) error {
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO room (id, referral_id, participant_lo, participant_hi)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (referral_id, participant_lo, participant_hi) DO NOTHING`,
			uuid.New(), rm.ReferralID, rm.ParticipantLo, rm.ParticipantHi); err != nil {
			return err
		}
		var err error
		out, err = r.scanRoom(r.conn(ctx).QueryRow(ctx, `
			SELECT `+roomCols+` FROM room
			WHERE referral_id = $1 AND participant_lo = $2 AND participant_hi = $3`,
			rm.ReferralID, rm.ParticipantLo, rm.ParticipantHi))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *roomRepoPG) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	return r.scanRoom(r.conn(ctx).QueryRow(ctx,
		`SELECT `+roomCols+` FROM room WHERE id = $1`, id))
}

func (r *roomRepoPG) ListForParticipant(ctx context.Context, participantID uuid.UUID, limit, offset int) ([]*Room, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM room WHERE participant_lo = $1 OR participant_hi = $1`,
		participantID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+roomCols+` FROM room
		 WHERE participant_lo = $1 OR participant_hi = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		participantID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Room
	for rows.Next() {
		rm, err := r.scanRoom(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rm)
	}
	return items, total, nil
}

// =========== Message Repository ===========

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

func (r *messageRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const messageCols = `id, room_id, sender_id, sequence, payload, created_at`

func (r *messageRepoPG) scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Sequence, &m.Payload, &m.CreatedAt)
	return &m, err
}

func (r *messageRepoPG) Insert(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO message (id, room_id, sender_id, sequence, payload)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		m.ID, m.RoomID, m.SenderID, m.Sequence, m.Payload).Scan(&m.CreatedAt)
}

func (r *messageRepoPG) ListByRoom(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM message WHERE room_id = $1`, roomID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+messageCols+` FROM message WHERE room_id = $1
		 ORDER BY sequence ASC LIMIT $2 OFFSET $3`, roomID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Message
	for rows.Next() {
		m, err := r.scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, nil
}

func (r *messageRepoPG) MaxSequence(ctx context.Context, roomID uuid.UUID) (int64, error) {
	var max int64
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM message WHERE room_id = $1`, roomID).Scan(&max)
	return max, err
}
