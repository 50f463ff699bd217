package identity

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const participantCols = `id, name, email, role, specialty, verified, created_at, updated_at`

func (r *repoPG) scanParticipant(row pgx.Row) (*Participant, error) {
	var p Participant
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Role, &p.Specialty, &p.Verified,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Participant) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO participant (id, name, email, role, specialty, verified)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, p.Name, p.Email, p.Role, p.Specialty, p.Verified)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Participant, error) {
	return r.scanParticipant(r.conn(ctx).QueryRow(ctx,
		`SELECT `+participantCols+` FROM participant WHERE id = $1`, id))
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*Participant, error) {
	return r.scanParticipant(r.conn(ctx).QueryRow(ctx,
		`SELECT `+participantCols+` FROM participant WHERE email = $1`, email))
}

func (r *repoPG) SetVerified(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE participant SET verified = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, roles []Role, exclude uuid.UUID, limit, offset int) ([]*Participant, int, error) {
	roleStrs := make([]string, len(roles))
	for i, role := range roles {
		roleStrs[i] = string(role)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM participant WHERE verified = TRUE AND role = ANY($1) AND id <> $2`,
		roleStrs, exclude).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+participantCols+` FROM participant
		 WHERE verified = TRUE AND role = ANY($1) AND id <> $2
		 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		roleStrs, exclude, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Participant
	for rows.Next() {
		p, err := r.scanParticipant(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, nil
}
