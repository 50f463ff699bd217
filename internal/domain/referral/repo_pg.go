package referral

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

const referralCols = `id, patient_name, patient_email, notes, referred_by, referred_to,
	status, refer_back, created_at, updated_at, completed_at`

func (r *repoPG) scanReferral(row pgx.Row) (*Referral, error) {
	var ref Referral
	err := row.Scan(&ref.ID, &ref.PatientName, &ref.PatientEmail, &ref.Notes,
		&ref.ReferredBy, &ref.ReferredTo, &ref.Status, &ref.ReferBack,
		&ref.CreatedAt, &ref.UpdatedAt, &ref.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &ref, err
}

func (r *repoPG) Create(ctx context.Context, ref *Referral) error {
	ref.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO referral (id, patient_name, patient_email, notes, referred_by,
			referred_to, status, refer_back)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		ref.ID, ref.PatientName, ref.PatientEmail, ref.Notes, ref.ReferredBy,
		ref.ReferredTo, ref.Status, ref.ReferBack)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return r.scanReferral(r.conn(ctx).QueryRow(ctx,
		`SELECT `+referralCols+` FROM referral WHERE id = $1`, id))
}

func (r *repoPG) Complete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE referral SET status = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, StatusCompleted, StatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) SetReferBack(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE referral SET refer_back = TRUE, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, StatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) ListByReferrer(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*Referral, int, error) {
	return r.list(ctx, `referred_by`, providerID, limit, offset)
}

func (r *repoPG) ListByReferredTo(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*Referral, int, error) {
	return r.list(ctx, `referred_to`, providerID, limit, offset)
}

func (r *repoPG) list(ctx context.Context, column string, providerID uuid.UUID, limit, offset int) ([]*Referral, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM referral WHERE `+column+` = $1`, providerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+referralCols+` FROM referral WHERE `+column+` = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, providerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Referral
	for rows.Next() {
		ref, err := r.scanReferral(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, ref)
	}
	return items, total, nil
}

func (r *repoPG) CountsFor(ctx context.Context, providerID uuid.UUID) (Counts, error) {
	var c Counts
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = $2)
		FROM referral WHERE referred_to = $1`,
		providerID, StatusCompleted).Scan(&c.Received, &c.Completed)
	return c, err
}
