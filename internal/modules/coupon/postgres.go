package coupon

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/lib/pq"
)

type postgresRepo struct{ db *sql.DB }

func NewPostgresRepository(db *sql.DB) Repository { return &postgresRepo{db: db} }

func (r *postgresRepo) Create(ctx context.Context, c *Coupon) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO coupons (code, program_id, is_used, created_at, updated_at)
		VALUES ($1,$2,false,$3,$4)`,
		c.Code, c.ProgramID, c.CreatedAt, c.UpdatedAt)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ierr.WithError(err).Mark(ierr.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

func (r *postgresRepo) Get(ctx context.Context, code string) (*Coupon, error) {
	return scanCoupon(r.db.QueryRowContext(ctx, `
		SELECT code, program_id, is_used, used_at, used_by_order, created_at, updated_at
		FROM coupons WHERE code=$1`, code))
}

func (r *postgresRepo) SetUsed(ctx context.Context, code string, used bool, orderID string, at time.Time) (*Coupon, error) {
	var usedAt interface{}
	if used {
		usedAt = at
	}
	return scanCoupon(r.db.QueryRowContext(ctx, `
		UPDATE coupons SET is_used=$1, used_at=$2, used_by_order=$3, updated_at=$4
		WHERE code=$5
		RETURNING code, program_id, is_used, used_at, used_by_order, created_at, updated_at`,
		used, usedAt, orderID, at, code))
}

func scanCoupon(row *sql.Row) (*Coupon, error) {
	c := &Coupon{}
	var usedAt pq.NullTime
	var usedBy sql.NullString
	err := row.Scan(&c.Code, &c.ProgramID, &c.IsUsed, &usedAt, &usedBy, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ierr.WithError(err).Mark(ierr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if usedAt.Valid {
		t := usedAt.Time
		c.UsedAt = &t
	}
	c.UsedByOrder = usedBy.String
	return c, nil
}
