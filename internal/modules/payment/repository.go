package payment

import (
	"context"
	"database/sql"
	"fmt"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/lib/pq"
)

// Repository defines data access for payment methods.
type Repository interface {
	Create(ctx context.Context, m *Method) error
	ListActive(ctx context.Context) ([]*Method, error)
	ListReserved(ctx context.Context) ([]*Method, error)
}

type postgresRepo struct{ db *sql.DB }

func NewPostgresRepository(db *sql.DB) Repository { return &postgresRepo{db: db} }

const methodColumns = `id, code, name, kind, is_reserved, is_active, created_at, updated_at`

func (r *postgresRepo) Create(ctx context.Context, m *Method) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_methods (`+methodColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		m.ID, m.Code, m.Name, m.Kind, m.IsReserved, m.IsActive, m.CreatedAt, m.UpdatedAt)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ierr.WithError(err).WithHintf("Payment method %s already exists", m.Code).Mark(ierr.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert payment_method: %w", err)
	}
	return nil
}

func (r *postgresRepo) ListActive(ctx context.Context) ([]*Method, error) {
	return r.query(ctx, `SELECT `+methodColumns+` FROM payment_methods WHERE is_active ORDER BY code`)
}

func (r *postgresRepo) ListReserved(ctx context.Context) ([]*Method, error) {
	return r.query(ctx, `SELECT `+methodColumns+` FROM payment_methods WHERE is_active AND is_reserved ORDER BY code`)
}

// ── helpers ──────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *postgresRepo) scan(row rowScanner) (*Method, error) {
	m := &Method{}
	err := row.Scan(&m.ID, &m.Code, &m.Name, &m.Kind, &m.IsReserved, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *postgresRepo) query(ctx context.Context, query string, args ...interface{}) ([]*Method, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Method
	for rows.Next() {
		m, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
