package program

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/google/uuid"
)

type postgresRepo struct{ db *sql.DB }

func NewPostgresRepository(db *sql.DB) Repository { return &postgresRepo{db: db} }

func (r *postgresRepo) Create(ctx context.Context, p *Program) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO loyalty_programs (id, name, type, conversion_rate, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.Name, p.Type, p.ConversionRate, p.IsActive, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert program: %w", err)
	}
	for _, rw := range p.Rewards {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO loyalty_rewards (id, program_id, kind, discount_product_id, description, fixed_amount)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			rw.ID, p.ID, rw.Kind, rw.DiscountProductID, rw.Description, rw.FixedAmount)
		if err != nil {
			return fmt.Errorf("insert reward: %w", err)
		}
	}
	return tx.Commit()
}

func scanProgram(scan func(...interface{}) error) (*Program, error) {
	p := &Program{}
	err := scan(&p.ID, &p.Name, &p.Type, &p.ConversionRate, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *postgresRepo) GetByID(ctx context.Context, id string) (*Program, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ierr.WithError(err).WithHintf("Invalid program id %q", id).Mark(ierr.ErrValidation)
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, type, conversion_rate, is_active, created_at, updated_at
		FROM loyalty_programs WHERE id=$1`, uid)
	p, err := scanProgram(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ierr.NewErrorf("program %s not found", id).Mark(ierr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if p.Rewards, err = r.rewards(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *postgresRepo) List(ctx context.Context, activeOnly bool) ([]*Program, error) {
	query := `SELECT id, name, type, conversion_rate, is_active, created_at, updated_at FROM loyalty_programs`
	if activeOnly {
		query += ` WHERE is_active`
	}
	rows, err := r.db.QueryContext(ctx, query+` ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var programs []*Program
	for rows.Next() {
		p, err := scanProgram(rows.Scan)
		if err != nil {
			return nil, err
		}
		programs = append(programs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, p := range programs {
		if p.Rewards, err = r.rewards(ctx, p.ID); err != nil {
			return nil, err
		}
	}
	return programs, nil
}

func (r *postgresRepo) rewards(ctx context.Context, programID uuid.UUID) ([]*Reward, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, program_id, kind, discount_product_id, description, fixed_amount
		FROM loyalty_rewards WHERE program_id=$1 ORDER BY description`, programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Reward
	for rows.Next() {
		rw := &Reward{}
		if err := rows.Scan(&rw.ID, &rw.ProgramID, &rw.Kind, &rw.DiscountProductID, &rw.Description, &rw.FixedAmount); err != nil {
			return nil, err
		}
		out = append(out, rw)
	}
	return out, rows.Err()
}
