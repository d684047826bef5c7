package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type postgresRepo struct{ db *sql.DB }

func NewPostgresRepository(db *sql.DB) Repository { return &postgresRepo{db: db} }

func (r *postgresRepo) CreateResource(ctx context.Context, res *Resource) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_resources
		  (id, program_id, program_type, balance, single_use, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		res.ID, res.ProgramID, res.ProgramType, res.Balance, res.SingleUse, res.IsActive,
		res.CreatedAt, res.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ierr.WithError(err).
				WithHintf("Resource %s already exists", res.ID).
				Mark(ierr.ErrAlreadyExists)
		}
		return fmt.Errorf("insert ledger_resource: %w", err)
	}

	if err := insertEntry(ctx, tx, newEntry(res.ID, EntryIssue, res.Balance, "", decimal.Zero, res.Balance, res.CreatedAt)); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *postgresRepo) GetResource(ctx context.Context, id string) (*Resource, error) {
	res, err := scanResource(r.db.QueryRowContext(ctx, `
		SELECT id,program_id,program_type,balance,single_use,is_active,created_at,updated_at
		FROM ledger_resources WHERE id=$1`, id))
	if err == sql.ErrNoRows {
		return nil, ierr.NewErrorf("resource %s not found", id).
			WithHint("Card or account was not found").
			Mark(ierr.ErrResourceNotFound)
	}
	return res, err
}

func (r *postgresRepo) Deduct(ctx context.Context, resourceID string, amount decimal.Decimal, key string) (*Hold, bool, error) {
	return r.mutate(ctx, resourceID, key, func(res *Resource, existing *Hold, now time.Time) (*Hold, *Entry, error) {
		return planDeduct(res, existing, amount, key, now)
	})
}

func (r *postgresRepo) Rollback(ctx context.Context, resourceID string, amount decimal.Decimal, key string) (*Hold, bool, error) {
	return r.mutate(ctx, resourceID, key, func(res *Resource, existing *Hold, now time.Time) (*Hold, *Entry, error) {
		return planRollback(res, existing, amount, key, now)
	})
}

// CommitHolds commits every hold of a sale in one transaction.
func (r *postgresRepo) GetHold(ctx context.Context, resourceID, key string) (*Hold, error) {
	h := &Hold{}
	err := r.db.QueryRowContext(ctx, `
		SELECT resource_id,idempotency_key,amount,status,balance_before,balance_after,created_at,updated_at
		FROM ledger_holds WHERE resource_id=$1 AND idempotency_key=$2`,
		resourceID, key).Scan(&h.ResourceID, &h.IdempotencyKey, &h.Amount, &h.Status,
		&h.BalanceBefore, &h.BalanceAfter, &h.CreatedAt, &h.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, holdNotFound(resourceID, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger_hold: %w", err)
	}
	return h, nil
}

func (r *postgresRepo) CommitHolds(ctx context.Context, refs []HoldRef) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, ref := range refs {
		res, existing, err := lockForUpdate(ctx, tx, ref.ResourceID, ref.IdempotencyKey)
		if err != nil {
			return err
		}
		hold, entry, err := planCommit(res, existing, ref, now)
		if err != nil {
			return err
		}
		if entry == nil {
			continue
		}
		if err := upsertHold(ctx, tx, hold); err != nil {
			return err
		}
		if err := insertEntry(ctx, tx, entry); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *postgresRepo) ListEntries(ctx context.Context, resourceID string) ([]*Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id,resource_id,kind,amount,idempotency_key,balance_before,balance_after,created_at
		FROM ledger_entries WHERE resource_id=$1 ORDER BY created_at, id`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.ResourceID, &e.Kind, &e.Amount, &e.IdempotencyKey,
			&e.BalanceBefore, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ── helpers ──────────────────────────────────────────────────────────────────

type planFunc func(res *Resource, existing *Hold, now time.Time) (*Hold, *Entry, error)

// mutate locks the resource row and the hold row, applies plan and persists
// the outcome inside one transaction.
func (r *postgresRepo) mutate(ctx context.Context, resourceID, key string, plan planFunc) (*Hold, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	res, existing, err := lockForUpdate(ctx, tx, resourceID, key)
	if err != nil {
		return nil, false, err
	}

	hold, entry, err := plan(res, existing, time.Now().UTC())
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		return hold, true, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE ledger_resources SET balance=$1, updated_at=$2 WHERE id=$3`,
		res.Balance, res.UpdatedAt, res.ID); err != nil {
		return nil, false, fmt.Errorf("update ledger_resource: %w", err)
	}
	if err := upsertHold(ctx, tx, hold); err != nil {
		return nil, false, err
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return hold, false, nil
}

func lockForUpdate(ctx context.Context, tx *sql.Tx, resourceID, key string) (*Resource, *Hold, error) {
	res, err := scanResource(tx.QueryRowContext(ctx, `
		SELECT id,program_id,program_type,balance,single_use,is_active,created_at,updated_at
		FROM ledger_resources WHERE id=$1 FOR UPDATE`, resourceID))
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lock ledger_resource: %w", err)
	}

	h := &Hold{}
	err = tx.QueryRowContext(ctx, `
		SELECT resource_id,idempotency_key,amount,status,balance_before,balance_after,created_at,updated_at
		FROM ledger_holds WHERE resource_id=$1 AND idempotency_key=$2 FOR UPDATE`,
		resourceID, key).Scan(&h.ResourceID, &h.IdempotencyKey, &h.Amount, &h.Status,
		&h.BalanceBefore, &h.BalanceAfter, &h.CreatedAt, &h.UpdatedAt)
	if err == sql.ErrNoRows {
		return res, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lock ledger_hold: %w", err)
	}
	return res, h, nil
}

func upsertHold(ctx context.Context, tx *sql.Tx, h *Hold) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_holds
		  (resource_id, idempotency_key, amount, status, balance_before, balance_after, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (resource_id, idempotency_key) DO UPDATE SET
		  amount=EXCLUDED.amount, status=EXCLUDED.status,
		  balance_before=EXCLUDED.balance_before, balance_after=EXCLUDED.balance_after,
		  updated_at=EXCLUDED.updated_at`,
		h.ResourceID, h.IdempotencyKey, h.Amount, h.Status, h.BalanceBefore, h.BalanceAfter,
		h.CreatedAt, h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert ledger_hold: %w", err)
	}
	return nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e *Entry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries
		  (id, resource_id, kind, amount, idempotency_key, balance_before, balance_after, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.ResourceID, e.Kind, e.Amount, e.IdempotencyKey, e.BalanceBefore, e.BalanceAfter, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ledger_entry: %w", err)
	}
	return nil
}

func scanResource(row *sql.Row) (*Resource, error) {
	res := &Resource{}
	err := row.Scan(&res.ID, &res.ProgramID, &res.ProgramType, &res.Balance, &res.SingleUse,
		&res.IsActive, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return res, nil
}
