package order

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type postgresRepo struct{ db *sql.DB }

func NewPostgresRepository(db *sql.DB) Repository { return &postgresRepo{db: db} }

const orderColumns = `id,reference,order_number,store_id,operator_id,status,subtotal,discount,total,
	paid,change_due,currency,is_printed,coupons,metadata,created_at,updated_at`

// CreateOrder inserts the order, its items, payments and redemptions inside a single transaction.
func (r *postgresRepo) CreateOrder(ctx context.Context, o *Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders
		  (id, reference, order_number, store_id, operator_id, status, subtotal, discount, total,
		   paid, change_due, currency, is_printed, coupons, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		o.ID, o.Reference, o.OrderNumber, o.StoreID, o.OperatorID, o.Status,
		o.Subtotal, o.Discount, o.Total, o.Paid, o.Change, o.Currency, o.IsPrinted,
		pq.Array(o.Coupons), nullableJSON(o.Metadata), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ierr.WithError(err).Mark(ierr.ErrAlreadyExists)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range o.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items
			  (id, order_id, product_id, description, quantity, unit_price, line_total, reward_id, resource_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			item.ID, o.ID, item.ProductID, item.Description, item.Quantity,
			item.UnitPrice, item.LineTotal, item.RewardID, item.ResourceID)
		if err != nil {
			return fmt.Errorf("insert order_item: %w", err)
		}
	}

	for _, p := range o.Payments {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_payments (id, order_id, method_id, amount, is_reserved)
			VALUES ($1,$2,$3,$4,$5)`,
			p.ID, o.ID, p.MethodID, p.Amount, p.IsReserved)
		if err != nil {
			return fmt.Errorf("insert order_payment: %w", err)
		}
	}

	for _, rd := range o.Redemptions {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_redemptions (order_id, resource_id, reward_id, idempotency_key, amount)
			VALUES ($1,$2,$3,$4,$5)`,
			o.ID, rd.ResourceID, rd.RewardID, rd.IdempotencyKey, rd.Amount)
		if err != nil {
			return fmt.Errorf("insert order_redemption: %w", err)
		}
	}

	return tx.Commit()
}

func (r *postgresRepo) GetOrderByID(ctx context.Context, id string) (*Order, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("Invalid order id").Mark(ierr.ErrValidation)
	}
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, uid)
}

func (r *postgresRepo) GetOrderByReference(ctx context.Context, reference string) (*Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE reference=$1`, reference)
}

func (r *postgresRepo) ListOrdersByStore(ctx context.Context, storeID string) ([]*Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE store_id=$1 ORDER BY created_at DESC`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (r *postgresRepo) UpdateStatus(ctx context.Context, id string, status OrderStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status=$1, updated_at=$2 WHERE id=$3`,
		status, time.Now().UTC(), id)
	return err
}

func (r *postgresRepo) SetPrinted(ctx context.Context, id string, printed bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE orders SET is_printed=$1, updated_at=$2 WHERE id=$3`,
		printed, time.Now().UTC(), id)
	return err
}

// ── helpers ──────────────────────────────────────────────────────────────────

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row scanner) (*Order, error) {
	o := &Order{}
	var metadata []byte
	err := row.Scan(
		&o.ID, &o.Reference, &o.OrderNumber, &o.StoreID, &o.OperatorID, &o.Status,
		&o.Subtotal, &o.Discount, &o.Total, &o.Paid, &o.Change, &o.Currency, &o.IsPrinted,
		pq.Array(&o.Coupons), &metadata, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Metadata = metadata
	return o, nil
}

func (r *postgresRepo) getOne(ctx context.Context, query string, arg interface{}) (*Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, ierr.NewErrorf("order %v not found", arg).Mark(ierr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if o.Items, err = r.listItems(ctx, o.ID); err != nil {
		return nil, err
	}
	if o.Payments, err = r.listPayments(ctx, o.ID); err != nil {
		return nil, err
	}
	if o.Redemptions, err = r.listRedemptions(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepo) listItems(ctx context.Context, orderID uuid.UUID) ([]*OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, description, quantity, unit_price, line_total, reward_id, resource_id
		FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*OrderItem
	for rows.Next() {
		item := &OrderItem{}
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Description,
			&item.Quantity, &item.UnitPrice, &item.LineTotal, &item.RewardID, &item.ResourceID); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *postgresRepo) listPayments(ctx context.Context, orderID uuid.UUID) ([]*Payment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, method_id, amount, is_reserved
		FROM order_payments WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []*Payment
	for rows.Next() {
		p := &Payment{}
		if err := rows.Scan(&p.ID, &p.OrderID, &p.MethodID, &p.Amount, &p.IsReserved); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *postgresRepo) listRedemptions(ctx context.Context, orderID uuid.UUID) ([]*Redemption, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT resource_id, reward_id, idempotency_key, amount
		FROM order_redemptions WHERE order_id=$1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Redemption
	for rows.Next() {
		rd := &Redemption{}
		if err := rows.Scan(&rd.ResourceID, &rd.RewardID, &rd.IdempotencyKey, &rd.Amount); err != nil {
			return nil, err
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
