package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/modules/ledger"
	"github.com/georgemunganga/printa-checkout/internal/validator"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Service defines the order sync business logic.
type Service interface {
	// CreateOrder records a synced sale. It is idempotent on the client
	// reference: a replay returns the stored order with Replayed set.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)

	// GetOrder retrieves a full order by UUID.
	GetOrder(ctx context.Context, id string) (*Order, error)

	// GetOrderByReference retrieves a full order by client reference.
	GetOrderByReference(ctx context.Context, reference string) (*Order, error)

	// ListStoreOrders returns all orders for a store.
	ListStoreOrders(ctx context.Context, storeID string) ([]*Order, error)

	// UpdateFlags sets post-sync confirmation flags.
	UpdateFlags(ctx context.Context, id string, req UpdateFlagsRequest) (*Order, error)

	// UpdateStatus advances an order to a new lifecycle status.
	UpdateStatus(ctx context.Context, id string, req UpdateStatusRequest) (*Order, error)
}

// HoldCommitter binds ledger deductions to a synced sale.
type HoldCommitter interface {
	CommitHolds(ctx context.Context, refs []ledger.HoldRef) error
}

type service struct {
	repo   Repository
	ledger HoldCommitter
}

// NewService creates a new order service.
func NewService(repo Repository, ledger HoldCommitter) Service {
	return &service{repo: repo, ledger: ledger}
}

// validTransitions defines the allowed status state machine.
var validTransitions = map[OrderStatus][]OrderStatus{
	StatusConfirmed: {StatusCompleted, StatusVoided},
	StatusCompleted: {},
	StatusVoided:    {},
}

func (s *service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	if err := validator.ValidateRequest(req); err != nil {
		return nil, err
	}

	if existing, err := s.repo.GetOrderByReference(ctx, req.Reference); err == nil {
		existing.Replayed = true
		return existing, nil
	} else if !ierr.IsNotFound(err) {
		return nil, err
	}

	o := &Order{
		ID:          uuid.New(),
		Reference:   req.Reference,
		OrderNumber: generateOrderNumber(),
		StoreID:     req.StoreID,
		OperatorID:  req.OperatorID,
		Status:      StatusConfirmed,
		Currency:    strings.ToUpper(req.Currency),
		Coupons:     req.Coupons,
		Metadata:    req.Metadata,
	}

	// ── Build lines and totals ────────────────────────────────────────────────
	for _, in := range req.Items {
		item := &OrderItem{
			ID:          uuid.New(),
			OrderID:     o.ID,
			ProductID:   in.ProductID,
			Description: in.Description,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			LineTotal:   in.UnitPrice.Mul(in.Quantity).Round(2),
			RewardID:    in.RewardID,
			ResourceID:  in.ResourceID,
		}
		if item.LineTotal.IsNegative() {
			o.Discount = o.Discount.Add(item.LineTotal.Neg())
		} else {
			o.Subtotal = o.Subtotal.Add(item.LineTotal)
		}
		o.Items = append(o.Items, item)
	}
	o.Total = o.Subtotal.Sub(o.Discount)
	if o.Total.IsNegative() {
		return nil, ierr.NewErrorf("order total %s is negative", o.Total).
			WithHint("Discounts exceed the order total").
			Mark(ierr.ErrValidation)
	}

	for _, in := range req.Payments {
		o.Payments = append(o.Payments, &Payment{
			ID:         uuid.New(),
			OrderID:    o.ID,
			MethodID:   in.MethodID,
			Amount:     in.Amount,
			IsReserved: in.IsReserved,
		})
	}
	o.Paid = lo.Reduce(o.Payments, func(sum decimal.Decimal, p *Payment, _ int) decimal.Decimal {
		return sum.Add(p.Amount)
	}, decimal.Zero)
	if o.Paid.LessThan(o.Total) {
		return nil, ierr.NewErrorf("payments %s do not cover total %s", o.Paid, o.Total).
			WithHintf("Payment is short by %s", o.Total.Sub(o.Paid)).
			Mark(ierr.ErrValidation)
	}
	o.Change = o.Paid.Sub(o.Total)

	// ── Commit ledger holds, then persist ─────────────────────────────────────
	refs := make([]ledger.HoldRef, 0, len(req.Redemptions))
	for _, in := range req.Redemptions {
		o.Redemptions = append(o.Redemptions, &Redemption{
			ResourceID:     in.ResourceID,
			RewardID:       in.RewardID,
			IdempotencyKey: in.IdempotencyKey,
			Amount:         in.Amount,
		})
		refs = append(refs, ledger.HoldRef{ResourceID: in.ResourceID, IdempotencyKey: in.IdempotencyKey})
	}
	if err := s.ledger.CommitHolds(ctx, refs); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	if err := s.repo.CreateOrder(ctx, o); err != nil {
		if ierr.IsAlreadyExists(err) {
			// lost a race with a concurrent replay of the same reference
			existing, getErr := s.repo.GetOrderByReference(ctx, req.Reference)
			if getErr != nil {
				return nil, getErr
			}
			existing.Replayed = true
			return existing, nil
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to persist order").
			Mark(ierr.ErrDatabase)
	}
	return o, nil
}

func (s *service) GetOrder(ctx context.Context, id string) (*Order, error) {
	return s.repo.GetOrderByID(ctx, id)
}

func (s *service) GetOrderByReference(ctx context.Context, reference string) (*Order, error) {
	return s.repo.GetOrderByReference(ctx, reference)
}

func (s *service) ListStoreOrders(ctx context.Context, storeID string) ([]*Order, error) {
	return s.repo.ListOrdersByStore(ctx, storeID)
}

func (s *service) UpdateFlags(ctx context.Context, id string, req UpdateFlagsRequest) (*Order, error) {
	o, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.IsPrinted != nil {
		if err := s.repo.SetPrinted(ctx, id, *req.IsPrinted); err != nil {
			return nil, err
		}
		o.IsPrinted = *req.IsPrinted
	}
	return o, nil
}

func (s *service) UpdateStatus(ctx context.Context, id string, req UpdateStatusRequest) (*Order, error) {
	o, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}

	newStatus := OrderStatus(strings.ToUpper(req.Status))
	if !lo.Contains(validTransitions[o.Status], newStatus) {
		return nil, ierr.NewErrorf("cannot transition order from %s to %s", o.Status, newStatus).
			WithHintf("Order is %s and cannot become %s", o.Status, newStatus).
			Mark(ierr.ErrInvalidOperation)
	}

	if err := s.repo.UpdateStatus(ctx, id, newStatus); err != nil {
		return nil, err
	}
	o.Status = newStatus
	return o, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

// generateOrderNumber creates a human-readable order number: SO-YYYYMMDD-XXXX
func generateOrderNumber() string {
	date := time.Now().UTC().Format("20060102")
	suffix := strings.ToUpper(uuid.New().String()[:4])
	return fmt.Sprintf("SO-%s-%s", date, suffix)
}
