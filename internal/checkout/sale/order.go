package sale

import (
	"crypto/rand"
	"strings"
	"sync/atomic"
	"time"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Order is the in-progress sale held by the terminal. It is not safe for
// concurrent use; callers serialize access per order.
type Order struct {
	id         string
	reference  string
	storeID    string
	operatorID string
	currency   string
	status     Status
	createdAt  time.Time

	lines    []*Line
	payments []*PaymentLine
	coupons  []string

	backendID   string
	orderNumber string
	isPrinted   atomic.Bool
	syncedAt    *time.Time

	guards   []PaymentGuard
	onChange []func(*Order)
}

// New opens an empty order. The reference is a ULID generated here and
// reused by every sync attempt of the order.
func New(storeID, operatorID, currency string) *Order {
	now := time.Now().UTC()
	return &Order{
		id:         uuid.NewString(),
		reference:  ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		storeID:    storeID,
		operatorID: operatorID,
		currency:   strings.ToUpper(currency),
		status:     StatusOpen,
		createdAt:  now,
	}
}

func (o *Order) ID() string          { return o.id }
func (o *Order) Reference() string   { return o.reference }
func (o *Order) StoreID() string     { return o.storeID }
func (o *Order) OperatorID() string  { return o.operatorID }
func (o *Order) Currency() string    { return o.currency }
func (o *Order) Status() Status      { return o.status }
func (o *Order) BackendID() string   { return o.backendID }
func (o *Order) OrderNumber() string { return o.orderNumber }
func (o *Order) IsPrinted() bool     { return o.isPrinted.Load() }

// IsOpen reports whether the order still accepts changes.
func (o *Order) IsOpen() bool { return o.status == StatusOpen }

// OnChange registers a hook run after every line mutation.
func (o *Order) OnChange(fn func(*Order)) {
	o.onChange = append(o.onChange, fn)
}

// AddGuard registers a payment guard.
func (o *Order) AddGuard(g PaymentGuard) {
	o.guards = append(o.guards, g)
}

func (o *Order) changed() {
	for _, fn := range o.onChange {
		fn(o)
	}
}

func (o *Order) ensureOpen() error {
	if o.status != StatusOpen {
		return ierr.NewErrorf("order %s is %s", o.id, o.status).
			WithHintf("Order is already %s", o.status).
			Mark(ierr.ErrOrderClosed)
	}
	return nil
}

// ── Lines ────────────────────────────────────────────────────────────────────

// AddItem appends a product line.
func (o *Order) AddItem(productID, description string, qty, unitPrice decimal.Decimal) (*Line, error) {
	if err := o.ensureOpen(); err != nil {
		return nil, err
	}
	if productID == "" || !qty.IsPositive() || unitPrice.IsNegative() {
		return nil, ierr.NewError("invalid item").
			WithHint("An item needs a product, a positive quantity and a non-negative price").
			Mark(ierr.ErrValidation)
	}
	l := &Line{
		ID:          uuid.NewString(),
		ProductID:   productID,
		Description: description,
		Quantity:    qty,
		UnitPrice:   unitPrice,
	}
	o.lines = append(o.lines, l)
	o.changed()
	return l, nil
}

// AddRewardLine appends a reward-derived line. Only redemption code calls it.
func (o *Order) AddRewardLine(l *Line) error {
	if err := o.ensureOpen(); err != nil {
		return err
	}
	if l.Reward == nil {
		return ierr.NewError("reward line without reward link").Mark(ierr.ErrInvalidOperation)
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	o.lines = append(o.lines, l)
	o.changed()
	return nil
}

// RemoveLine deletes a line by id.
func (o *Order) RemoveLine(id string) error {
	if err := o.ensureOpen(); err != nil {
		return err
	}
	_, idx, ok := lo.FindIndexOf(o.lines, func(l *Line) bool { return l.ID == id })
	if !ok {
		return ierr.NewErrorf("line %s not found", id).Mark(ierr.ErrNotFound)
	}
	o.lines = append(o.lines[:idx], o.lines[idx+1:]...)
	o.changed()
	return nil
}

// Lines returns the order lines in insertion order.
func (o *Order) Lines() []*Line {
	return append([]*Line(nil), o.lines...)
}

// Line returns the line with the given id.
func (o *Order) Line(id string) (*Line, bool) {
	return lo.Find(o.lines, func(l *Line) bool { return l.ID == id })
}

// RewardLines returns the reward-derived lines.
func (o *Order) RewardLines() []*Line {
	return lo.Filter(o.lines, func(l *Line, _ int) bool { return l.IsReward() })
}

// FindRewardLine returns the line applied for (reward, resource), if any.
func (o *Order) FindRewardLine(rewardID, resourceID string) (*Line, bool) {
	return lo.Find(o.lines, func(l *Line) bool {
		return l.IsReward() && l.Reward.RewardID == rewardID && l.Reward.ResourceID == resourceID
	})
}

// ── Totals ───────────────────────────────────────────────────────────────────

// Subtotal sums the non-negative lines.
func (o *Order) Subtotal() decimal.Decimal {
	return lo.Reduce(o.lines, func(sum decimal.Decimal, l *Line, _ int) decimal.Decimal {
		if t := l.Total(); !t.IsNegative() {
			return sum.Add(t)
		}
		return sum
	}, decimal.Zero)
}

// Discount is the absolute sum of the negative lines.
func (o *Order) Discount() decimal.Decimal {
	return lo.Reduce(o.lines, func(sum decimal.Decimal, l *Line, _ int) decimal.Decimal {
		if t := l.Total(); t.IsNegative() {
			return sum.Add(t.Neg())
		}
		return sum
	}, decimal.Zero)
}

// Total is subtotal minus discount.
func (o *Order) Total() decimal.Decimal {
	return o.Subtotal().Sub(o.Discount())
}

// Paid sums every payment line.
func (o *Order) Paid() decimal.Decimal {
	return lo.Reduce(o.payments, func(sum decimal.Decimal, p *PaymentLine, _ int) decimal.Decimal {
		return sum.Add(p.Amount)
	}, decimal.Zero)
}

// Change is the amount to hand back, never negative.
func (o *Order) Change() decimal.Decimal {
	if c := o.Paid().Sub(o.Total()); c.IsPositive() {
		return c
	}
	return decimal.Zero
}

// Due is the amount still to be paid, never negative.
func (o *Order) Due() decimal.Decimal {
	if d := o.Total().Sub(o.Paid()); d.IsPositive() {
		return d
	}
	return decimal.Zero
}

// ── Coupons ──────────────────────────────────────────────────────────────────

// AddCoupon attaches a coupon code. Attaching the same code twice is a no-op.
func (o *Order) AddCoupon(code string) error {
	if err := o.ensureOpen(); err != nil {
		return err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ierr.NewError("empty coupon code").WithHint("Enter a coupon code").Mark(ierr.ErrValidation)
	}
	if !lo.Contains(o.coupons, code) {
		o.coupons = append(o.coupons, code)
	}
	return nil
}

// Coupons returns the attached coupon codes.
func (o *Order) Coupons() []string {
	return append([]string(nil), o.coupons...)
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

// MarkSynced records the backend's copy. After this the order is read-only.
func (o *Order) MarkSynced(backendID, orderNumber string, at time.Time) {
	o.status = StatusSynced
	o.backendID = backendID
	o.orderNumber = orderNumber
	o.syncedAt = &at
}

// MarkPrinted records that the backend accepted the printed flag. It may be
// called from a background task while the order is otherwise in use.
func (o *Order) MarkPrinted() { o.isPrinted.Store(true) }

// Cancel discards the order.
func (o *Order) Cancel() error {
	if err := o.ensureOpen(); err != nil {
		return err
	}
	o.status = StatusCancelled
	return nil
}

// View returns a JSON-friendly copy of the order.
func (o *Order) View() View {
	return View{
		ID:          o.id,
		Reference:   o.reference,
		StoreID:     o.storeID,
		OperatorID:  o.operatorID,
		Currency:    o.currency,
		Status:      o.status,
		Lines:       o.Lines(),
		Payments:    o.Payments(),
		Coupons:     o.Coupons(),
		Subtotal:    o.Subtotal(),
		Discount:    o.Discount(),
		Total:       o.Total(),
		Paid:        o.Paid(),
		Change:      o.Change(),
		BackendID:   o.backendID,
		OrderNumber: o.orderNumber,
		IsPrinted:   o.isPrinted.Load(),
		CreatedAt:   o.createdAt,
		SyncedAt:    o.syncedAt,
	}
}
