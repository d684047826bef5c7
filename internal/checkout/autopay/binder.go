// Package autopay keeps an order's reserved payment line equal to the value
// of its redeemed gift cards and locks that line against operator edits.
package autopay

import (
	"context"
	"sync"

	"github.com/georgemunganga/printa-checkout/internal/checkout/sale"
	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/logger"
	"github.com/georgemunganga/printa-checkout/internal/modules/payment"
	"github.com/georgemunganga/printa-checkout/internal/modules/program"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// MethodSource resolves the reserved payment method.
type MethodSource interface {
	ReservedMethod(ctx context.Context) (*payment.Method, error)
}

type binding struct {
	method *payment.Method
}

// Binder manages the reserved payment line of bound orders.
type Binder struct {
	methods MethodSource
	log     *logger.Logger

	mu       sync.Mutex
	bindings map[string]*binding
}

func NewBinder(methods MethodSource, log *logger.Logger) *Binder {
	return &Binder{methods: methods, log: log, bindings: make(map[string]*binding)}
}

// Bind installs the guard and change hook on o. A reserved method that
// cannot be resolved yet is not fatal: Ensure retries before a gift card
// is redeemed.
func (b *Binder) Bind(ctx context.Context, o *sale.Order) {
	bd := &binding{}
	b.mu.Lock()
	b.bindings[o.ID()] = bd
	b.mu.Unlock()

	if m, err := b.methods.ReservedMethod(ctx); err != nil {
		b.log.Warnw("reserved payment method unavailable", "order_id", o.ID(), "error", err)
	} else {
		b.setMethod(bd, m)
	}

	o.AddGuard(b.guard(bd))
	o.OnChange(func(o *sale.Order) { b.sync(o, bd) })
	b.sync(o, bd)
}

// Ensure makes sure the reserved method of o is known.
func (b *Binder) Ensure(ctx context.Context, o *sale.Order) error {
	bd, err := b.binding(o.ID())
	if err != nil {
		return err
	}
	if b.method(bd) != nil {
		return nil
	}
	m, err := b.methods.ReservedMethod(ctx)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Gift cards cannot be redeemed until a reserved payment method is configured").
			Mark(ierr.ErrInvalidOperation)
	}
	b.setMethod(bd, m)
	return nil
}

// Unbind forgets o.
func (b *Binder) Unbind(orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bindings, orderID)
}

// GiftCardTotal sums the value of the gift-card reward lines on o.
func GiftCardTotal(o *sale.Order) decimal.Decimal {
	return lo.Reduce(o.RewardLines(), func(sum decimal.Decimal, l *sale.Line, _ int) decimal.Decimal {
		if l.Reward.Kind != string(program.RewardGiftCard) {
			return sum
		}
		return sum.Add(l.Reward.Value)
	}, decimal.Zero)
}

func (b *Binder) sync(o *sale.Order, bd *binding) {
	total := GiftCardTotal(o)
	m := b.method(bd)
	if m == nil {
		if total.IsPositive() {
			b.log.Errorw("gift card redeemed without a reserved payment method", "order_id", o.ID(), "amount", total)
		}
		return
	}
	o.SetReservedPayment(m.ID.String(), string(m.Kind), total)
}

func (b *Binder) guard(bd *binding) sale.PaymentGuard {
	return func(op sale.Operation, line *sale.PaymentLine, methodID string) error {
		if line != nil && line.Reserved {
			return ierr.NewErrorf("payment line %s is reserved", line.ID).
				WithHintf("The gift card payment line is managed automatically and cannot be %s", verb(op)).
				Mark(ierr.ErrReservedPaymentLine)
		}
		m := b.method(bd)
		if op == sale.OpAdd && m != nil && (methodID == m.ID.String() || methodID == m.Code) {
			return ierr.NewErrorf("payment method %s is reserved", m.Code).
				WithHintf("%s is reserved for gift card redemptions and cannot be added by hand", m.Name).
				Mark(ierr.ErrReservedPaymentLine)
		}
		return nil
	}
}

func verb(op sale.Operation) string {
	switch op {
	case sale.OpSelect:
		return "selected"
	case sale.OpEdit:
		return "edited"
	case sale.OpDelete:
		return "deleted"
	default:
		return "changed"
	}
}

func (b *Binder) binding(orderID string) (*binding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bd, ok := b.bindings[orderID]
	if !ok {
		return nil, ierr.NewErrorf("order %s is not bound", orderID).Mark(ierr.ErrNotFound)
	}
	return bd, nil
}

func (b *Binder) method(bd *binding) *payment.Method {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bd.method
}

func (b *Binder) setMethod(bd *binding, m *payment.Method) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bd.method = m
}
