package sale

import (
	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Payments returns the payment lines in insertion order.
func (o *Order) Payments() []*PaymentLine {
	return append([]*PaymentLine(nil), o.payments...)
}

// Payment returns the payment line with the given id.
func (o *Order) Payment(id string) (*PaymentLine, bool) {
	return lo.Find(o.payments, func(p *PaymentLine) bool { return p.ID == id })
}

// ReservedPayment returns the system-managed payment line, if any.
func (o *Order) ReservedPayment() (*PaymentLine, bool) {
	return lo.Find(o.payments, func(p *PaymentLine) bool { return p.Reserved })
}

func (o *Order) guard(op Operation, line *PaymentLine, methodID string) error {
	for _, g := range o.guards {
		if err := g(op, line, methodID); err != nil {
			return err
		}
	}
	return nil
}

func (o *Order) lookupPayment(id string) (*PaymentLine, error) {
	p, ok := o.Payment(id)
	if !ok {
		return nil, ierr.NewErrorf("payment line %s not found", id).Mark(ierr.ErrNotFound)
	}
	return p, nil
}

// AddPayment adds an operator tender line.
func (o *Order) AddPayment(methodID, methodKind string, amount decimal.Decimal) (*PaymentLine, error) {
	if err := o.ensureOpen(); err != nil {
		return nil, err
	}
	if err := o.guard(OpAdd, nil, methodID); err != nil {
		return nil, err
	}
	if methodID == "" || !amount.IsPositive() {
		return nil, ierr.NewError("invalid payment").
			WithHint("A payment needs a method and a positive amount").
			Mark(ierr.ErrValidation)
	}
	p := &PaymentLine{ID: uuid.NewString(), MethodID: methodID, MethodKind: methodKind, Amount: amount}
	o.payments = append(o.payments, p)
	return p, nil
}

// SelectPayment makes a payment line the active one for keypad entry.
func (o *Order) SelectPayment(id string) (*PaymentLine, error) {
	if err := o.ensureOpen(); err != nil {
		return nil, err
	}
	p, err := o.lookupPayment(id)
	if err != nil {
		return nil, err
	}
	if err := o.guard(OpSelect, p, p.MethodID); err != nil {
		return nil, err
	}
	for _, other := range o.payments {
		other.Selected = other == p
	}
	return p, nil
}

// EditPayment changes the amount of an operator payment line.
func (o *Order) EditPayment(id string, amount decimal.Decimal) (*PaymentLine, error) {
	if err := o.ensureOpen(); err != nil {
		return nil, err
	}
	p, err := o.lookupPayment(id)
	if err != nil {
		return nil, err
	}
	if err := o.guard(OpEdit, p, p.MethodID); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, ierr.NewError("invalid payment amount").
			WithHint("Payment amount must be positive").
			Mark(ierr.ErrValidation)
	}
	p.Amount = amount
	return p, nil
}

// DeletePayment removes an operator payment line.
func (o *Order) DeletePayment(id string) error {
	if err := o.ensureOpen(); err != nil {
		return err
	}
	p, err := o.lookupPayment(id)
	if err != nil {
		return err
	}
	if err := o.guard(OpDelete, p, p.MethodID); err != nil {
		return err
	}
	o.payments = lo.Without(o.payments, p)
	return nil
}

// SetReservedPayment creates, updates or, at zero, removes the reserved
// payment line. It bypasses the guards and is meant for the binder only.
func (o *Order) SetReservedPayment(methodID, methodKind string, amount decimal.Decimal) {
	existing, ok := o.ReservedPayment()
	switch {
	case !amount.IsPositive():
		if ok {
			o.payments = lo.Without(o.payments, existing)
		}
	case ok:
		existing.Amount = amount
		existing.MethodID = methodID
		existing.MethodKind = methodKind
	default:
		o.payments = append(o.payments, &PaymentLine{
			ID:         uuid.NewString(),
			MethodID:   methodID,
			MethodKind: methodKind,
			Amount:     amount,
			Reserved:   true,
		})
	}
}
