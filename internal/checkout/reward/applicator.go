// Package reward turns a redeemed cost into an order line.
package reward

import (
	"github.com/georgemunganga/printa-checkout/internal/checkout/sale"
	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/modules/program"
	"github.com/shopspring/decimal"
)

// Definition is a reward together with the program settings that price it.
type Definition struct {
	ProgramID         string
	ProgramType       program.Type
	RewardID          string
	Kind              program.RewardKind
	DiscountProductID string
	Description       string
	ConversionRate    decimal.Decimal
	FixedAmount       decimal.Decimal
}

// FromProgram builds the definition of reward rewardID in p.
func FromProgram(p *program.Program, rewardID string) (Definition, error) {
	rw, ok := p.Reward(rewardID)
	if !ok {
		return Definition{}, ierr.NewErrorf("reward %s not in program %s", rewardID, p.ID).
			WithHintf("Reward is not part of %s", p.Name).
			Mark(ierr.ErrNotFound)
	}
	return Definition{
		ProgramID:         p.ID.String(),
		ProgramType:       p.Type,
		RewardID:          rw.ID.String(),
		Kind:              rw.Kind,
		DiscountProductID: rw.DiscountProductID,
		Description:       rw.Description,
		ConversionRate:    p.ConversionRate,
		FixedAmount:       rw.FixedAmount,
	}, nil
}

// IsGiftCard reports whether the reward is paid out as a payment rather
// than as a discount.
func (d Definition) IsGiftCard() bool { return d.Kind == program.RewardGiftCard }

// Value is the currency worth of cost units.
func (d Definition) Value(cost decimal.Decimal) decimal.Decimal {
	if d.Kind == program.RewardFixedDiscount {
		return d.FixedAmount
	}
	return cost.Mul(d.ConversionRate).Round(2)
}

// Price is the unit price of the reward line: minus the value for
// discounts, zero for gift cards.
func (d Definition) Price(cost decimal.Decimal) decimal.Decimal {
	if d.IsGiftCard() {
		return decimal.Zero
	}
	return d.Value(cost).Neg()
}

// Result is the outcome of Apply.
type Result struct {
	Line *sale.Line
	// Duplicate is set when the (reward, resource) pair was already applied
	// and the existing line is returned.
	Duplicate bool
}

// Applicator adds and removes reward lines.
type Applicator struct{}

func NewApplicator() *Applicator { return &Applicator{} }

// Preview checks that the reward could be applied to o without touching it.
func (a *Applicator) Preview(o *sale.Order, def Definition, cost decimal.Decimal) error {
	if !def.IsGiftCard() && def.DiscountProductID == "" {
		return ierr.NewErrorf("reward %s has no discount product", def.RewardID).
			WithHint("Reward is not configured with a discount product").
			Mark(ierr.ErrValidation)
	}
	if !cost.IsPositive() {
		return ierr.NewError("reward cost must be positive").
			WithHint("Enter an amount to redeem").
			Mark(ierr.ErrValidation)
	}
	if total := o.Total().Add(def.Price(cost)); total.IsNegative() {
		return ierr.NewErrorf("discount %s exceeds order total %s", def.Value(cost), o.Total()).
			WithHintf("Discount of %s is larger than the order total of %s", def.Value(cost), o.Total()).
			Mark(ierr.ErrDiscountExceedsOrderTotal)
	}
	return nil
}

// Apply adds the reward line for (def, resourceID). A second apply for the
// same pair returns the existing line with Duplicate set and no error.
func (a *Applicator) Apply(o *sale.Order, def Definition, resourceID string, cost decimal.Decimal, key string) (Result, error) {
	if existing, ok := o.FindRewardLine(def.RewardID, resourceID); ok {
		return Result{Line: existing, Duplicate: true}, nil
	}
	if err := a.Preview(o, def, cost); err != nil {
		return Result{}, err
	}

	productID := def.DiscountProductID
	if productID == "" {
		productID = def.RewardID
	}
	line := &sale.Line{
		ProductID:   productID,
		Description: def.Description,
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   def.Price(cost),
		Reward: &sale.RewardLink{
			ProgramID:      def.ProgramID,
			RewardID:       def.RewardID,
			ResourceID:     resourceID,
			Kind:           string(def.Kind),
			Cost:           cost,
			Value:          def.Value(cost),
			IdempotencyKey: key,
		},
	}
	if err := o.AddRewardLine(line); err != nil {
		return Result{}, err
	}
	return Result{Line: line}, nil
}

// Remove deletes a reward line. Product lines are refused.
func (a *Applicator) Remove(o *sale.Order, lineID string) error {
	line, ok := o.Line(lineID)
	if !ok {
		return ierr.NewErrorf("line %s not found", lineID).Mark(ierr.ErrNotFound)
	}
	if !line.IsReward() {
		return ierr.NewErrorf("line %s is not a reward line", lineID).
			WithHint("Only reward lines can be reversed").
			Mark(ierr.ErrInvalidOperation)
	}
	return o.RemoveLine(lineID)
}
