package program

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type names the kind of balance a program's resources hold.
type Type string

const (
	TypePoints   Type = "points"
	TypeGiftCard Type = "gift_card"
	TypeCoupon   Type = "coupon"
)

// RewardKind decides how a redeemed cost turns into an order line.
type RewardKind string

const (
	RewardPerPointDiscount RewardKind = "per_point_discount"
	RewardGiftCard         RewardKind = "gift_card"
	RewardFixedDiscount    RewardKind = "fixed_discount"
)

// Program is a loyalty or stored-value program. ConversionRate is the
// currency value of one unit of the program's balance.
type Program struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	Type           Type            `json:"type"`
	ConversionRate decimal.Decimal `json:"conversion_rate"`
	IsActive       bool            `json:"is_active"`
	Rewards        []*Reward       `json:"rewards"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Reward is a redeemable reward definition. DiscountProductID is the
// product the discount line is booked against.
type Reward struct {
	ID                uuid.UUID       `json:"id"`
	ProgramID         uuid.UUID       `json:"program_id"`
	Kind              RewardKind      `json:"kind"`
	DiscountProductID string          `json:"discount_product_id,omitempty"`
	Description       string          `json:"description,omitempty"`
	FixedAmount       decimal.Decimal `json:"fixed_amount"`
}

// Reward returns the program's reward with the given id.
func (p *Program) Reward(id string) (*Reward, bool) {
	for _, r := range p.Rewards {
		if r.ID.String() == id {
			return r, true
		}
	}
	return nil, false
}

// CreateRewardRequest describes one reward of a new program.
type CreateRewardRequest struct {
	Kind              RewardKind      `json:"kind" validate:"required,oneof=per_point_discount gift_card fixed_discount"`
	DiscountProductID string          `json:"discount_product_id" validate:"required_unless=Kind gift_card"`
	Description       string          `json:"description"`
	FixedAmount       decimal.Decimal `json:"fixed_amount" validate:"gte=0"`
}

// CreateProgramRequest holds the data for creating a program.
type CreateProgramRequest struct {
	Name           string                `json:"name" validate:"required"`
	Type           Type                  `json:"type" validate:"required,oneof=points gift_card coupon"`
	ConversionRate decimal.Decimal       `json:"conversion_rate" validate:"gt=0"`
	Rewards        []CreateRewardRequest `json:"rewards" validate:"min=1,dive"`
}
