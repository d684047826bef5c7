package payment

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a tender type.
type Kind string

const (
	KindCash        Kind = "cash"
	KindCard        Kind = "card"
	KindMobileMoney Kind = "mobile_money"
	KindGiftCard    Kind = "gift_card"
	KindOther       Kind = "other"
)

// Method is a configured payment method. Exactly one active method is
// reserved: the one the terminal books redeemed gift-card balances against.
type Method struct {
	ID         uuid.UUID `json:"id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Kind       Kind      `json:"kind"`
	IsReserved bool      `json:"is_reserved"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CreateMethodRequest is the payload for configuring a payment method.
type CreateMethodRequest struct {
	Code       string `json:"code" validate:"required,max=32"`
	Name       string `json:"name" validate:"required"`
	Kind       Kind   `json:"kind" validate:"required,oneof=cash card mobile_money gift_card other"`
	IsReserved bool   `json:"is_reserved"`
}
