package pos

import (
	"github.com/georgemunganga/printa-checkout/internal/checkout/redemption"
	"github.com/georgemunganga/printa-checkout/internal/checkout/sale"
	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/shopspring/decimal"
)

// OrderResponse is an order together with its redemption state.
type OrderResponse struct {
	Order       sale.View       `json:"order"`
	Redemptions redemption.View `json:"redemptions"`
}

// AddItemRequest adds a product line. Catalog data comes from the UI.
type AddItemRequest struct {
	ProductID   string          `json:"product_id" validate:"required"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"gte=0"`
}

// AddCouponRequest attaches an externally tracked coupon code.
type AddCouponRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

// RedeemRequest spends amount from a resource on a program reward.
type RedeemRequest struct {
	ProgramID  string          `json:"program_id" validate:"required"`
	RewardID   string          `json:"reward_id" validate:"required"`
	ResourceID string          `json:"resource_id" validate:"required"`
	Amount     decimal.Decimal `json:"amount" validate:"gt=0"`
}

// RedeemResponse reports the reward line and the resulting order.
type RedeemResponse struct {
	Line       *sale.Line      `json:"line"`
	Duplicate  bool            `json:"duplicate"`
	Replayed   bool            `json:"replayed"`
	OldBalance decimal.Decimal `json:"old_balance"`
	NewBalance decimal.Decimal `json:"new_balance"`
	// Notice explains an outcome that is not an error, such as a reward
	// that was already on the order.
	Notice *ierr.Failure `json:"notice,omitempty"`
	Order  OrderResponse `json:"order"`
}

// AddPaymentRequest adds a tender line for a configured payment method.
type AddPaymentRequest struct {
	MethodID string          `json:"method_id" validate:"required"`
	Amount   decimal.Decimal `json:"amount" validate:"gte=0"`
}

// EditPaymentRequest changes a tender amount.
type EditPaymentRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gte=0"`
}

// FinalizeRequest carries the operator's finalization choices.
type FinalizeRequest struct {
	AcceptUnvalidatedCoupons bool `json:"accept_unvalidated_coupons"`
}

// ResolveRequest closes a reconciliation record.
type ResolveRequest struct {
	Note string `json:"note" validate:"required"`
}
