package order

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus represents the lifecycle state of a synced sale.
type OrderStatus string

const (
	StatusConfirmed OrderStatus = "CONFIRMED"
	StatusCompleted OrderStatus = "COMPLETED"
	StatusVoided    OrderStatus = "VOIDED"
)

// Order is a sale as recorded by the backend of record. It is created once
// per client reference; replays of the same reference return this copy.
type Order struct {
	ID          uuid.UUID       `json:"id"`
	Reference   string          `json:"reference"`
	OrderNumber string          `json:"order_number"`
	StoreID     string          `json:"store_id"`
	OperatorID  string          `json:"operator_id,omitempty"`
	Status      OrderStatus     `json:"status"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
	Paid        decimal.Decimal `json:"paid"`
	Change      decimal.Decimal `json:"change"`
	Currency    string          `json:"currency"`
	IsPrinted   bool            `json:"is_printed"`
	Coupons     []string        `json:"coupons,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Items       []*OrderItem    `json:"items,omitempty"`
	Payments    []*Payment      `json:"payments,omitempty"`
	Redemptions []*Redemption   `json:"redemptions,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	// Replayed is set on responses to a reference that was already synced.
	Replayed bool `json:"replayed"`
}

// OrderItem is a single line of a sale. Reward-derived lines carry the
// reward and the resource that funded them.
type OrderItem struct {
	ID          uuid.UUID       `json:"id"`
	OrderID     uuid.UUID       `json:"order_id"`
	ProductID   string          `json:"product_id"`
	Description string          `json:"description,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
	RewardID    string          `json:"reward_id,omitempty"`
	ResourceID  string          `json:"resource_id,omitempty"`
}

// Payment is one tender line of a sale.
type Payment struct {
	ID         uuid.UUID       `json:"id"`
	OrderID    uuid.UUID       `json:"order_id"`
	MethodID   string          `json:"method_id"`
	Amount     decimal.Decimal `json:"amount"`
	IsReserved bool            `json:"is_reserved"`
}

// Redemption references the ledger hold that funded a reward on the sale.
type Redemption struct {
	ResourceID     string          `json:"resource_id"`
	RewardID       string          `json:"reward_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Amount         decimal.Decimal `json:"amount"`
}

// ItemInput is one line of the sync payload.
type ItemInput struct {
	ProductID   string          `json:"product_id" validate:"required"`
	Description string          `json:"description,omitempty"`
	Quantity    decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	RewardID    string          `json:"reward_id,omitempty"`
	ResourceID  string          `json:"resource_id,omitempty"`
}

// PaymentInput is one tender line of the sync payload.
type PaymentInput struct {
	MethodID   string          `json:"method_id" validate:"required"`
	Amount     decimal.Decimal `json:"amount" validate:"gte=0"`
	IsReserved bool            `json:"is_reserved"`
}

// RedemptionInput names a ledger hold to commit with the sale.
type RedemptionInput struct {
	ResourceID     string          `json:"resource_id" validate:"required"`
	RewardID       string          `json:"reward_id" validate:"required"`
	IdempotencyKey string          `json:"idempotency_key" validate:"required"`
	Amount         decimal.Decimal `json:"amount" validate:"gt=0"`
}

// CreateOrderRequest is the order sync payload sent by a terminal.
type CreateOrderRequest struct {
	Reference   string            `json:"reference" validate:"required"`
	StoreID     string            `json:"store_id" validate:"required"`
	OperatorID  string            `json:"operator_id,omitempty"`
	Currency    string            `json:"currency" validate:"required,len=3"`
	Items       []ItemInput       `json:"items" validate:"min=1,dive"`
	Payments    []PaymentInput    `json:"payments" validate:"dive"`
	Redemptions []RedemptionInput `json:"redemptions" validate:"dive"`
	Coupons     []string          `json:"coupons,omitempty"`
	Metadata    json.RawMessage   `json:"metadata,omitempty"`
}

// UpdateFlagsRequest sets post-sync confirmation flags.
type UpdateFlagsRequest struct {
	IsPrinted *bool `json:"is_printed"`
}

// UpdateStatusRequest is the payload for advancing an order's status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}
