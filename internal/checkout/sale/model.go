package sale

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the terminal-side lifecycle of an order.
type Status string

const (
	StatusOpen      Status = "open"
	StatusSynced    Status = "synced"
	StatusCancelled Status = "cancelled"
)

// RewardLink marks a line as reward-derived.
type RewardLink struct {
	ProgramID      string          `json:"program_id"`
	RewardID       string          `json:"reward_id"`
	ResourceID     string          `json:"resource_id"`
	Kind           string          `json:"kind"`
	Cost           decimal.Decimal `json:"cost"`
	Value          decimal.Decimal `json:"value"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// Line is one order line. Discount lines carry a negative unit price.
type Line struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	Description string          `json:"description,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Reward      *RewardLink     `json:"reward,omitempty"`
}

// Total is quantity times unit price, rounded to cents.
func (l *Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(l.Quantity).Round(2)
}

// IsReward reports whether the line was created by a redemption.
func (l *Line) IsReward() bool { return l.Reward != nil }

// PaymentLine is one tender on the order. At most one line is Reserved.
type PaymentLine struct {
	ID         string          `json:"id"`
	MethodID   string          `json:"method_id"`
	MethodKind string          `json:"method_kind"`
	Amount     decimal.Decimal `json:"amount"`
	Reserved   bool            `json:"reserved"`
	Selected   bool            `json:"selected"`
}

// Operation names an operator action on a payment line.
type Operation string

const (
	OpAdd    Operation = "add"
	OpSelect Operation = "select"
	OpEdit   Operation = "edit"
	OpDelete Operation = "delete"
)

// PaymentGuard is consulted before every operator payment operation. line
// is nil for OpAdd; methodID is the method being added or the line's method.
type PaymentGuard func(op Operation, line *PaymentLine, methodID string) error

// View is the JSON representation of an order.
type View struct {
	ID          string          `json:"id"`
	Reference   string          `json:"reference"`
	StoreID     string          `json:"store_id"`
	OperatorID  string          `json:"operator_id"`
	Currency    string          `json:"currency"`
	Status      Status          `json:"status"`
	Lines       []*Line         `json:"lines"`
	Payments    []*PaymentLine  `json:"payments"`
	Coupons     []string        `json:"coupons"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
	Paid        decimal.Decimal `json:"paid"`
	Change      decimal.Decimal `json:"change"`
	BackendID   string          `json:"backend_id,omitempty"`
	OrderNumber string          `json:"order_number,omitempty"`
	IsPrinted   bool            `json:"is_printed"`
	CreatedAt   time.Time       `json:"created_at"`
	SyncedAt    *time.Time      `json:"synced_at,omitempty"`
}
