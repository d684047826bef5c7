package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProgramType identifies which loyalty program a resource belongs to.
type ProgramType string

const (
	ProgramPoints   ProgramType = "points"
	ProgramGiftCard ProgramType = "gift_card"
	ProgramCoupon   ProgramType = "coupon"
)

// HoldStatus is the state of one idempotency key against one resource.
type HoldStatus string

const (
	HoldDeducted   HoldStatus = "DEDUCTED"
	HoldRolledBack HoldStatus = "ROLLED_BACK"
	HoldCommitted  HoldStatus = "COMMITTED"
)

// EntryKind labels an audit entry.
type EntryKind string

const (
	EntryIssue    EntryKind = "ISSUE"
	EntryDeduct   EntryKind = "DEDUCT"
	EntryRollback EntryKind = "ROLLBACK"
	EntryCommit   EntryKind = "COMMIT"
)

// Resource is a redeemable balance: a points account, a gift card or a coupon.
type Resource struct {
	ID          string          `json:"id"`
	ProgramID   string          `json:"program_id"`
	ProgramType ProgramType     `json:"program_type"`
	Balance     decimal.Decimal `json:"balance"`
	SingleUse   bool            `json:"single_use"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Hold tracks what an idempotency key did to a resource.
type Hold struct {
	ResourceID     string          `json:"resource_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Amount         decimal.Decimal `json:"amount"`
	Status         HoldStatus      `json:"status"`
	BalanceBefore  decimal.Decimal `json:"balance_before"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Entry is an append-only audit record of a balance change.
type Entry struct {
	ID             uuid.UUID       `json:"id"`
	ResourceID     string          `json:"resource_id"`
	Kind           EntryKind       `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	BalanceBefore  decimal.Decimal `json:"balance_before"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	CreatedAt      time.Time       `json:"created_at"`
}

// HoldRef names a hold to commit when a sale is synced.
type HoldRef struct {
	ResourceID     string `json:"resource_id" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" validate:"required"`
}

// IssueResourceRequest creates a new redeemable resource.
type IssueResourceRequest struct {
	ID          string          `json:"id" validate:"required"`
	ProgramID   string          `json:"program_id" validate:"required"`
	ProgramType ProgramType     `json:"program_type" validate:"required,oneof=points gift_card coupon"`
	Balance     decimal.Decimal `json:"balance" validate:"gte=0"`
	SingleUse   bool            `json:"single_use"`
}

// MutationRequest is the payload of deduct and rollback.
type MutationRequest struct {
	Amount         decimal.Decimal `json:"amount" validate:"gt=0"`
	IdempotencyKey string          `json:"idempotency_key" validate:"required,max=128"`
}

// BalanceResponse answers a balance check.
type BalanceResponse struct {
	ResourceID  string          `json:"resource_id"`
	ProgramID   string          `json:"program_id"`
	ProgramType ProgramType     `json:"program_type"`
	Balance     decimal.Decimal `json:"balance"`
	SingleUse   bool            `json:"single_use"`
}

// MutationResponse answers deduct and rollback. On a replayed key it is sent
// together with the already_processed kind.
type MutationResponse struct {
	ResourceID     string          `json:"resource_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Status         HoldStatus      `json:"status"`
	OldBalance     decimal.Decimal `json:"old_balance"`
	NewBalance     decimal.Decimal `json:"new_balance"`
	Replayed       bool            `json:"replayed"`

	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

func toBalanceResponse(r *Resource) *BalanceResponse {
	return &BalanceResponse{
		ResourceID:  r.ID,
		ProgramID:   r.ProgramID,
		ProgramType: r.ProgramType,
		Balance:     r.Balance,
		SingleUse:   r.SingleUse,
	}
}

func toMutationResponse(h *Hold, replayed bool) *MutationResponse {
	return &MutationResponse{
		ResourceID:     h.ResourceID,
		IdempotencyKey: h.IdempotencyKey,
		Status:         h.Status,
		OldBalance:     h.BalanceBefore,
		NewBalance:     h.BalanceAfter,
		Replayed:       replayed,
	}
}
