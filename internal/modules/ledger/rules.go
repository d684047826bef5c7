package ledger

import (
	"time"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// The plan functions hold the ledger rules shared by every repository. They
// run while the caller holds the resource exclusively, mutate res in place and
// return the hold and audit entry to persist. A nil entry means a replay.

func planDeduct(res *Resource, existing *Hold, amount decimal.Decimal, key string, now time.Time) (*Hold, *Entry, error) {
	if res == nil {
		return nil, nil, ierr.NewError("resource not found").
			WithHint("Card or account was not found").
			Mark(ierr.ErrResourceNotFound)
	}
	if !res.IsActive {
		return nil, nil, ierr.NewErrorf("resource %s is inactive", res.ID).
			WithHint("This card or account is no longer active").
			Mark(ierr.ErrInvalidOperation)
	}

	if existing != nil && (existing.Status == HoldDeducted || existing.Status == HoldCommitted) {
		if !existing.Amount.Equal(amount) {
			return nil, nil, ierr.NewErrorf("idempotency key %s reused with amount %s, held %s", key, amount, existing.Amount).
				WithHint("This redemption was already made with a different amount").
				Mark(ierr.ErrValidation)
		}
		return existing, nil, nil
	}

	if res.SingleUse && !amount.Equal(res.Balance) {
		return nil, nil, ierr.NewErrorf("single-use resource %s must be redeemed in full", res.ID).
			WithHintf("This can only be redeemed in full (%s)", res.Balance).
			WithReportableDetails(map[string]any{"balance": res.Balance.String(), "requested": amount.String()}).
			Mark(ierr.ErrValidation)
	}

	if amount.GreaterThan(res.Balance) {
		return nil, nil, ierr.NewErrorf("requested %s exceeds balance %s", amount, res.Balance).
			WithHintf("Insufficient balance: %s available", res.Balance).
			WithReportableDetails(map[string]any{"balance": res.Balance.String(), "requested": amount.String()}).
			Mark(ierr.ErrInsufficientBalance)
	}

	before := res.Balance
	res.Balance = before.Sub(amount)
	res.UpdatedAt = now

	hold := &Hold{
		ResourceID:     res.ID,
		IdempotencyKey: key,
		Amount:         amount,
		Status:         HoldDeducted,
		BalanceBefore:  before,
		BalanceAfter:   res.Balance,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if existing != nil {
		hold.CreatedAt = existing.CreatedAt
	}
	return hold, newEntry(res.ID, EntryDeduct, amount, key, before, res.Balance, now), nil
}

func planRollback(res *Resource, existing *Hold, amount decimal.Decimal, key string, now time.Time) (*Hold, *Entry, error) {
	if res == nil {
		return nil, nil, ierr.NewError("resource not found").
			WithHint("Card or account was not found").
			Mark(ierr.ErrResourceNotFound)
	}
	if existing == nil {
		return nil, nil, ierr.NewErrorf("no deduction recorded for key %s", key).
			WithHint("Nothing to restore for this redemption").
			Mark(ierr.ErrNothingToRollback)
	}

	switch existing.Status {
	case HoldRolledBack:
		return existing, nil, nil
	case HoldCommitted:
		return nil, nil, ierr.NewErrorf("hold %s is committed to a synced sale", key).
			WithHint("This redemption belongs to a completed sale and cannot be reversed here").
			Mark(ierr.ErrInvalidOperation)
	}

	if !existing.Amount.Equal(amount) {
		return nil, nil, ierr.NewErrorf("rollback amount %s does not match held %s", amount, existing.Amount).
			WithHintf("Rollback must restore exactly %s", existing.Amount).
			Mark(ierr.ErrValidation)
	}

	before := res.Balance
	res.Balance = before.Add(existing.Amount)
	res.UpdatedAt = now

	hold := *existing
	hold.Status = HoldRolledBack
	hold.BalanceBefore = before
	hold.BalanceAfter = res.Balance
	hold.UpdatedAt = now
	return &hold, newEntry(res.ID, EntryRollback, existing.Amount, key, before, res.Balance, now), nil
}

func planCommit(res *Resource, existing *Hold, ref HoldRef, now time.Time) (*Hold, *Entry, error) {
	if res == nil {
		return nil, nil, ierr.NewErrorf("resource %s not found", ref.ResourceID).
			Mark(ierr.ErrResourceNotFound)
	}
	if existing == nil {
		return nil, nil, ierr.NewErrorf("no deduction recorded for key %s on %s", ref.IdempotencyKey, ref.ResourceID).
			WithHint("A redemption on this sale was never confirmed by the ledger").
			Mark(ierr.ErrInvalidOperation)
	}
	switch existing.Status {
	case HoldCommitted:
		return existing, nil, nil
	case HoldRolledBack:
		return nil, nil, ierr.NewErrorf("hold %s on %s was rolled back", ref.IdempotencyKey, ref.ResourceID).
			WithHint("A redemption on this sale was already reversed").
			Mark(ierr.ErrInvalidOperation)
	}

	hold := *existing
	hold.Status = HoldCommitted
	hold.UpdatedAt = now
	return &hold, newEntry(res.ID, EntryCommit, existing.Amount, ref.IdempotencyKey, res.Balance, res.Balance, now), nil
}

func newEntry(resourceID string, kind EntryKind, amount decimal.Decimal, key string, before, after decimal.Decimal, now time.Time) *Entry {
	return &Entry{
		ID:             uuid.New(),
		ResourceID:     resourceID,
		Kind:           kind,
		Amount:         amount,
		IdempotencyKey: key,
		BalanceBefore:  before,
		BalanceAfter:   after,
		CreatedAt:      now,
	}
}

func holdNotFound(resourceID, key string) error {
	return ierr.NewErrorf("no hold for key %s on %s", key, resourceID).
		WithHint("The ledger has no record of this redemption").
		Mark(ierr.ErrNotFound)
}
