package ledger

import (
	"context"
	"time"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/validator"
)

// Service is the backend of record for redeemable balances.
type Service interface {
	// IssueResource creates a points account, gift card or coupon balance.
	IssueResource(ctx context.Context, req IssueResourceRequest) (*Resource, error)

	// GetBalance returns the current balance and program linkage.
	GetBalance(ctx context.Context, id string) (*BalanceResponse, error)

	// Deduct atomically removes amount from the balance. A replayed key returns
	// the original result together with ErrAlreadyProcessed.
	Deduct(ctx context.Context, id string, req MutationRequest) (*MutationResponse, error)

	// Rollback restores the deduction made under the key. Replays return the
	// original result together with ErrAlreadyProcessed.
	Rollback(ctx context.Context, id string, req MutationRequest) (*MutationResponse, error)

	// GetHold reports what an idempotency key did to a resource.
	GetHold(ctx context.Context, id, key string) (*MutationResponse, error)

	// CommitHolds binds deductions to a synced sale so they can no longer be rolled back.
	CommitHolds(ctx context.Context, refs []HoldRef) error

	// ListEntries returns the audit trail of a resource.
	ListEntries(ctx context.Context, id string) ([]*Entry, error)
}

type service struct {
	repo Repository
}

// NewService creates a new ledger service.
func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) IssueResource(ctx context.Context, req IssueResourceRequest) (*Resource, error) {
	if err := validator.ValidateRequest(req); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	res := &Resource{
		ID:          req.ID,
		ProgramID:   req.ProgramID,
		ProgramType: req.ProgramType,
		Balance:     req.Balance,
		SingleUse:   req.SingleUse,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateResource(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *service) GetBalance(ctx context.Context, id string) (*BalanceResponse, error) {
	res, err := s.repo.GetResource(ctx, id)
	if err != nil {
		return nil, err
	}
	return toBalanceResponse(res), nil
}

func (s *service) Deduct(ctx context.Context, id string, req MutationRequest) (*MutationResponse, error) {
	if err := validator.ValidateRequest(req); err != nil {
		return nil, err
	}
	hold, replayed, err := s.repo.Deduct(ctx, id, req.Amount, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	resp := toMutationResponse(hold, replayed)
	if replayed {
		return resp, ierr.NewErrorf("deduction %s already applied", req.IdempotencyKey).
			WithHint("This redemption was already deducted").
			Mark(ierr.ErrAlreadyProcessed)
	}
	return resp, nil
}

func (s *service) Rollback(ctx context.Context, id string, req MutationRequest) (*MutationResponse, error) {
	if err := validator.ValidateRequest(req); err != nil {
		return nil, err
	}
	hold, replayed, err := s.repo.Rollback(ctx, id, req.Amount, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	resp := toMutationResponse(hold, replayed)
	if replayed {
		return resp, ierr.NewErrorf("rollback %s already applied", req.IdempotencyKey).
			WithHint("This redemption was already restored").
			Mark(ierr.ErrAlreadyProcessed)
	}
	return resp, nil
}

func (s *service) GetHold(ctx context.Context, id, key string) (*MutationResponse, error) {
	hold, err := s.repo.GetHold(ctx, id, key)
	if err != nil {
		return nil, err
	}
	return toMutationResponse(hold, false), nil
}

func (s *service) CommitHolds(ctx context.Context, refs []HoldRef) error {
	if len(refs) == 0 {
		return nil
	}
	for _, ref := range refs {
		if err := validator.ValidateRequest(ref); err != nil {
			return err
		}
	}
	return s.repo.CommitHolds(ctx, refs)
}

func (s *service) ListEntries(ctx context.Context, id string) ([]*Entry, error) {
	return s.repo.ListEntries(ctx, id)
}
