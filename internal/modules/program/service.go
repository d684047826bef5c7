package program

import (
	"context"
	"time"

	"github.com/georgemunganga/printa-checkout/internal/validator"
	"github.com/google/uuid"
)

// Service defines program business logic.
type Service interface {
	CreateProgram(ctx context.Context, req CreateProgramRequest) (*Program, error)
	GetProgram(ctx context.Context, id string) (*Program, error)
	ListPrograms(ctx context.Context, activeOnly bool) ([]*Program, error)
}

type service struct{ repo Repository }

func NewService(repo Repository) Service { return &service{repo: repo} }

func (s *service) CreateProgram(ctx context.Context, req CreateProgramRequest) (*Program, error) {
	if err := validator.ValidateRequest(req); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	p := &Program{
		ID:             uuid.New(),
		Name:           req.Name,
		Type:           req.Type,
		ConversionRate: req.ConversionRate,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, in := range req.Rewards {
		p.Rewards = append(p.Rewards, &Reward{
			ID:                uuid.New(),
			ProgramID:         p.ID,
			Kind:              in.Kind,
			DiscountProductID: in.DiscountProductID,
			Description:       in.Description,
			FixedAmount:       in.FixedAmount,
		})
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *service) GetProgram(ctx context.Context, id string) (*Program, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) ListPrograms(ctx context.Context, activeOnly bool) ([]*Program, error) {
	return s.repo.List(ctx, activeOnly)
}
