package coupon

import (
	"context"
	"strings"
	"time"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/validator"
)

// Service manages coupon usage flags.
type Service interface {
	Create(ctx context.Context, req CreateCouponRequest) (*Coupon, error)
	GetUsage(ctx context.Context, code string) (*Usage, error)
	UpdateUsage(ctx context.Context, code string, req UpdateUsageRequest) (*Usage, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) Create(ctx context.Context, req CreateCouponRequest) (*Coupon, error) {
	if err := validator.ValidateRequest(req); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	c := &Coupon{
		Code:      normalise(req.Code),
		ProgramID: req.ProgramID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *service) GetUsage(ctx context.Context, code string) (*Usage, error) {
	code = normalise(code)
	c, err := s.repo.Get(ctx, code)
	if ierr.IsNotFound(err) {
		return &Usage{Code: code}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Usage{Code: c.Code, IsUsed: c.IsUsed, Found: true}, nil
}

func (s *service) UpdateUsage(ctx context.Context, code string, req UpdateUsageRequest) (*Usage, error) {
	c, err := s.repo.SetUsed(ctx, normalise(code), req.IsUsed, req.OrderID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return &Usage{Code: c.Code, IsUsed: c.IsUsed, Found: true}, nil
}

// normalise makes codes typed at the till match the issued form.
func normalise(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
