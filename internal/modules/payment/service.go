package payment

import (
	"context"
	"strings"
	"time"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/validator"
	"github.com/google/uuid"
)

// Service defines the payment method registry.
type Service interface {
	// CreateMethod configures a new payment method.
	CreateMethod(ctx context.Context, req CreateMethodRequest) (*Method, error)

	// ListMethods returns all active methods.
	ListMethods(ctx context.Context) ([]*Method, error)

	// ReservedMethod returns the single active reserved method. Zero or
	// several reserved methods are a configuration error.
	ReservedMethod(ctx context.Context) (*Method, error)
}

type service struct {
	repo Repository
}

// NewService creates a new payment method service.
func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) CreateMethod(ctx context.Context, req CreateMethodRequest) (*Method, error) {
	if err := validator.ValidateRequest(req); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	m := &Method{
		ID:         uuid.New(),
		Code:       strings.ToUpper(req.Code),
		Name:       req.Name,
		Kind:       req.Kind,
		IsReserved: req.IsReserved,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *service) ListMethods(ctx context.Context) ([]*Method, error) {
	return s.repo.ListActive(ctx)
}

func (s *service) ReservedMethod(ctx context.Context) (*Method, error) {
	methods, err := s.repo.ListReserved(ctx)
	if err != nil {
		return nil, err
	}
	switch len(methods) {
	case 0:
		return nil, ierr.NewError("no reserved payment method configured").
			WithHint("Configure one payment method for gift card balances").
			Mark(ierr.ErrNotFound)
	case 1:
		return methods[0], nil
	default:
		return nil, ierr.NewErrorf("%d reserved payment methods configured", len(methods)).
			WithHint("Exactly one payment method may be reserved for gift card balances").
			Mark(ierr.ErrInvalidOperation)
	}
}
