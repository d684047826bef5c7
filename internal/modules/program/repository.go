package program

import "context"

// Repository defines data access for programs and their rewards.
type Repository interface {
	Create(ctx context.Context, p *Program) error
	GetByID(ctx context.Context, id string) (*Program, error)
	List(ctx context.Context, activeOnly bool) ([]*Program, error)
}
