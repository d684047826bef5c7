package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository defines data access for redeemable resources. Deduct, Rollback
// and CommitHolds are atomic per resource: concurrent calls against the same
// resource are serialized.
type Repository interface {
	// CreateResource persists a newly issued resource.
	CreateResource(ctx context.Context, r *Resource) error

	// GetResource retrieves a resource by id.
	GetResource(ctx context.Context, id string) (*Resource, error)

	// Deduct applies a deduction for key. replayed is true when key was
	// already deducted and the stored hold is returned unchanged.
	Deduct(ctx context.Context, resourceID string, amount decimal.Decimal, key string) (hold *Hold, replayed bool, err error)

	// Rollback restores the deduction made under key.
	Rollback(ctx context.Context, resourceID string, amount decimal.Decimal, key string) (hold *Hold, replayed bool, err error)

	// GetHold returns what key did to the resource.
	GetHold(ctx context.Context, resourceID, key string) (*Hold, error)

	// CommitHolds marks deductions as belonging to a synced sale, all or nothing.
	CommitHolds(ctx context.Context, refs []HoldRef) error

	// ListEntries returns the audit trail of a resource, oldest first.
	ListEntries(ctx context.Context, resourceID string) ([]*Entry, error)
}
