package order

import "context"

// Repository defines data access for synced orders.
type Repository interface {
	// CreateOrder persists an order with its items, payments and redemptions
	// atomically. A second order with the same reference fails with
	// ErrAlreadyExists.
	CreateOrder(ctx context.Context, o *Order) error

	// GetOrderByID retrieves a full order by UUID.
	GetOrderByID(ctx context.Context, id string) (*Order, error)

	// GetOrderByReference retrieves a full order by its client reference.
	GetOrderByReference(ctx context.Context, reference string) (*Order, error)

	// ListOrdersByStore returns the orders of a store, newest first.
	ListOrdersByStore(ctx context.Context, storeID string) ([]*Order, error)

	// UpdateStatus advances an order to a new status.
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error

	// SetPrinted records whether the receipt was printed.
	SetPrinted(ctx context.Context, id string, printed bool) error
}
