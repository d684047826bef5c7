package coupon

import (
	"context"
	"time"
)

// Repository defines data access for coupons.
type Repository interface {
	Create(ctx context.Context, c *Coupon) error
	Get(ctx context.Context, code string) (*Coupon, error)
	SetUsed(ctx context.Context, code string, used bool, orderID string, at time.Time) (*Coupon, error)
}
