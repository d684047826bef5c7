package coupon

import (
	"context"
	"sync"
	"time"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
)

type memoryRepo struct {
	mu      sync.Mutex
	coupons map[string]*Coupon
}

func NewMemoryRepository() Repository {
	return &memoryRepo{coupons: make(map[string]*Coupon)}
}

func (r *memoryRepo) Create(_ context.Context, c *Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.coupons[c.Code]; ok {
		return ierr.NewErrorf("coupon %s already exists", c.Code).Mark(ierr.ErrAlreadyExists)
	}
	cp := *c
	r.coupons[c.Code] = &cp
	return nil
}

func (r *memoryRepo) Get(_ context.Context, code string) (*Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[code]
	if !ok {
		return nil, ierr.NewErrorf("coupon %s not found", code).Mark(ierr.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (r *memoryRepo) SetUsed(_ context.Context, code string, used bool, orderID string, at time.Time) (*Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[code]
	if !ok {
		return nil, ierr.NewErrorf("coupon %s not found", code).Mark(ierr.ErrNotFound)
	}
	c.IsUsed = used
	c.UpdatedAt = at
	if used {
		c.UsedAt = &at
		c.UsedByOrder = orderID
	} else {
		c.UsedAt = nil
		c.UsedByOrder = ""
	}
	cp := *c
	return &cp, nil
}
