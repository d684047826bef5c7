package order

import (
	"context"
	"sort"
	"sync"
	"time"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/google/uuid"
)

type memoryRepo struct {
	mu          sync.RWMutex
	orders      map[uuid.UUID]*Order
	byReference map[string]uuid.UUID
}

// NewMemoryRepository keeps orders in process, for tests and local runs.
func NewMemoryRepository() Repository {
	return &memoryRepo{
		orders:      make(map[uuid.UUID]*Order),
		byReference: make(map[string]uuid.UUID),
	}
}

func (r *memoryRepo) CreateOrder(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byReference[o.Reference]; ok {
		return ierr.NewErrorf("order reference %s already exists", o.Reference).
			Mark(ierr.ErrAlreadyExists)
	}
	cp := *o
	r.orders[o.ID] = &cp
	r.byReference[o.Reference] = o.ID
	return nil
}

func (r *memoryRepo) GetOrderByID(_ context.Context, id string) (*Order, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Invalid order id").
			Mark(ierr.ErrValidation)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.get(uid)
}

func (r *memoryRepo) GetOrderByReference(_ context.Context, reference string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byReference[reference]
	if !ok {
		return nil, ierr.NewErrorf("order reference %s not found", reference).
			Mark(ierr.ErrNotFound)
	}
	return r.get(id)
}

func (r *memoryRepo) ListOrdersByStore(_ context.Context, storeID string) ([]*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Order
	for _, o := range r.orders {
		if o.StoreID == storeID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepo) UpdateStatus(_ context.Context, id string, status OrderStatus) error {
	return r.update(id, func(o *Order) { o.Status = status })
}

func (r *memoryRepo) SetPrinted(_ context.Context, id string, printed bool) error {
	return r.update(id, func(o *Order) { o.IsPrinted = printed })
}

func (r *memoryRepo) get(id uuid.UUID) (*Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, ierr.NewErrorf("order %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (r *memoryRepo) update(id string, fn func(o *Order)) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[uid]
	if !ok {
		return ierr.NewErrorf("order %s not found", id).Mark(ierr.ErrNotFound)
	}
	fn(o)
	o.UpdatedAt = time.Now().UTC()
	return nil
}
