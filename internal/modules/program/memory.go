package program

import (
	"context"
	"sort"
	"sync"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/samber/lo"
)

type memoryRepo struct {
	mu       sync.RWMutex
	programs map[string]*Program
}

func NewMemoryRepository() Repository {
	return &memoryRepo{programs: make(map[string]*Program)}
}

func (r *memoryRepo) Create(_ context.Context, p *Program) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[p.ID.String()] = p
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id string) (*Program, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.programs[id]
	if !ok {
		return nil, ierr.NewErrorf("program %s not found", id).Mark(ierr.ErrNotFound)
	}
	return p, nil
}

func (r *memoryRepo) List(_ context.Context, activeOnly bool) ([]*Program, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := lo.Filter(lo.Values(r.programs), func(p *Program, _ int) bool {
		return p.IsActive || !activeOnly
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
