package payment

import (
	"context"
	"sort"
	"sync"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/samber/lo"
)

type memoryRepo struct {
	mu      sync.RWMutex
	methods []*Method
}

func NewMemoryRepository() Repository {
	return &memoryRepo{}
}

func (r *memoryRepo) Create(_ context.Context, m *Method) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lo.ContainsBy(r.methods, func(x *Method) bool { return x.Code == m.Code }) {
		return ierr.NewErrorf("payment method %s already exists", m.Code).Mark(ierr.ErrAlreadyExists)
	}
	cp := *m
	r.methods = append(r.methods, &cp)
	return nil
}

func (r *memoryRepo) ListActive(_ context.Context) ([]*Method, error) {
	return r.filter(func(m *Method) bool { return m.IsActive }), nil
}

func (r *memoryRepo) ListReserved(_ context.Context) ([]*Method, error) {
	return r.filter(func(m *Method) bool { return m.IsActive && m.IsReserved }), nil
}

func (r *memoryRepo) filter(keep func(m *Method) bool) []*Method {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := lo.FilterMap(r.methods, func(m *Method, _ int) (*Method, bool) {
		if !keep(m) {
			return nil, false
		}
		cp := *m
		return &cp, true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
