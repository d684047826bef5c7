package ledger

import (
	"context"
	"sync"
	"time"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/shopspring/decimal"
)

type holdKey struct {
	resourceID string
	key        string
}

// memoryRepo keeps the ledger in process. It is used by tests and by the
// local development twin of the backend.
type memoryRepo struct {
	mu        sync.Mutex
	resources map[string]*Resource
	holds     map[holdKey]*Hold
	entries   map[string][]*Entry
	now       func() time.Time
}

func NewMemoryRepository() Repository {
	return &memoryRepo{
		resources: make(map[string]*Resource),
		holds:     make(map[holdKey]*Hold),
		entries:   make(map[string][]*Entry),
		now:       time.Now,
	}
}

func (r *memoryRepo) CreateResource(_ context.Context, res *Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.resources[res.ID]; ok {
		return ierr.NewErrorf("resource %s already exists", res.ID).
			Mark(ierr.ErrAlreadyExists)
	}
	cp := *res
	r.resources[res.ID] = &cp
	r.entries[res.ID] = append(r.entries[res.ID], newEntry(res.ID, EntryIssue, res.Balance, "", decimal.Zero, res.Balance, res.CreatedAt))
	return nil
}

func (r *memoryRepo) GetResource(_ context.Context, id string) (*Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.resources[id]
	if !ok {
		return nil, ierr.NewErrorf("resource %s not found", id).
			WithHint("Card or account was not found").
			Mark(ierr.ErrResourceNotFound)
	}
	cp := *res
	return &cp, nil
}

func (r *memoryRepo) Deduct(_ context.Context, resourceID string, amount decimal.Decimal, key string) (*Hold, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hk := holdKey{resourceID, key}
	res, existing := r.lookup(hk)
	hold, entry, err := planDeduct(res, existing, amount, key, r.now())
	if err != nil {
		return nil, false, err
	}
	return r.store(hk, res, hold, entry), entry == nil, nil
}

func (r *memoryRepo) Rollback(_ context.Context, resourceID string, amount decimal.Decimal, key string) (*Hold, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hk := holdKey{resourceID, key}
	res, existing := r.lookup(hk)
	hold, entry, err := planRollback(res, existing, amount, key, r.now())
	if err != nil {
		return nil, false, err
	}
	return r.store(hk, res, hold, entry), entry == nil, nil
}

func (r *memoryRepo) GetHold(_ context.Context, resourceID, key string) (*Hold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, hold := r.lookup(holdKey{resourceID, key})
	if hold == nil {
		return nil, holdNotFound(resourceID, key)
	}
	return hold, nil
}

func (r *memoryRepo) CommitHolds(_ context.Context, refs []HoldRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	type planned struct {
		hk    holdKey
		res   *Resource
		hold  *Hold
		entry *Entry
	}
	var plans []planned
	for _, ref := range refs {
		hk := holdKey{ref.ResourceID, ref.IdempotencyKey}
		res, existing := r.lookup(hk)
		hold, entry, err := planCommit(res, existing, ref, now)
		if err != nil {
			return err
		}
		plans = append(plans, planned{hk, res, hold, entry})
	}
	for _, p := range plans {
		r.store(p.hk, p.res, p.hold, p.entry)
	}
	return nil
}

func (r *memoryRepo) ListEntries(_ context.Context, resourceID string) ([]*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.resources[resourceID]; !ok {
		return nil, ierr.NewErrorf("resource %s not found", resourceID).
			Mark(ierr.ErrResourceNotFound)
	}
	out := make([]*Entry, len(r.entries[resourceID]))
	copy(out, r.entries[resourceID])
	return out, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

// lookup returns copies so plan functions never touch stored state directly.
func (r *memoryRepo) lookup(hk holdKey) (*Resource, *Hold) {
	var res *Resource
	if stored, ok := r.resources[hk.resourceID]; ok {
		cp := *stored
		res = &cp
	}
	var hold *Hold
	if stored, ok := r.holds[hk]; ok {
		cp := *stored
		hold = &cp
	}
	return res, hold
}

func (r *memoryRepo) store(hk holdKey, res *Resource, hold *Hold, entry *Entry) *Hold {
	if entry == nil {
		return hold
	}
	r.resources[hk.resourceID] = res
	r.holds[hk] = hold
	r.entries[hk.resourceID] = append(r.entries[hk.resourceID], entry)
	cp := *hold
	return &cp
}
