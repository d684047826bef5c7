package user

import (
	"context"
	"sync"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/samber/lo"
)

type memoryRepository struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewMemoryRepository returns an in-process operator store.
func NewMemoryRepository() Repository {
	return &memoryRepository{users: make(map[string]*User)}
}

func (r *memoryRepository) CreateUser(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := lo.Find(lo.Values(r.users), func(u *User) bool { return u.Email == user.Email }); ok {
		return ierr.NewErrorf("operator %s already exists", user.Email).Mark(ierr.ErrAlreadyExists)
	}
	cp := *user
	r.users[user.ID.String()] = &cp
	return nil
}

func (r *memoryRepository) GetUserByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := lo.Find(lo.Values(r.users), func(u *User) bool { return u.Email == email })
	if !ok {
		return nil, ierr.NewError("operator not found").Mark(ierr.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (r *memoryRepository) GetUserByID(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ierr.NewError("operator not found").Mark(ierr.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}
