package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	goCache "github.com/patrickmn/go-cache"
)

// Predefined cache key prefixes
const (
	PrefixBalance        = "balance:v1"
	PrefixReservedMethod = "reserved_method:v1"
	PrefixProgram        = "program:v1"
)

// DefaultCleanupInterval is how often expired items are removed from the store
const DefaultCleanupInterval = 10 * time.Minute

// Snapshot is a cached value together with the time it was fetched.
type Snapshot[T any] struct {
	Value     T
	FetchedAt time.Time
}

// Age reports how old the snapshot is at now.
func (s Snapshot[T]) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// Manager is a capability-scoped snapshot cache. Freshness is judged against
// the injected Clock rather than the store's own expiry, so one manager can
// answer both "any value" and "a value no older than the window".
type Manager[T any] struct {
	store     *goCache.Cache
	clock     Clock
	freshness time.Duration
	prefix    string
}

// NewManager creates a manager for one kind of value.
func NewManager[T any](prefix string, freshness time.Duration, clock Clock) *Manager[T] {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Manager[T]{
		// entries outlive the freshness window so stale reads stay possible
		store:     goCache.New(10*freshness, DefaultCleanupInterval),
		clock:     clock,
		freshness: freshness,
		prefix:    prefix,
	}
}

// Freshness returns the window within which a snapshot is trusted.
func (m *Manager[T]) Freshness() time.Duration {
	return m.freshness
}

// Get returns the stored snapshot regardless of its age.
func (m *Manager[T]) Get(key string) (Snapshot[T], bool) {
	v, ok := m.store.Get(m.key(key))
	if !ok {
		return Snapshot[T]{}, false
	}
	snap, ok := v.(Snapshot[T])
	return snap, ok
}

// Fresh returns the value only when its snapshot is inside the freshness window.
func (m *Manager[T]) Fresh(key string) (T, bool) {
	snap, ok := m.Get(key)
	if !ok || snap.Age(m.clock.Now()) >= m.freshness {
		var zero T
		return zero, false
	}
	return snap.Value, true
}

// Set stores value stamped with the current clock time.
func (m *Manager[T]) Set(key string, value T) Snapshot[T] {
	snap := Snapshot[T]{Value: value, FetchedAt: m.clock.Now()}
	m.store.Set(m.key(key), snap, goCache.DefaultExpiration)
	return snap
}

// Invalidate drops the snapshot for key.
func (m *Manager[T]) Invalidate(key string) {
	m.store.Delete(m.key(key))
}

// GetOrLoad returns a fresh value or calls load and caches its result.
// Load errors are returned as is and nothing is cached.
func (m *Manager[T]) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (T, error)) (T, error) {
	if v, ok := m.Fresh(key); ok {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	m.Set(key, v)
	return v, nil
}

func (m *Manager[T]) key(key string) string {
	return GenerateKey(m.prefix, key)
}

// GenerateKey creates a cache key from a prefix and a set of parameters
// It joins all parameters with a colon and appends them to the prefix
func GenerateKey(prefix string, params ...interface{}) string {
	parts := make([]string, len(params)+1)
	parts[0] = prefix

	for i, param := range params {
		parts[i+1] = fmt.Sprintf("%v", param)
	}

	return strings.Join(parts, ":")
}
