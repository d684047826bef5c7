package pos

import (
	"sync"
	"time"

	"github.com/georgemunganga/printa-checkout/internal/checkout/sale"
	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	goCache "github.com/patrickmn/go-cache"
)

// DefaultClosedRetention is how long a synced or cancelled order stays
// readable on the terminal.
const DefaultClosedRetention = 15 * time.Minute

// Session is one order being rung up. Its mutex serializes every operation
// on the order.
type Session struct {
	mu    sync.Mutex
	order *sale.Order
}

// SessionStore holds the terminal's orders.
type SessionStore interface {
	Put(o *sale.Order) *Session
	Get(orderID string) (*Session, error)
	// Close moves a finished order out of the open set. It stays readable
	// until its retention runs out.
	Close(orderID string)
}

type memoryStore struct {
	mu     sync.RWMutex
	open   map[string]*Session
	closed *goCache.Cache
}

// NewMemoryStore keeps open orders for the lifetime of the process and
// closed ones for retention. Synced orders live on in the backend and
// unfinished redemptions in the journal.
func NewMemoryStore(retention time.Duration) SessionStore {
	if retention <= 0 {
		retention = DefaultClosedRetention
	}
	return &memoryStore{
		open:   make(map[string]*Session),
		closed: goCache.New(retention, 2*retention),
	}
}

func (s *memoryStore) Put(o *sale.Order) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &Session{order: o}
	s.open[o.ID()] = sess
	return sess
}

func (s *memoryStore) Get(orderID string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.open[orderID]
	s.mu.RUnlock()
	if ok {
		return sess, nil
	}
	if v, found := s.closed.Get(orderID); found {
		return v.(*Session), nil
	}
	return nil, ierr.NewErrorf("order %s not found", orderID).
		WithHint("Order not found").
		Mark(ierr.ErrNotFound)
}

func (s *memoryStore) Close(orderID string) {
	s.mu.Lock()
	sess, ok := s.open[orderID]
	delete(s.open, orderID)
	s.mu.Unlock()
	if ok {
		s.closed.SetDefault(orderID, sess)
	}
}
