// Package reconcile keeps the durable record of ledger operations whose
// outcome the terminal could not settle. Records stay open until an operator
// resolves them.
package reconcile

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Kind says what went wrong.
type Kind string

const (
	// KindRollbackFailed: a deduction is held by the ledger but its reward
	// was not applied and the compensating rollback failed.
	KindRollbackFailed Kind = "rollback_failed"
	// KindDeductUnconfirmed: the deduct call failed in transit and the
	// best-effort rollback could not confirm the balance was untouched.
	KindDeductUnconfirmed Kind = "deduct_unconfirmed"
	// KindAbandonFailed: an order was cancelled but one of its deductions
	// could not be rolled back.
	KindAbandonFailed Kind = "abandon_failed"
	// KindRecoveryFailed: after a restart the terminal found a hold left by
	// an order it no longer has and could not roll it back.
	KindRecoveryFailed Kind = "recovery_failed"
)

// Record is one reconciliation entry.
type Record struct {
	ID             string          `json:"id"`
	Kind           Kind            `json:"kind"`
	OrderID        string          `json:"order_id"`
	Reference      string          `json:"reference,omitempty"`
	ResourceID     string          `json:"resource_id"`
	RewardID       string          `json:"reward_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	Amount         decimal.Decimal `json:"amount"`
	Error          string          `json:"error"`
	CreatedAt      time.Time       `json:"created_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	Resolution     string          `json:"resolution,omitempty"`
}

// Open reports whether the record still needs follow-up.
func (r Record) Open() bool { return r.ResolvedAt == nil }

var keyPrefix = []byte("recon/")

// Journal stores records in Pebble keyed by ULID, so iteration is in
// creation order.
type Journal struct {
	db      *pebble.DB
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// OpenJournal opens or creates the journal under dir.
func OpenJournal(dir string) (*Journal, error) {
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &Journal{db: db, entropy: ulid.Monotonic(rand.Reader, 0)}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

func recordKey(id string) []byte {
	return append(append([]byte(nil), keyPrefix...), id...)
}

// Append durably writes rec, assigning its ID and timestamp.
func (j *Journal) Append(rec Record) (Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now().UTC()
	rec.ID = ulid.MustNew(ulid.Timestamp(now), j.entropy).String()
	rec.CreatedAt = now
	if err := j.put(rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (j *Journal) put(rec Record) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrSystem)
	}
	if err := j.db.Set(recordKey(rec.ID), val, pebble.Sync); err != nil {
		return ierr.WithError(err).WithHint("Reconciliation journal write failed").Mark(ierr.ErrDatabase)
	}
	return nil
}

// Get returns one record.
func (j *Journal) Get(id string) (Record, error) {
	val, closer, err := j.db.Get(recordKey(id))
	if err == pebble.ErrNotFound {
		return Record{}, ierr.NewErrorf("reconciliation record %s not found", id).Mark(ierr.ErrNotFound)
	}
	if err != nil {
		return Record{}, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	defer closer.Close()

	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return Record{}, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return rec, nil
}

// List returns records oldest first. openOnly skips resolved ones.
func (j *Journal) List(openOnly bool) ([]Record, error) {
	var out []Record
	err := j.scan(keyPrefix, func(val []byte) error {
		var rec Record
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		if !openOnly || rec.Open() {
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// scan calls fn with every value stored under prefix, in key order.
func (j *Journal) scan(prefix []byte, fn func(val []byte) error) error {
	upper := append(append([]byte(nil), prefix[:len(prefix)-1]...), prefix[len(prefix)-1]+1)
	it, err := j.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	defer it.Close()

	for it.First(); it.Valid(); it.Next() {
		if err := fn(it.Value()); err != nil {
			return ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
	}
	return nil
}

// CountOpen returns the number of unresolved records.
func (j *Journal) CountOpen() (int, error) {
	open, err := j.List(true)
	return len(open), err
}

// Resolve closes a record with a note. Resolving twice is rejected.
func (j *Journal) Resolve(id, note string) (Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec, err := j.Get(id)
	if err != nil {
		return Record{}, err
	}
	if !rec.Open() {
		return Record{}, ierr.NewErrorf("reconciliation record %s already resolved", id).
			WithHint("Record was already resolved").
			Mark(ierr.ErrInvalidOperation)
	}
	now := time.Now().UTC()
	rec.ResolvedAt = &now
	rec.Resolution = note
	if err := j.put(rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}
