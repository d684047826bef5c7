package reconcile

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/pebble"
	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/shopspring/decimal"
)

// HoldState says how far a deduction held by an open order got.
type HoldState string

const (
	// HoldInFlight: the deduct was sent and its outcome is not known yet.
	HoldInFlight HoldState = "in_flight"
	// HoldApplied: the reward line is on the order, waiting for the sale to sync.
	HoldApplied HoldState = "applied"
	// HoldUnconfirmed: the deduct may have landed and could not be undone.
	// RecordID names the reconciliation record covering it.
	HoldUnconfirmed HoldState = "unconfirmed"
)

// PendingHold is a ledger deduction an open order still owns. It is kept
// until the sale syncs or the deduction is rolled back, so a restarted
// terminal can give back what its lost orders held.
type PendingHold struct {
	OrderID        string          `json:"order_id"`
	Reference      string          `json:"reference,omitempty"`
	ResourceID     string          `json:"resource_id"`
	RewardID       string          `json:"reward_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	Amount         decimal.Decimal `json:"amount"`
	LineID         string          `json:"line_id,omitempty"`
	State          HoldState       `json:"state"`
	RecordID       string          `json:"record_id,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

var holdPrefix = []byte("hold/")

func holdKey(orderID, key string) []byte {
	k := append(append([]byte(nil), holdPrefix...), orderID...)
	k = append(k, '/')
	return append(k, key...)
}

// PutHold writes or replaces the hold for (OrderID, IdempotencyKey).
func (j *Journal) PutHold(h PendingHold) error {
	h.UpdatedAt = time.Now().UTC()
	val, err := json.Marshal(h)
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrSystem)
	}
	if err := j.db.Set(holdKey(h.OrderID, h.IdempotencyKey), val, pebble.Sync); err != nil {
		return ierr.WithError(err).WithHint("Hold journal write failed").Mark(ierr.ErrDatabase)
	}
	return nil
}

// DeleteHold forgets a hold. Unknown holds are ignored.
func (j *Journal) DeleteHold(orderID, key string) error {
	if err := j.db.Delete(holdKey(orderID, key), pebble.Sync); err != nil {
		return ierr.WithError(err).WithHint("Hold journal write failed").Mark(ierr.ErrDatabase)
	}
	return nil
}

// ListHolds returns every hold, grouped by order.
func (j *Journal) ListHolds() ([]PendingHold, error) {
	var out []PendingHold
	err := j.scan(holdPrefix, func(val []byte) error {
		var h PendingHold
		if err := json.Unmarshal(val, &h); err != nil {
			return err
		}
		out = append(out, h)
		return nil
	})
	return out, err
}
