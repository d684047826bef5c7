package redemption

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Phase is where a redemption is in the saga.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseValidating  Phase = "validating"
	PhaseDeducted    Phase = "deducted"
	PhaseApplied     Phase = "applied"
	PhaseRollingBack Phase = "rolling_back"
	PhaseRolledBack  Phase = "rolled_back"
)

// validTransitions defines the redemption state machine.
var validTransitions = map[Phase][]Phase{
	PhaseIdle:        {PhaseValidating},
	PhaseValidating:  {PhaseDeducted, PhaseIdle},
	PhaseDeducted:    {PhaseApplied, PhaseRollingBack},
	PhaseRollingBack: {PhaseRolledBack, PhaseIdle},
	PhaseApplied:     {},
	PhaseRolledBack:  {},
}

func canTransition(from, to Phase) bool {
	return lo.Contains(validTransitions[from], to)
}

// InFlight is a redemption between validation and its commit or rollback.
// There is at most one per resource per order.
type InFlight struct {
	ResourceID     string          `json:"resource_id"`
	RewardID       string          `json:"reward_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Amount         decimal.Decimal `json:"amount"`
	PreBalance     decimal.Decimal `json:"pre_balance"`
	PostBalance    decimal.Decimal `json:"post_balance"`
	StartedAt      time.Time       `json:"started_at"`
	Phase          Phase           `json:"phase"`
	// Unsettled is set when the ledger may hold the deduction and nothing
	// undid it. The flight stays until a retry of the same redemption,
	// Abandon or an operator settles it; RecordID names its
	// reconciliation record.
	Unsettled bool   `json:"unsettled"`
	RecordID  string `json:"record_id,omitempty"`

	// active is set while a call owns the flight.
	active bool
}

func (f *InFlight) advance(to Phase) {
	if !canTransition(f.Phase, to) {
		panic("redemption: invalid transition " + string(f.Phase) + " -> " + string(to))
	}
	f.Phase = to
}

// Hold is a ledger deduction the order keeps: its reward line is applied
// and the ledger will commit it when the sale syncs.
type Hold struct {
	ResourceID     string          `json:"resource_id"`
	RewardID       string          `json:"reward_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Amount         decimal.Decimal `json:"amount"`
	LineID         string          `json:"line_id"`
}

// State is the redemption state of one order.
type State struct {
	inFlight map[string]*InFlight
	holds    map[string]Hold
}

func newState() *State {
	return &State{
		inFlight: make(map[string]*InFlight),
		holds:    make(map[string]Hold),
	}
}

// View is a read-only copy of an order's redemption state.
type View struct {
	InFlight []InFlight `json:"in_flight"`
	Holds    []Hold     `json:"holds"`
}

func (s *State) view() View {
	v := View{
		InFlight: make([]InFlight, 0, len(s.inFlight)),
		Holds:    make([]Hold, 0, len(s.holds)),
	}
	for _, f := range s.inFlight {
		v.InFlight = append(v.InFlight, *f)
	}
	for _, h := range s.holds {
		v.Holds = append(v.Holds, h)
	}
	return v
}
