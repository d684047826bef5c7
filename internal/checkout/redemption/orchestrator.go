// Package redemption runs the reward redemption saga: validate the resource,
// deduct it on the ledger, apply the reward line, and compensate with a
// rollback when anything after the deduction fails.
package redemption

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/georgemunganga/printa-checkout/internal/checkout/ledgerclient"
	"github.com/georgemunganga/printa-checkout/internal/checkout/reconcile"
	"github.com/georgemunganga/printa-checkout/internal/checkout/reward"
	"github.com/georgemunganga/printa-checkout/internal/checkout/sale"
	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/idempotency"
	"github.com/georgemunganga/printa-checkout/internal/logger"
	"github.com/georgemunganga/printa-checkout/internal/metrics"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Journal durably records ledger operations that could not be settled and
// the deductions open orders hold.
type Journal interface {
	Append(rec reconcile.Record) (reconcile.Record, error)
	Resolve(id, note string) (reconcile.Record, error)
	PutHold(h reconcile.PendingHold) error
	DeleteHold(orderID, key string) error
	ListHolds() ([]reconcile.PendingHold, error)
}

// Request asks to redeem Amount of ResourceID for a reward.
type Request struct {
	Reward     reward.Definition
	ResourceID string
	Amount     decimal.Decimal
}

// Outcome describes a finished redemption.
type Outcome struct {
	Line *sale.Line
	// Duplicate is set when the reward was already applied for the resource;
	// no ledger call was made.
	Duplicate bool
	// Replayed is set when the ledger had already processed the deduction.
	Replayed   bool
	OldBalance decimal.Decimal
	NewBalance decimal.Decimal
}

// Orchestrator owns the redemption state of every open order.
type Orchestrator struct {
	ledger     ledgerclient.Client
	applicator *reward.Applicator
	journal    Journal
	keys       *idempotency.Generator
	log        *logger.Logger
	metrics    *metrics.Registry

	mu     sync.Mutex
	states map[string]*State
}

// NewOrchestrator creates an orchestrator. m may be nil.
func NewOrchestrator(l ledgerclient.Client, a *reward.Applicator, j Journal, log *logger.Logger, m *metrics.Registry) *Orchestrator {
	return &Orchestrator{
		ledger:     l,
		applicator: a,
		journal:    j,
		keys:       idempotency.NewGenerator(),
		log:        log,
		metrics:    m,
		states:     make(map[string]*State),
	}
}

// State returns a copy of the order's redemption state.
func (o *Orchestrator) State(orderID string) View {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.states[orderID]
	if !ok {
		return View{InFlight: []InFlight{}, Holds: []Hold{}}
	}
	return st.view()
}

// Holds returns the deductions held by the order, ordered by key.
func (o *Orchestrator) Holds(orderID string) []Hold {
	holds := o.State(orderID).Holds
	sort.Slice(holds, func(i, j int) bool { return holds[i].IdempotencyKey < holds[j].IdempotencyKey })
	return holds
}

// Unsettled returns the order's redemptions whose deduction may still be
// held by the ledger without a reward line.
func (o *Orchestrator) Unsettled(orderID string) []InFlight {
	return lo.Filter(o.State(orderID).InFlight, func(f InFlight, _ int) bool { return f.Unsettled })
}

// Release forgets an order whose holds were committed by a sync.
func (o *Orchestrator) Release(orderID string) {
	o.mu.Lock()
	st, ok := o.states[orderID]
	delete(o.states, orderID)
	o.mu.Unlock()
	if !ok {
		return
	}
	for key := range st.holds {
		o.forget(orderID, key)
	}
}

func (o *Orchestrator) state(orderID string) *State {
	st, ok := o.states[orderID]
	if !ok {
		st = newState()
		o.states[orderID] = st
	}
	return st
}

// reserve claims the in-flight slot for a resource on an order. An unsettled
// flight for the same redemption is handed back so it can be resumed.
func (o *Orchestrator) reserve(orderID string, f *InFlight) (*InFlight, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.state(orderID)
	cur, busy := st.inFlight[f.ResourceID]
	if !busy {
		f.active = true
		st.inFlight[f.ResourceID] = f
		return f, nil
	}
	if cur.active || !cur.Unsettled {
		return nil, ierr.NewErrorf("resource %s already has a redemption in flight", f.ResourceID).
			WithHint("A redemption for this card is still in progress").
			Mark(ierr.ErrRedemptionInFlight)
	}
	if cur.IdempotencyKey != f.IdempotencyKey {
		return nil, ierr.NewErrorf("resource %s has an unsettled redemption %s", f.ResourceID, cur.IdempotencyKey).
			WithHint("An earlier redemption on this card was not confirmed. Retry it or cancel the order").
			Mark(ierr.ErrRedemptionInFlight)
	}
	if !cur.Amount.Equal(f.Amount) {
		return nil, ierr.NewErrorf("unsettled redemption on %s was for %s, not %s", f.ResourceID, cur.Amount, f.Amount).
			WithHintf("Retry the unconfirmed redemption with its original amount of %s", cur.Amount).
			Mark(ierr.ErrValidation)
	}
	cur.active = true
	cur.StartedAt = f.StartedAt
	return cur, nil
}

// clear drops a flight whose deduction is known not to be held.
func (o *Orchestrator) clear(orderID string, f *InFlight) {
	o.mu.Lock()
	if st, ok := o.states[orderID]; ok {
		delete(st.inFlight, f.ResourceID)
	}
	o.mu.Unlock()
	o.forget(orderID, f.IdempotencyKey)
}

// park keeps a flight the ledger may still hold and releases the claim.
func (o *Orchestrator) park(f *InFlight, recordID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f.Unsettled = true
	if recordID != "" {
		f.RecordID = recordID
	}
	f.active = false
}

func (o *Orchestrator) commit(orderID string, f *InFlight, lineID string) Hold {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.state(orderID)
	delete(st.inFlight, f.ResourceID)
	h := Hold{
		ResourceID:     f.ResourceID,
		RewardID:       f.RewardID,
		IdempotencyKey: f.IdempotencyKey,
		Amount:         f.Amount,
		LineID:         lineID,
	}
	st.holds[f.IdempotencyKey] = h
	return h
}

// Redeem runs the saga for one reward on an open order. Retrying a
// redemption left unsettled resumes it at the deduction: the ledger either
// replays the original deduct or performs it now.
func (o *Orchestrator) Redeem(ctx context.Context, order *sale.Order, req Request) (Outcome, error) {
	if !order.IsOpen() {
		return Outcome{}, ierr.NewErrorf("order %s is %s", order.ID(), order.Status()).
			WithHint("Order is closed").
			Mark(ierr.ErrOrderClosed)
	}
	if existing, ok := order.FindRewardLine(req.Reward.RewardID, req.ResourceID); ok {
		o.count(metrics.OutcomeApplied)
		return Outcome{Line: existing, Duplicate: true}, nil
	}

	f, err := o.reserve(order.ID(), &InFlight{
		ResourceID:     req.ResourceID,
		RewardID:       req.Reward.RewardID,
		IdempotencyKey: o.keys.RedemptionKey(order.ID(), req.ResourceID, req.Reward.RewardID),
		Amount:         req.Amount,
		StartedAt:      time.Now().UTC(),
		Phase:          PhaseIdle,
	})
	if err != nil {
		o.count(metrics.OutcomeRejected)
		return Outcome{}, err
	}
	resumed := f.Unsettled
	log := o.log.With(
		"order_id", order.ID(),
		"resource_id", f.ResourceID,
		"reward_id", f.RewardID,
		"idempotency_key", f.IdempotencyKey,
	)

	// ── Idle → Validating ───────────────────────────────────────────────────
	f.advance(PhaseValidating)
	if err := o.validate(ctx, order, req, f, resumed); err != nil {
		f.advance(PhaseIdle)
		o.release(order.ID(), f)
		log.Infow("redemption rejected", "error", err)
		o.count(outcomeFor(err))
		return Outcome{}, err
	}
	if err := o.persist(order, f, reconcile.HoldInFlight, ""); err != nil {
		f.advance(PhaseIdle)
		o.release(order.ID(), f)
		log.Errorw("could not record redemption before deducting", "error", err)
		o.count(metrics.OutcomeFailed)
		return Outcome{}, err
	}

	// ── Validating → Deducted ───────────────────────────────────────────────
	mut, err := o.ledger.Deduct(ctx, f.ResourceID, f.Amount, f.IdempotencyKey)
	replayed := false
	switch {
	case err == nil:
	case ierr.Is(err, ierr.ErrAlreadyProcessed) && mut != nil:
		replayed = true
		log.Infow("deduction already processed by ledger, reusing result")
	case ierr.Is(err, ierr.ErrLedgerUnavailable), ierr.Is(err, ierr.ErrAlreadyProcessed):
		// already_processed without a readable result is as unknown as a timeout
		f.advance(PhaseIdle)
		return Outcome{}, o.settleUnconfirmed(ctx, order, f, err, log)
	default:
		// a refusal means the ledger holds nothing under this key
		f.advance(PhaseIdle)
		o.clear(order.ID(), f)
		if f.RecordID != "" {
			o.resolveRecord(f.RecordID, "ledger refused the retried deduction, nothing is held", log)
		}
		log.Infow("deduction refused", "error", err)
		o.count(outcomeFor(err))
		return Outcome{}, err
	}
	f.PreBalance, f.PostBalance = mut.OldBalance, mut.NewBalance
	f.advance(PhaseDeducted)
	log.Infow("resource deducted", "amount", f.Amount, "old_balance", f.PreBalance, "new_balance", f.PostBalance)

	// ── Deducted → Applied ──────────────────────────────────────────────────
	res, applyErr := o.applicator.Apply(order, req.Reward, f.ResourceID, f.Amount, f.IdempotencyKey)
	if applyErr == nil {
		f.advance(PhaseApplied)
		recordID := f.RecordID
		f.RecordID = ""
		h := o.commit(order.ID(), f, res.Line.ID)
		if err := o.persist(order, f, reconcile.HoldApplied, h.LineID); err != nil {
			log.Errorw("could not record applied redemption", "error", err)
		}
		if recordID != "" {
			o.resolveRecord(recordID, "deduction confirmed by retry", log)
		}
		log.Infow("reward applied", "line_id", res.Line.ID, "duplicate", res.Duplicate, "resumed", resumed)
		o.count(metrics.OutcomeApplied)
		return Outcome{
			Line:       res.Line,
			Duplicate:  res.Duplicate,
			Replayed:   replayed,
			OldBalance: f.PreBalance,
			NewBalance: f.PostBalance,
		}, nil
	}

	// ── Deducted → RollingBack → RolledBack ─────────────────────────────────
	f.advance(PhaseRollingBack)
	log.Warnw("reward apply failed, rolling back", "error", applyErr)
	if rbErr := o.rollback(ctx, f.ResourceID, f.Amount, f.IdempotencyKey); rbErr != nil {
		f.advance(PhaseIdle)
		o.strand(order, f, reconcile.KindRollbackFailed, rbErr, log)
		o.count(metrics.OutcomeJournaled)
		return Outcome{}, ierr.WithError(rbErr).
			WithHintf("Reward could not be applied and %s was not refunded; a reconciliation record was written", f.ResourceID).
			Mark(ierr.ErrManualReconciliationRequired)
	}
	f.advance(PhaseRolledBack)
	o.clear(order.ID(), f)
	if f.RecordID != "" {
		o.resolveRecord(f.RecordID, "deduction rolled back on retry", log)
	}
	log.Infow("deduction rolled back")
	o.count(metrics.OutcomeRolledBack)
	return Outcome{}, applyErr
}

// release gives up the claim after a failure that touched nothing: a new
// flight is dropped, a resumed one stays unsettled.
func (o *Orchestrator) release(orderID string, f *InFlight) {
	if f.Unsettled {
		o.park(f, "")
		return
	}
	o.clear(orderID, f)
}

func (o *Orchestrator) validate(ctx context.Context, order *sale.Order, req Request, f *InFlight, resumed bool) error {
	if !req.Amount.IsPositive() {
		return ierr.NewErrorf("redeem amount %s is not positive", req.Amount).
			WithHint("Enter an amount greater than zero").
			Mark(ierr.ErrValidation)
	}
	// a resumed flight may already be deducted, so the balance no longer
	// covers it; the ledger decides on the retried deduct
	if !resumed {
		bal, err := o.ledger.CheckBalance(ctx, req.ResourceID)
		if err != nil {
			return err
		}
		if req.Amount.GreaterThan(bal.Balance) {
			return ierr.NewErrorf("redeem %s exceeds balance %s", req.Amount, bal.Balance).
				WithHintf("Only %s is available on %s", bal.Balance, req.ResourceID).
				Mark(ierr.ErrInsufficientBalance)
		}
		if bal.SingleUse && !req.Amount.Equal(bal.Balance) {
			return ierr.NewErrorf("single-use resource %s must be redeemed in full", req.ResourceID).
				WithHintf("This card must be redeemed for its full value of %s", bal.Balance).
				Mark(ierr.ErrValidation)
		}
		f.PreBalance = bal.Balance
	}
	return o.applicator.Preview(order, req.Reward, req.Amount)
}

// rollback treats NothingToRollback and a replayed rollback as success: the
// ledger holds nothing under key.
func (o *Orchestrator) rollback(ctx context.Context, resourceID string, amount decimal.Decimal, key string) error {
	_, err := o.ledger.Rollback(ctx, resourceID, amount, key)
	if err == nil || ierr.Is(err, ierr.ErrNothingToRollback) || ierr.Is(err, ierr.ErrAlreadyProcessed) {
		o.countRollback(metrics.OutcomeRolledBack)
		return nil
	}
	o.countRollback(metrics.OutcomeFailed)
	return err
}

// settleUnconfirmed runs after a deduct whose outcome is unknown. A rollback
// with the same key undoes it if it landed. If that fails too the flight is
// kept unsettled and journaled.
func (o *Orchestrator) settleUnconfirmed(ctx context.Context, order *sale.Order, f *InFlight, cause error, log *logger.Logger) error {
	if err := o.rollback(ctx, f.ResourceID, f.Amount, f.IdempotencyKey); err == nil {
		o.clear(order.ID(), f)
		if f.RecordID != "" {
			o.resolveRecord(f.RecordID, "unconfirmed deduction rolled back on retry", log)
		}
		log.Warnw("deduction unconfirmed, rolled back", "error", cause)
		o.count(metrics.OutcomeFailed)
		return cause
	}
	o.strand(order, f, reconcile.KindDeductUnconfirmed, cause, log)
	o.count(metrics.OutcomeJournaled)
	return ierr.WithError(cause).
		WithHintf("Ledger did not confirm the deduction on %s. Retry the redemption or cancel the order; a reconciliation record was written", f.ResourceID).
		Mark(ierr.ErrManualReconciliationRequired)
}

// strand parks a flight whose deduction may be held. The first failure
// writes a reconciliation record; a failed retry reuses it.
func (o *Orchestrator) strand(order *sale.Order, f *InFlight, kind reconcile.Kind, cause error, log *logger.Logger) {
	recordID := f.RecordID
	if recordID == "" {
		recordID = o.journalFailure(recordFor(order, f, kind, cause), log).ID
	}
	o.park(f, recordID)
	if err := o.persist(order, f, reconcile.HoldUnconfirmed, ""); err != nil {
		log.Errorw("could not record unsettled redemption", "error", err)
	}
}

func recordFor(order *sale.Order, f *InFlight, kind reconcile.Kind, cause error) reconcile.Record {
	return reconcile.Record{
		Kind:           kind,
		OrderID:        order.ID(),
		Reference:      order.Reference(),
		ResourceID:     f.ResourceID,
		RewardID:       f.RewardID,
		IdempotencyKey: f.IdempotencyKey,
		Amount:         f.Amount,
		Error:          cause.Error(),
	}
}

func (o *Orchestrator) journalFailure(rec reconcile.Record, log *logger.Logger) reconcile.Record {
	rec, err := o.journal.Append(rec)
	if err != nil {
		log.Errorw("reconciliation journal write failed", "kind", rec.Kind, "cause", rec.Error, "error", err)
		return reconcile.Record{}
	}
	log.Errorw("reconciliation record written", "record_id", rec.ID, "kind", rec.Kind, "cause", rec.Error)
	if o.metrics != nil {
		o.metrics.ReconciliationOpen.Inc()
		o.metrics.Rollbacks.WithLabelValues(metrics.OutcomeJournaled).Inc()
	}
	return rec
}

func (o *Orchestrator) resolveRecord(id, note string, log *logger.Logger) {
	if _, err := o.journal.Resolve(id, note); err != nil {
		log.Warnw("could not resolve reconciliation record", "record_id", id, "error", err)
		return
	}
	if o.metrics != nil {
		o.metrics.ReconciliationOpen.Dec()
	}
}

// persist mirrors a flight or hold to the journal so it outlives the process.
func (o *Orchestrator) persist(order *sale.Order, f *InFlight, state reconcile.HoldState, lineID string) error {
	return o.journal.PutHold(reconcile.PendingHold{
		OrderID:        order.ID(),
		Reference:      order.Reference(),
		ResourceID:     f.ResourceID,
		RewardID:       f.RewardID,
		IdempotencyKey: f.IdempotencyKey,
		Amount:         f.Amount,
		LineID:         lineID,
		State:          state,
		RecordID:       f.RecordID,
	})
}

func (o *Orchestrator) forget(orderID, key string) {
	if err := o.journal.DeleteHold(orderID, key); err != nil {
		o.log.Warnw("could not drop persisted hold", "order_id", orderID, "idempotency_key", key, "error", err)
	}
}

// Reverse rolls back the deduction behind a reward line and removes the
// line. A failed rollback leaves the line in place and is safe to retry.
func (o *Orchestrator) Reverse(ctx context.Context, order *sale.Order, lineID string) error {
	if !order.IsOpen() {
		return ierr.NewErrorf("order %s is %s", order.ID(), order.Status()).Mark(ierr.ErrOrderClosed)
	}
	line, ok := order.Line(lineID)
	if !ok {
		return ierr.NewErrorf("line %s not found", lineID).Mark(ierr.ErrNotFound)
	}
	if !line.IsReward() {
		return ierr.NewErrorf("line %s is not a reward line", lineID).
			WithHint("Only reward lines can be reversed").
			Mark(ierr.ErrInvalidOperation)
	}
	link := line.Reward
	log := o.log.With("order_id", order.ID(), "resource_id", link.ResourceID, "idempotency_key", link.IdempotencyKey)

	o.mu.Lock()
	cur, ok := o.state(order.ID()).inFlight[link.ResourceID]
	busy := ok && cur.active
	o.mu.Unlock()
	if busy {
		return ierr.NewErrorf("resource %s has a redemption in flight", link.ResourceID).
			WithHint("A redemption for this card is still in progress").
			Mark(ierr.ErrRedemptionInFlight)
	}

	if err := o.rollback(ctx, link.ResourceID, link.Cost, link.IdempotencyKey); err != nil {
		log.Warnw("reversal rollback failed, keeping reward line", "error", err)
		return err
	}
	if err := o.applicator.Remove(order, lineID); err != nil {
		return err
	}

	o.mu.Lock()
	delete(o.state(order.ID()).holds, link.IdempotencyKey)
	o.mu.Unlock()
	o.forget(order.ID(), link.IdempotencyKey)
	log.Infow("redemption reversed", "line_id", lineID)
	return nil
}

// Abandon rolls back every deduction the order holds before it is
// discarded, unsettled ones included. Rollbacks that fail are journaled and
// reported together as ErrManualReconciliationRequired; the order's state is
// dropped either way.
func (o *Orchestrator) Abandon(ctx context.Context, order *sale.Order) error {
	o.mu.Lock()
	st, ok := o.states[order.ID()]
	var pending []InFlight
	if ok {
		for _, f := range st.inFlight {
			pending = append(pending, *f)
		}
		for _, h := range st.holds {
			pending = append(pending, InFlight{
				ResourceID:     h.ResourceID,
				RewardID:       h.RewardID,
				IdempotencyKey: h.IdempotencyKey,
				Amount:         h.Amount,
				Phase:          PhaseApplied,
			})
		}
	}
	delete(o.states, order.ID())
	o.mu.Unlock()

	log := o.log.With("order_id", order.ID())
	failed := 0
	for i := range pending {
		f := &pending[i]
		flog := log.With("resource_id", f.ResourceID, "idempotency_key", f.IdempotencyKey)
		if err := o.rollback(ctx, f.ResourceID, f.Amount, f.IdempotencyKey); err != nil {
			failed++
			if f.RecordID == "" {
				o.journalFailure(recordFor(order, f, reconcile.KindAbandonFailed, err), flog)
			}
		} else if f.RecordID != "" {
			o.resolveRecord(f.RecordID, "rolled back when the order was cancelled", flog)
		}
		o.forget(order.ID(), f.IdempotencyKey)
	}
	if failed > 0 {
		return ierr.NewErrorf("%d of %d rollbacks failed while abandoning order %s", failed, len(pending), order.ID()).
			WithHintf("%d redemption(s) could not be refunded; reconciliation records were written", failed).
			Mark(ierr.ErrManualReconciliationRequired)
	}
	log.Infow("order abandoned", "rolled_back", len(pending))
	return nil
}

// Recovery summarizes a Recover run.
type Recovery struct {
	RolledBack int
	Committed  int
	Failed     int
}

// Recover gives back the deductions held by orders a previous process lost.
// It must run before any order is opened. Holds whose sale already synced
// are only forgotten; holds that cannot be rolled back are journaled.
func (o *Orchestrator) Recover(ctx context.Context) (Recovery, error) {
	var out Recovery
	holds, err := o.journal.ListHolds()
	if err != nil {
		return out, err
	}
	for _, h := range holds {
		log := o.log.With("order_id", h.OrderID, "resource_id", h.ResourceID, "idempotency_key", h.IdempotencyKey, "state", h.State)
		err := o.rollback(ctx, h.ResourceID, h.Amount, h.IdempotencyKey)
		switch {
		case err == nil:
			out.RolledBack++
			if h.RecordID != "" {
				o.resolveRecord(h.RecordID, "rolled back after terminal restart", log)
			}
			log.Infow("orphaned hold rolled back")
		case ierr.IsInvalidOperation(err):
			// the ledger refuses to roll back committed holds: the sale synced
			out.Committed++
			log.Infow("orphaned hold belongs to a synced sale")
		default:
			out.Failed++
			if h.RecordID == "" {
				o.journalFailure(reconcile.Record{
					Kind:           reconcile.KindRecoveryFailed,
					OrderID:        h.OrderID,
					Reference:      h.Reference,
					ResourceID:     h.ResourceID,
					RewardID:       h.RewardID,
					IdempotencyKey: h.IdempotencyKey,
					Amount:         h.Amount,
					Error:          err.Error(),
				}, log)
			}
		}
		o.forget(h.OrderID, h.IdempotencyKey)
	}
	return out, nil
}

func (o *Orchestrator) count(outcome string) {
	if o.metrics != nil {
		o.metrics.Redemptions.WithLabelValues(outcome).Inc()
	}
}

func (o *Orchestrator) countRollback(outcome string) {
	if o.metrics != nil {
		o.metrics.Rollbacks.WithLabelValues(outcome).Inc()
	}
}

func outcomeFor(err error) string {
	if ierr.Is(err, ierr.ErrLedgerUnavailable) {
		return metrics.OutcomeFailed
	}
	return metrics.OutcomeRejected
}
