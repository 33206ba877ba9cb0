// Package report accumulates run counters, tracks the run state machine and
// writes the reconciliation export.
package report

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/okian/airdrop/internal/domain/model"
	"github.com/okian/airdrop/pkg/logger"
	"github.com/okian/airdrop/pkg/metrics"
)

// ErrIllegalTransition is returned when a state change skips a stage.
var ErrIllegalTransition = errors.New("illegal run state transition")

// UnconfirmedBatch is a batch the ledger confirmed but the checkpoint did not record.
// Its recipients stay pending and would be paid again on the next run.
type UnconfirmedBatch struct {
	Batch           int         `json:"batch"`
	TransactionHash common.Hash `json:"transactionHash"`
	Recipients      int         `json:"recipients"`
	Reason          string      `json:"reason"`
}

// Summary is an immutable snapshot of a run.
type Summary struct {
	RunID        string    `json:"runId"`
	State        State     `json:"state"`
	Reason       string    `json:"reason,omitempty"`
	CurrentBatch int       `json:"currentBatch"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt,omitzero"`

	LinesRead    int      `json:"linesRead"`
	LinesSkipped int      `json:"linesSkipped"`
	Recipients   int      `json:"recipients"`
	TotalWeight  *big.Int `json:"totalWeight"`
	TotalBalance *big.Int `json:"totalBalance"`

	AlreadyCompleted      int `json:"alreadyCompleted"`
	ZeroAmount            int `json:"zeroAmount"`
	Pending               int `json:"pending"`
	RecipientsDistributed int `json:"recipientsDistributed"`
	BatchesPlanned        int `json:"batchesPlanned"`
	BatchesSent           int `json:"batchesSent"`

	GasUsed   uint64   `json:"gasUsed"`
	TotalCost *big.Int `json:"totalCost"`
	Committed *big.Int `json:"committed"`
	Remainder *big.Int `json:"remainder"`

	BalanceBefore *big.Int `json:"balanceBefore"`
	BalanceAfter  *big.Int `json:"balanceAfter"`

	Unconfirmed []UnconfirmedBatch `json:"unconfirmed,omitempty"`
}

// Reporter is safe for one writer (the engine) and many readers.
type Reporter struct {
	mu sync.RWMutex
	s  Summary
}

// New returns a reporter in StateInit.
func New(runID string) *Reporter {
	metrics.UpdateRunState(int(StateInit))
	return &Reporter{s: Summary{
		RunID:       runID,
		State:       StateInit,
		StartedAt:   time.Now(),
		TotalWeight: new(big.Int),
		TotalCost:   new(big.Int),
		Committed:   new(big.Int),
		Remainder:   new(big.Int),
	}}
}

// Transition moves the run to next. Executing(batch) should be used for EXECUTING.
func (r *Reporter) Transition(next State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.moveLocked(next)
}

// Executing enters EXECUTING for the given 1-based batch.
func (r *Reporter) Executing(batch int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.moveLocked(StateExecuting); err != nil {
		return err
	}
	r.s.CurrentBatch = batch
	return nil
}

// Abort moves the run to ABORTED and records why. Aborting a finished run is a no-op.
func (r *Reporter) Abort(reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s.State.Terminal() {
		return
	}
	_ = r.moveLocked(StateAborted)
	if reason != nil {
		r.s.Reason = reason.Error()
	}
}

func (r *Reporter) moveLocked(next State) error {
	if !canMove(r.s.State, next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, r.s.State, next)
	}
	r.s.State = next
	if next.Terminal() {
		r.s.FinishedAt = time.Now()
	}
	metrics.UpdateRunState(int(next))
	return nil
}

// State returns the current state.
func (r *Reporter) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s.State
}

// SetIngestion records what the recipient reader saw.
func (r *Reporter) SetIngestion(linesRead, linesSkipped, recipients int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.LinesRead = linesRead
	r.s.LinesSkipped = linesSkipped
	r.s.Recipients = recipients
}

// SetAllocation records the balance that was split, the weight it was split
// by and the undistributed truncation dust.
func (r *Reporter) SetAllocation(totalBalance, totalWeight, remainder *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.TotalBalance = copyInt(totalBalance)
	r.s.TotalWeight = copyInt(totalWeight)
	r.s.Remainder = copyInt(remainder)
}

// SetPlan records the planner outcome.
func (r *Reporter) SetPlan(batches, pending, alreadyCompleted, zeroAmount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.BatchesPlanned = batches
	r.s.Pending = pending
	r.s.AlreadyCompleted = alreadyCompleted
	r.s.ZeroAmount = zeroAmount
	metrics.UpdatePendingRecipients(pending)
}

// SetBalanceBefore records the holder balance at the start of the run.
func (r *Reporter) SetBalanceBefore(v *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.BalanceBefore = copyInt(v)
}

// SetBalanceAfter records the holder balance at the end of the run.
func (r *Reporter) SetBalanceAfter(v *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.BalanceAfter = copyInt(v)
}

// RecordBatch adds a confirmed and checkpointed batch to the totals.
func (r *Reporter) RecordBatch(b model.Batch, receipt model.Receipt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.BatchesSent++
	r.s.GasUsed += receipt.GasUsed
	r.s.TotalCost.Add(r.s.TotalCost, receipt.Cost())
	r.s.Committed.Add(r.s.Committed, b.Total())
	r.s.RecipientsDistributed += len(b.Records)
	r.s.Pending -= len(b.Records)
	metrics.UpdatePendingRecipients(r.s.Pending)
}

// RecordUnconfirmed notes a batch that executed on the ledger but was not checkpointed.
// Gas and cost are still counted because they were spent.
func (r *Reporter) RecordUnconfirmed(b model.Batch, receipt model.Receipt, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.BatchesSent++
	r.s.GasUsed += receipt.GasUsed
	r.s.TotalCost.Add(r.s.TotalCost, receipt.Cost())
	u := UnconfirmedBatch{
		Batch:           b.Index,
		TransactionHash: receipt.TransactionHash,
		Recipients:      len(b.Records),
	}
	if cause != nil {
		u.Reason = cause.Error()
	}
	r.s.Unconfirmed = append(r.s.Unconfirmed, u)
	metrics.RecordUnconfirmedBatch()
}

// Summary returns a deep copy of the current totals.
func (r *Reporter) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.s
	s.TotalWeight = copyInt(r.s.TotalWeight)
	s.TotalBalance = copyInt(r.s.TotalBalance)
	s.TotalCost = copyInt(r.s.TotalCost)
	s.Committed = copyInt(r.s.Committed)
	s.Remainder = copyInt(r.s.Remainder)
	s.BalanceBefore = copyInt(r.s.BalanceBefore)
	s.BalanceAfter = copyInt(r.s.BalanceAfter)
	s.Unconfirmed = append([]UnconfirmedBatch(nil), r.s.Unconfirmed...)
	return s
}

// Verify checks balanceBefore - balanceAfter == committed. ok is false when
// either balance is unknown.
func (s Summary) Verify() (spent *big.Int, ok, match bool) {
	if s.BalanceBefore == nil || s.BalanceAfter == nil {
		return nil, false, false
	}
	spent = new(big.Int).Sub(s.BalanceBefore, s.BalanceAfter)
	return spent, true, spent.Cmp(s.Committed) == 0
}

// Emit logs the summary, the balance verification and every unconfirmed batch.
func (r *Reporter) Emit(ctx context.Context, log logger.Logger) {
	s := r.Summary()

	log.Info(ctx, "distribution summary",
		logger.String("runId", s.RunID),
		logger.Stringer("state", s.State),
		logger.String("reason", s.Reason),
		logger.Int("linesRead", s.LinesRead),
		logger.Int("linesSkipped", s.LinesSkipped),
		logger.Int("recipients", s.Recipients),
		logger.String("totalWeight", model.FormatUnits(s.TotalWeight)),
		logger.String("totalBalance", formatOptional(s.TotalBalance)),
		logger.Int("alreadyCompleted", s.AlreadyCompleted),
		logger.Int("zeroAmount", s.ZeroAmount),
		logger.Int("recipientsDistributed", s.RecipientsDistributed),
		logger.Int("pending", s.Pending),
		logger.Int("batchesSent", s.BatchesSent),
		logger.Int("batchesPlanned", s.BatchesPlanned),
		logger.Uint64("gasUsed", s.GasUsed),
		logger.String("totalCostWei", s.TotalCost.String()),
		logger.String("committed", model.FormatUnits(s.Committed)),
		logger.String("remainder", s.Remainder.String()),
		logger.String("balanceBefore", formatOptional(s.BalanceBefore)),
		logger.String("balanceAfter", formatOptional(s.BalanceAfter)),
		logger.Int64("durationMs", s.duration().Milliseconds()),
	)

	spent, ok, match := s.Verify()
	switch {
	case !ok:
		log.Warn(ctx, "balance verification skipped: balance unknown")
	case match:
		log.Info(ctx, "balance verified",
			logger.String("spent", model.FormatUnits(spent)),
			logger.String("committed", model.FormatUnits(s.Committed)),
		)
	default:
		log.Warn(ctx, "balance mismatch",
			logger.String("spent", spent.String()),
			logger.String("committed", s.Committed.String()),
			logger.String("difference", new(big.Int).Sub(spent, s.Committed).String()),
		)
	}

	for _, u := range s.Unconfirmed {
		log.Error(ctx, "batch executed but unconfirmed locally",
			logger.Int("batch", u.Batch),
			logger.String("txHash", u.TransactionHash.Hex()),
			logger.Int("recipients", u.Recipients),
			logger.String("reason", u.Reason),
		)
	}
}

func (s Summary) duration() time.Duration {
	end := s.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartedAt)
}

func formatOptional(v *big.Int) string {
	if v == nil {
		return "unknown"
	}
	return model.FormatUnits(v)
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
