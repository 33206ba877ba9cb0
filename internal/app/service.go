// Package service runs a weighted token distribution end to end: ingest the
// recipient source, allocate the holder balance, plan batches around the
// checkpoint, execute them one at a time and report.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/okian/airdrop/internal/adapters/checkpoint"
	"github.com/okian/airdrop/internal/adapters/ledger"
	"github.com/okian/airdrop/internal/domain/allocation"
	"github.com/okian/airdrop/internal/domain/model"
	"github.com/okian/airdrop/internal/domain/planner"
	"github.com/okian/airdrop/internal/domain/recipient"
	"github.com/okian/airdrop/internal/report"
	"github.com/okian/airdrop/pkg/logger"
	"github.com/okian/airdrop/pkg/metrics"
)

// Default engine configuration constants.
const (
	defaultBatchSize = 40
	defaultSkipLines = 1
)

// Engine is the run controller. One Engine runs at most one distribution at a time.
type Engine struct {
	mu sync.RWMutex

	// Collaborators
	ledger ledger.Ledger
	store  checkpoint.Store
	holder common.Address

	// Configuration
	batchSize  int
	batchDelay time.Duration
	skipLines  int
	policy     recipient.DuplicatePolicy
	reportFile string

	// State
	running  bool
	reporter *report.Reporter

	logger logger.Logger
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithBatchSize sets the number of recipients per transaction.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithBatchDelay sets a pause between consecutive batches.
func WithBatchDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.batchDelay = d
		}
	}
}

// WithSkipLines sets how many header lines of the source are ignored.
func WithSkipLines(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.skipLines = n
		}
	}
}

// WithDuplicatePolicy sets how repeated addresses are handled.
func WithDuplicatePolicy(p recipient.DuplicatePolicy) Option {
	return func(e *Engine) {
		if p != "" {
			e.policy = p
		}
	}
}

// WithReportFile makes every Run write the reconciliation export to path when it ends.
func WithReportFile(path string) Option {
	return func(e *Engine) {
		e.reportFile = path
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New constructs an Engine that pays out of holder's balance on l and
// records progress in store.
func New(l ledger.Ledger, store checkpoint.Store, holder common.Address, opts ...Option) *Engine {
	e := &Engine{
		ledger:    l,
		store:     store,
		holder:    holder,
		batchSize: defaultBatchSize,
		skipLines: defaultSkipLines,
		policy:    recipient.DuplicateReject,
		logger:    logger.Nop(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// RunFile opens path and runs the distribution over it.
func (e *Engine) RunFile(ctx context.Context, path string) (report.Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return report.Summary{}, fmt.Errorf("%w: %w", ErrSource, err)
	}
	defer f.Close()
	return e.Run(ctx, f)
}

// Run executes one invocation of the distribution over src. It always returns
// the summary accumulated so far, even on error.
func (e *Engine) Run(ctx context.Context, src io.Reader) (summary report.Summary, err error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return report.Summary{}, ErrRunInProgress
	}
	runID := uuid.NewString()
	rep := report.New(runID)
	e.running = true
	e.reporter = rep
	e.mu.Unlock()

	log := e.logger.With(logger.String("run_id", runID))

	var (
		records  []model.AllocationRecord
		unparsed []model.UnparsedLine
	)
	defer func() {
		if err != nil {
			rep.Abort(err)
			metrics.RecordErrorByComponent("engine", errorKind(err))
			log.Error(ctx, "distribution aborted", logger.Error(err))
		}
		e.finish(ctx, log, rep, records, unparsed)
		summary = rep.Summary()

		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	log.Info(ctx, "distribution starting",
		logger.String("holder", e.holder.Hex()),
		logger.Int("batchSize", e.batchSize),
		logger.String("duplicatePolicy", string(e.policy)),
	)

	// LOADING
	if err := rep.Transition(report.StateLoading); err != nil {
		return summary, err
	}
	recipients, skipped, stats, err := e.load(ctx, src, log)
	rep.SetIngestion(stats.LinesRead, stats.LinesSkipped, len(recipients))
	if err != nil {
		return summary, err
	}
	unparsed = skipped

	// ALLOCATING
	if err := rep.Transition(report.StateAllocating); err != nil {
		return summary, err
	}
	plan, err := e.allocate(ctx, recipients, rep, log)
	if err != nil {
		return summary, err
	}
	records = plan.Records

	planned, err := planner.Plan(ctx, plan.Records, e.store, e.batchSize)
	if err != nil {
		return summary, fmt.Errorf("plan batches: %w", err)
	}
	rep.SetPlan(len(planned.Batches), planned.Pending, planned.AlreadyCompleted, planned.ZeroAmount)
	log.Info(ctx, "batches planned",
		logger.Int("batches", len(planned.Batches)),
		logger.Int("pending", planned.Pending),
		logger.Int("alreadyCompleted", planned.AlreadyCompleted),
		logger.Int("zeroAmount", planned.ZeroAmount),
	)

	// EXECUTING
	if err := e.execute(ctx, planned.Batches, rep, log); err != nil {
		return summary, err
	}

	if err := rep.Transition(report.StateCompleted); err != nil {
		return summary, err
	}
	log.Info(ctx, "distribution completed")
	return summary, nil
}

// load drains the source into recipients, applying the duplicate policy. It
// also returns the lines that could not be parsed; superseded duplicates are
// not among them.
func (e *Engine) load(ctx context.Context, src io.Reader, log logger.Logger) ([]model.Recipient, []model.UnparsedLine, recipient.Stats, error) {
	var (
		reader   *recipient.Reader
		unparsed []model.UnparsedLine
	)
	reader = recipient.NewReader(src,
		recipient.WithSkipLines(e.skipLines),
		recipient.WithLogger(log.Named("recipient")),
		recipient.WithSkipHandler(func(perr recipient.ParseError) {
			if perr.Reason == recipient.ReasonDuplicate {
				return
			}
			// Every line read and not skipped is a distinct recipient so far.
			st := reader.Stats()
			unparsed = append(unparsed, model.UnparsedLine{
				Line:    perr.Line,
				Address: perr.Field,
				After:   st.LinesRead - st.LinesSkipped,
			})
		}),
	)
	recipients, err := recipient.Collect(ctx, reader, e.policy)
	stats := reader.Stats()
	if err != nil {
		if errors.Is(err, recipient.ErrDuplicateRecipient) || ctx.Err() != nil {
			return nil, nil, stats, fmt.Errorf("load recipients: %w", err)
		}
		return nil, nil, stats, fmt.Errorf("%w: %w", ErrSource, err)
	}

	log.Info(ctx, "recipients loaded",
		logger.Int("recipients", len(recipients)),
		logger.Int("linesRead", stats.LinesRead),
		logger.Int("linesSkipped", stats.LinesSkipped),
	)
	return recipients, unparsed, stats, nil
}

// allocate splits the run's total balance. The total is the holder's current
// balance plus everything already checkpointed, so a resumed run computes the
// same amounts as the first invocation did.
func (e *Engine) allocate(ctx context.Context, recipients []model.Recipient, rep *report.Reporter, log logger.Logger) (*allocation.Plan, error) {
	balance, err := e.ledger.Balance(ctx, e.holder)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", allocation.ErrBalanceUnavailable, err)
	}
	if balance == nil {
		return nil, allocation.ErrBalanceUnavailable
	}
	rep.SetBalanceBefore(balance)

	done, err := e.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	distributed := new(big.Int)
	for _, res := range done {
		distributed.Add(distributed, res.Amount)
	}
	total := new(big.Int).Add(balance, distributed)

	plan, err := allocation.Compute(total, recipients)
	if err != nil {
		return nil, fmt.Errorf("allocate: %w", err)
	}
	rep.SetAllocation(plan.TotalBalance, plan.TotalWeight, plan.Remainder())

	log.Info(ctx, "allocation computed",
		logger.String("balance", model.FormatUnits(balance)),
		logger.String("alreadyDistributed", model.FormatUnits(distributed)),
		logger.String("totalBalance", model.FormatUnits(plan.TotalBalance)),
		logger.String("totalWeight", model.FormatUnits(plan.TotalWeight)),
		logger.String("remainder", plan.Remainder().String()),
	)
	return plan, nil
}

// finish records the closing balance, emits the summary and writes the export.
func (e *Engine) finish(ctx context.Context, log logger.Logger, rep *report.Reporter, records []model.AllocationRecord, unparsed []model.UnparsedLine) {
	ctx = context.WithoutCancel(ctx)

	if rep.Summary().BalanceBefore != nil {
		if after, err := e.ledger.Balance(ctx, e.holder); err != nil {
			log.Warn(ctx, "failed to read closing balance", logger.Error(err))
		} else {
			rep.SetBalanceAfter(after)
		}
	}

	rep.Emit(ctx, log)

	if e.reportFile == "" || records == nil {
		return
	}
	if err := e.writeExport(ctx, e.reportFile, records, unparsed); err != nil {
		log.Error(ctx, "failed to write reconciliation export",
			logger.String("path", e.reportFile),
			logger.Error(err),
		)
		return
	}
	log.Info(ctx, "reconciliation export written", logger.String("path", e.reportFile))
}

// Export writes the reconciliation for src against the checkpoint without
// touching the ledger. Amounts come from the checkpoint, so allocation is not needed.
func (e *Engine) Export(ctx context.Context, src io.Reader, path string) error {
	recipients, unparsed, _, err := e.load(ctx, src, e.logger)
	if err != nil {
		return err
	}
	records := make([]model.AllocationRecord, len(recipients))
	for i, r := range recipients {
		records[i] = model.AllocationRecord{Address: r.Address, Weight: r.Weight, Amount: new(big.Int)}
	}
	return e.writeExport(ctx, path, records, unparsed)
}

func (e *Engine) writeExport(ctx context.Context, path string, records []model.AllocationRecord, unparsed []model.UnparsedLine) error {
	results, err := e.store.All(ctx)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	return report.ExportFile(path, records, unparsed, results)
}

// Preview loads and allocates src and returns the batches a Run would submit.
// Nothing is sent.
func (e *Engine) Preview(ctx context.Context, src io.Reader) (planner.Result, report.Summary, error) {
	rep := report.New("preview")
	recipients, _, stats, err := e.load(ctx, src, e.logger)
	rep.SetIngestion(stats.LinesRead, stats.LinesSkipped, len(recipients))
	if err != nil {
		return planner.Result{}, rep.Summary(), err
	}
	plan, err := e.allocate(ctx, recipients, rep, e.logger)
	if err != nil {
		return planner.Result{}, rep.Summary(), err
	}
	res, err := planner.Plan(ctx, plan.Records, e.store, e.batchSize)
	if err != nil {
		return planner.Result{}, rep.Summary(), fmt.Errorf("plan batches: %w", err)
	}
	rep.SetPlan(len(res.Batches), res.Pending, res.AlreadyCompleted, res.ZeroAmount)
	return res, rep.Summary(), nil
}

// Summary returns the current or last run's snapshot. ok is false before any run.
func (e *Engine) Summary() (report.Summary, bool) {
	e.mu.RLock()
	rep := e.reporter
	e.mu.RUnlock()
	if rep == nil {
		return report.Summary{}, false
	}
	return rep.Summary(), true
}

// GetStats returns engine statistics for monitoring.
func (e *Engine) GetStats() map[string]interface{} {
	e.mu.RLock()
	running := e.running
	e.mu.RUnlock()

	stats := map[string]interface{}{
		"running":   running,
		"holder":    e.holder.Hex(),
		"batchSize": e.batchSize,
	}
	if s, ok := e.Summary(); ok {
		stats["run"] = s
	}
	return stats
}

func errorKind(err error) string {
	var execErr *ExecutionError
	var cpErr *CheckpointError
	switch {
	case errors.As(err, &execErr):
		return "execution"
	case errors.As(err, &cpErr):
		return "checkpoint"
	case errors.Is(err, ErrSource):
		return "source"
	case errors.Is(err, allocation.ErrZeroTotalWeight), errors.Is(err, allocation.ErrBalanceUnavailable):
		return "allocation"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
