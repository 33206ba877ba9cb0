package service

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/airdrop/internal/domain/model"
	"github.com/okian/airdrop/internal/report"
	"github.com/okian/airdrop/pkg/logger"
	"github.com/okian/airdrop/pkg/metrics"
)

// execute submits batches strictly in order with one transaction in flight.
// Cancellation is only observed between batches.
func (e *Engine) execute(ctx context.Context, batches []model.Batch, rep *report.Reporter, log logger.Logger) error {
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("interrupted before batch %d of %d: %w", b.Index, len(batches), err)
		}
		if err := rep.Executing(b.Index); err != nil {
			return err
		}
		if err := e.executeBatch(ctx, b, rep, log); err != nil {
			return err
		}

		if e.batchDelay > 0 && i < len(batches)-1 {
			timer := time.NewTimer(e.batchDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("interrupted after batch %d of %d: %w", b.Index, len(batches), ctx.Err())
			case <-timer.C:
			}
		}
	}
	return nil
}

// executeBatch sends one batch and checkpoints it. The submission and the
// checkpoint write run detached from ctx so an interrupt cannot leave a batch
// half sent or sent but unrecorded.
func (e *Engine) executeBatch(ctx context.Context, b model.Batch, rep *report.Reporter, log logger.Logger) error {
	inflight := context.WithoutCancel(ctx)

	log.Info(ctx, "submitting batch",
		logger.Int("batch", b.Index),
		logger.Int("recipients", len(b.Records)),
		logger.String("amount", model.FormatUnits(b.Total())),
	)

	start := time.Now()
	receipt, err := e.ledger.SubmitBatchTransfer(inflight, b.Addresses(), b.Amounts())
	latencyMs := float64(time.Since(start).Nanoseconds()) / 1e6
	if err != nil {
		metrics.RecordBatchFailed(latencyMs)
		return &ExecutionError{Batch: b.Index, Err: err}
	}
	metrics.RecordBatchConfirmed(len(b.Records), receipt.GasUsed, latencyMs)

	if err := e.commit(inflight, b, receipt); err != nil {
		rep.RecordUnconfirmed(b, receipt, err)
		return &CheckpointError{Batch: b.Index, TransactionHash: receipt.TransactionHash, Err: err}
	}

	rep.RecordBatch(b, receipt)
	metrics.RecordRecipientsDistributed(len(b.Records))

	log.Info(ctx, "batch confirmed",
		logger.Int("batch", b.Index),
		logger.String("txHash", receipt.TransactionHash.Hex()),
		logger.Uint64("gasUsed", receipt.GasUsed),
		logger.String("costWei", receipt.Cost().String()),
		logger.Float64("latencyMs", latencyMs),
	)
	return nil
}

// commit writes one result per recipient and makes them durable.
func (e *Engine) commit(ctx context.Context, b model.Batch, receipt model.Receipt) error {
	start := time.Now()
	for _, r := range b.Records {
		res := model.DistributionResult{
			Address:         r.Address,
			Amount:          r.Amount,
			TransactionHash: receipt.TransactionHash,
		}
		if err := e.store.Put(ctx, res); err != nil {
			return fmt.Errorf("checkpoint %s: %w", r.Address.Hex(), err)
		}
	}
	if err := e.store.Flush(ctx); err != nil {
		return fmt.Errorf("flush checkpoint: %w", err)
	}
	metrics.RecordCheckpointCommitLatency(float64(time.Since(start).Nanoseconds()) / 1e6)
	return nil
}
