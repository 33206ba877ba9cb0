// Package planner groups pending allocations into fixed-size batches.
package planner

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/okian/airdrop/internal/domain/model"
)

// Batch size bounds.
const (
	MinBatchSize = 1
	MaxBatchSize = 500
)

// ErrInvalidBatchSize is returned when the batch size is out of range.
var ErrInvalidBatchSize = errors.New("invalid batch size")

// Completed reports whether an address already has a confirmed result.
type Completed interface {
	Has(ctx context.Context, addr common.Address) (bool, error)
}

// Result is the outcome of planning.
type Result struct {
	Batches          []model.Batch
	Pending          int // records placed in batches
	AlreadyCompleted int // skipped because a result exists
	ZeroAmount       int // skipped because the share truncated to zero
}

// Plan filters out zero-amount and completed records and chunks the rest,
// preserving input order. Indices start at 1 on every call.
func Plan(ctx context.Context, records []model.AllocationRecord, done Completed, batchSize int) (Result, error) {
	if batchSize < MinBatchSize || batchSize > MaxBatchSize {
		return Result{}, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidBatchSize, batchSize, MinBatchSize, MaxBatchSize)
	}

	var res Result
	pending := make([]model.AllocationRecord, 0, len(records))
	for _, r := range records {
		if r.Amount == nil || r.Amount.Sign() <= 0 {
			res.ZeroAmount++
			continue
		}
		if done != nil {
			ok, err := done.Has(ctx, r.Address)
			if err != nil {
				return Result{}, fmt.Errorf("check checkpoint for %s: %w", r.Address.Hex(), err)
			}
			if ok {
				res.AlreadyCompleted++
				continue
			}
		}
		pending = append(pending, r)
	}

	res.Pending = len(pending)
	for start := 0; start < len(pending); start += batchSize {
		end := min(start+batchSize, len(pending))
		res.Batches = append(res.Batches, model.Batch{
			Index:   len(res.Batches) + 1,
			Records: pending[start:end:end],
		})
	}
	return res, nil
}
