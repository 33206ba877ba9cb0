// Package ledger is the transfer and balance boundary the distribution engine
// submits to. EVMLedger talks to a deployed distributor contract; MemoryLedger
// simulates one in process.
package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/okian/airdrop/internal/domain/model"
)

// Ledger moves tokens out of a pre-funded holder.
type Ledger interface {
	// Balance returns the token balance of holder in base units.
	Balance(ctx context.Context, holder common.Address) (*big.Int, error)

	// SubmitBatchTransfer sends one transaction carrying every pair and blocks
	// until it is confirmed. Any returned error means the batch must be treated
	// as not executed.
	SubmitBatchTransfer(ctx context.Context, addrs []common.Address, amounts []*big.Int) (model.Receipt, error)
}

func validateBatch(addrs []common.Address, amounts []*big.Int) error {
	if len(addrs) == 0 {
		return ErrEmptyBatch
	}
	if len(addrs) != len(amounts) {
		return fmt.Errorf("%w: %d addresses, %d amounts", ErrLengthMismatch, len(addrs), len(amounts))
	}
	for i, a := range amounts {
		if a == nil || a.Sign() <= 0 {
			return fmt.Errorf("%w: index %d", ErrInvalidAmount, i)
		}
	}
	return nil
}

func sum(amounts []*big.Int) *big.Int {
	total := new(big.Int)
	for _, a := range amounts {
		total.Add(total, a)
	}
	return total
}
