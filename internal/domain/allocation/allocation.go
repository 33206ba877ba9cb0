// Package allocation splits a fixed balance across weighted recipients.
package allocation

import (
	"math/big"

	"github.com/okian/airdrop/internal/domain/model"
)

// Plan is the full allocation for one run.
type Plan struct {
	TotalBalance *big.Int
	TotalWeight  *big.Int
	Records      []model.AllocationRecord
}

// Compute assigns floor(totalBalance * weight / totalWeight) to each recipient.
// Records keep the input order, including zero-amount ones.
func Compute(totalBalance *big.Int, recipients []model.Recipient) (*Plan, error) {
	if totalBalance == nil || totalBalance.Sign() < 0 {
		return nil, ErrBalanceUnavailable
	}

	totalWeight := new(big.Int)
	for _, r := range recipients {
		totalWeight.Add(totalWeight, r.Weight)
	}
	if totalWeight.Sign() == 0 {
		return nil, ErrZeroTotalWeight
	}

	records := make([]model.AllocationRecord, len(recipients))
	for i, r := range recipients {
		amount := new(big.Int).Mul(totalBalance, r.Weight)
		amount.Quo(amount, totalWeight)
		records[i] = model.AllocationRecord{
			Address: r.Address,
			Weight:  new(big.Int).Set(r.Weight),
			Amount:  amount,
		}
	}

	return &Plan{
		TotalBalance: new(big.Int).Set(totalBalance),
		TotalWeight:  totalWeight,
		Records:      records,
	}, nil
}

// Allocated returns the sum of all amounts.
func (p *Plan) Allocated() *big.Int {
	sum := new(big.Int)
	for _, r := range p.Records {
		sum.Add(sum, r.Amount)
	}
	return sum
}

// Remainder is the truncation dust that no recipient receives.
func (p *Plan) Remainder() *big.Int {
	return new(big.Int).Sub(p.TotalBalance, p.Allocated())
}
