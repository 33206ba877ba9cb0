// Package checkpoint persists confirmed distribution results so a run can be
// resumed and reconciled.
package checkpoint

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/okian/airdrop/internal/domain/model"
)

// Store is a durable address -> DistributionResult mapping.
//
// Put is called once per recipient right after its batch is confirmed.
// Flush is the durability barrier: when it returns nil every earlier Put
// survives a crash.
type Store interface {
	// Has reports whether a result exists for addr.
	Has(ctx context.Context, addr common.Address) (bool, error)

	// Put records a result. Returns ErrAlreadyRecorded if addr already has one.
	Put(ctx context.Context, res model.DistributionResult) error

	// Flush makes all previous Puts durable.
	Flush(ctx context.Context) error

	// All returns every stored result in write order.
	All(ctx context.Context) ([]model.DistributionResult, error)

	// Close releases the underlying resources.
	Close() error
}
