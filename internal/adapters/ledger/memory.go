package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/okian/airdrop/internal/domain/model"
)

// Simulated gas accounting for the in-memory ledger.
const (
	memoryBaseGas         = 21_000
	memoryGasPerRecipient = 30_000
)

var defaultMemoryGasPrice = big.NewInt(1_000_000_000)

// Submission is one batch accepted by the MemoryLedger.
type Submission struct {
	Receipt model.Receipt
	Addrs   []common.Address
	Amounts []*big.Int
}

// MemoryLedger is an in-process ledger with a single funded holder.
// It is used for rehearsal runs and tests.
type MemoryLedger struct {
	mu       sync.Mutex
	holder   common.Address
	balance  *big.Int
	gasPrice *big.Int
	credited map[common.Address]*big.Int
	log      []Submission
	attempts int
	failures map[int]error
}

// MemoryOption applies a configuration option to the MemoryLedger.
type MemoryOption func(*MemoryLedger)

// WithGasPrice sets the simulated gas price in wei.
func WithGasPrice(p *big.Int) MemoryOption {
	return func(l *MemoryLedger) {
		if p != nil && p.Sign() >= 0 {
			l.gasPrice = new(big.Int).Set(p)
		}
	}
}

// FailOn makes the n-th submission attempt (1-based) return err.
func FailOn(n int, err error) MemoryOption {
	return func(l *MemoryLedger) {
		l.failures[n] = err
	}
}

// NewMemoryLedger returns a ledger where holder owns balance base units.
func NewMemoryLedger(holder common.Address, balance *big.Int, opts ...MemoryOption) *MemoryLedger {
	l := &MemoryLedger{
		holder:   holder,
		balance:  new(big.Int),
		gasPrice: new(big.Int).Set(defaultMemoryGasPrice),
		credited: make(map[common.Address]*big.Int),
		failures: make(map[int]error),
	}
	if balance != nil {
		l.balance.Set(balance)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Balance returns the holder's remaining balance, or what holder was credited.
func (l *MemoryLedger) Balance(_ context.Context, holder common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if holder == l.holder {
		return new(big.Int).Set(l.balance), nil
	}
	if c, ok := l.credited[holder]; ok {
		return new(big.Int).Set(c), nil
	}
	return new(big.Int), nil
}

// SubmitBatchTransfer moves amounts from the holder to addrs atomically.
func (l *MemoryLedger) SubmitBatchTransfer(_ context.Context, addrs []common.Address, amounts []*big.Int) (model.Receipt, error) {
	if err := validateBatch(addrs, amounts); err != nil {
		return model.Receipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.attempts++
	if err, ok := l.failures[l.attempts]; ok {
		return model.Receipt{}, err
	}

	total := sum(amounts)
	if total.Cmp(l.balance) > 0 {
		return model.Receipt{}, fmt.Errorf("%w: %w: need %s, have %s", ErrReverted, ErrInsufficientBalance, total, l.balance)
	}

	l.balance.Sub(l.balance, total)
	for i, a := range addrs {
		c, ok := l.credited[a]
		if !ok {
			c = new(big.Int)
			l.credited[a] = c
		}
		c.Add(c, amounts[i])
	}

	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], uint64(l.attempts))
	receipt := model.Receipt{
		TransactionHash: crypto.Keccak256Hash(l.holder.Bytes(), nonce[:]),
		GasUsed:         uint64(memoryBaseGas + memoryGasPerRecipient*len(addrs)),
		GasPrice:        new(big.Int).Set(l.gasPrice),
	}

	sub := Submission{Receipt: receipt, Addrs: append([]common.Address(nil), addrs...)}
	for _, a := range amounts {
		sub.Amounts = append(sub.Amounts, new(big.Int).Set(a))
	}
	l.log = append(l.log, sub)
	return receipt, nil
}

// Submissions returns the confirmed batches in order.
func (l *MemoryLedger) Submissions() []Submission {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Submission(nil), l.log...)
}

// Attempts counts every SubmitBatchTransfer call that passed validation.
func (l *MemoryLedger) Attempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}
