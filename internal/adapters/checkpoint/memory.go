package checkpoint

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/okian/airdrop/internal/domain/model"
)

// MemoryStore is a non-durable Store used by dry runs and tests.
// PutErr and FlushErr, when set, are returned instead of performing the call.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[common.Address]model.DistributionResult
	order   []common.Address
	flushes int

	PutErr   error
	FlushErr error
}

// NewMemoryStore returns an empty store, optionally seeded with results.
func NewMemoryStore(seed ...model.DistributionResult) *MemoryStore {
	s := &MemoryStore{results: make(map[common.Address]model.DistributionResult)}
	for _, res := range seed {
		if _, ok := s.results[res.Address]; ok {
			continue
		}
		s.results[res.Address] = res
		s.order = append(s.order, res.Address)
	}
	return s
}

// Has reports whether addr has a stored result.
func (s *MemoryStore) Has(_ context.Context, addr common.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.results[addr]
	return ok, nil
}

// Put records a result.
func (s *MemoryStore) Put(_ context.Context, res model.DistributionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.PutErr != nil {
		return s.PutErr
	}
	if _, ok := s.results[res.Address]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRecorded, res.Address.Hex())
	}
	res.Amount = toRecordAmount(res)
	s.results[res.Address] = res
	s.order = append(s.order, res.Address)
	return nil
}

// Flush counts the call.
func (s *MemoryStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FlushErr != nil {
		return s.FlushErr
	}
	s.flushes++
	return nil
}

// Flushes returns the number of successful Flush calls.
func (s *MemoryStore) Flushes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flushes
}

// All returns the results in write order.
func (s *MemoryStore) All(_ context.Context) ([]model.DistributionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DistributionResult, len(s.order))
	for i, addr := range s.order {
		out[i] = s.results[addr]
	}
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
