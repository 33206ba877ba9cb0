package service

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ErrSource wraps failures to open or read the recipient source.
var ErrSource = errors.New("recipient source unavailable")

// ErrRunInProgress is returned when Run is called while another run is executing.
var ErrRunInProgress = errors.New("distribution run already in progress")

// ExecutionError is a batch the ledger rejected, reverted or never confirmed.
// Nothing from the batch was checkpointed; it is retried in full on the next run.
type ExecutionError struct {
	Batch int
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("batch %d: execution failed: %v", e.Batch, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// CheckpointError is a batch confirmed on the ledger whose results could not
// be made durable. Its recipients remain pending locally.
type CheckpointError struct {
	Batch           int
	TransactionHash common.Hash
	Err             error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("batch %d: executed in %s but not checkpointed: %v", e.Batch, e.TransactionHash.Hex(), e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }
