package ledger

import "errors"

// Sentinel kinds for ledger errors.
var (
	ErrEmptyBatch          = errors.New("empty batch")
	ErrLengthMismatch      = errors.New("address and amount counts differ")
	ErrInvalidAmount       = errors.New("transfer amount must be positive")
	ErrReverted            = errors.New("transaction reverted")
	ErrConfirmTimeout      = errors.New("timed out waiting for confirmation")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrMissingSigner       = errors.New("missing signing key")
	ErrInvalidAddress      = errors.New("invalid contract address")
)
