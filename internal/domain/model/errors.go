package model

import "errors"

// Sentinel kinds for amount parsing.
var (
	ErrInvalidAmount   = errors.New("amount must be a plain decimal number")
	ErrNegativeAmount  = errors.New("amount must not be negative")
	ErrTooManyDecimals = errors.New("amount has more than 18 fractional digits")
)
