package allocation

import "errors"

// Allocation errors are fatal: nothing has been submitted when they occur.
var (
	ErrZeroTotalWeight    = errors.New("total recipient weight is zero")
	ErrBalanceUnavailable = errors.New("total balance unavailable")
)
