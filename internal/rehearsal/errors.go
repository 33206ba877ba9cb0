package rehearsal

import "errors"

// ErrInvalidConfig is returned when a generation request cannot be satisfied.
var ErrInvalidConfig = errors.New("invalid rehearsal config")
