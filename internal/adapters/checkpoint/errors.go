package checkpoint

import "errors"

// Sentinel kinds for checkpoint errors.
var (
	ErrAlreadyRecorded = errors.New("distribution result already recorded")
	ErrCorrupt         = errors.New("checkpoint file corrupt")
	ErrClosed          = errors.New("checkpoint store closed")
	ErrInvalidTable    = errors.New("invalid checkpoint table name")
)
