package recipient

import (
	"errors"
	"fmt"
)

// ErrDuplicateRecipient is returned by Collect under the reject policy.
var ErrDuplicateRecipient = errors.New("duplicate recipient address")

// ParseError describes a dropped source line.
type ParseError struct {
	Line   int
	Reason string
	Field  string // raw address column, possibly empty
	Err    error
}

func (e ParseError) Error() string {
	return fmt.Sprintf("line %d: %s: %v", e.Line, e.Reason, e.Err)
}

func (e ParseError) Unwrap() error { return e.Err }
