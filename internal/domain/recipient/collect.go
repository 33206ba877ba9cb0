package recipient

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/okian/airdrop/internal/domain/model"
)

// DuplicatePolicy decides what happens when an address appears twice.
type DuplicatePolicy string

// Supported duplicate policies.
const (
	// DuplicateReject aborts collection with ErrDuplicateRecipient.
	DuplicateReject DuplicatePolicy = "reject"
	// DuplicateLastWins keeps the first position but takes the later weight.
	DuplicateLastWins DuplicatePolicy = "last_wins"
)

// ParseDuplicatePolicy validates a configured policy name.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case DuplicateReject, DuplicateLastWins:
		return p, nil
	case "":
		return DuplicateReject, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q", s)
	}
}

// Collect drains r into an ordered slice, enforcing address uniqueness.
// Under DuplicateLastWins the replaced line is counted as skipped.
func Collect(ctx context.Context, r *Reader, policy DuplicatePolicy) ([]model.Recipient, error) {
	var out []model.Recipient
	index := make(map[common.Address]int)

	for r.Next(ctx) {
		rec := r.Recipient()
		i, seen := index[rec.Address]
		if !seen {
			index[rec.Address] = len(out)
			out = append(out, rec)
			continue
		}

		if policy != DuplicateLastWins {
			return nil, fmt.Errorf("%w: %s on lines %d and %d", ErrDuplicateRecipient, rec.Address.Hex(), out[i].Line, rec.Line)
		}
		prev := out[i]
		r.Skip(ctx, ParseError{
			Line:   prev.Line,
			Reason: ReasonDuplicate,
			Err:    fmt.Errorf("%s superseded by line %d", rec.Address.Hex(), rec.Line),
		})
		out[i] = model.Recipient{Address: rec.Address, Weight: rec.Weight, Line: rec.Line}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
