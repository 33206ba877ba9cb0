// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TokenDecimals is the number of fractional digits in one whole token.
const TokenDecimals = 18

// maxWholeDigits keeps a parsed amount within uint256 once scaled to base units.
const maxWholeDigits = 77 - TokenDecimals

// plainDecimal is digits with an optional fraction. No sign, exponent or separators.
var plainDecimal = regexp.MustCompile(`^([0-9]+)(\.[0-9]+)?$`)

// Recipient is one parsed line of the weighted recipient source.
type Recipient struct {
	Address common.Address // checksummed on output via Address.Hex()
	Weight  *big.Int       // 18-decimal fixed-point base units
	Line    int            // 1-based source line number
}

// AllocationRecord is a recipient together with its computed share.
type AllocationRecord struct {
	Address common.Address
	Weight  *big.Int
	Amount  *big.Int // base token units; may be zero
}

// UnparsedLine is a source line that could not become a recipient. It is
// never allocated or submitted but still shows up in the reconciliation.
type UnparsedLine struct {
	Line    int
	Address string // raw address column, possibly empty
	After   int    // recipients that precede it in the source
}

// Batch is a group of allocations submitted as one ledger transaction.
type Batch struct {
	Index   int // 1-based within the current invocation, reporting only
	Records []AllocationRecord
}

// Addresses returns the batch recipients in order.
func (b Batch) Addresses() []common.Address {
	out := make([]common.Address, len(b.Records))
	for i, r := range b.Records {
		out[i] = r.Address
	}
	return out
}

// Amounts returns the batch amounts in the same order as Addresses.
func (b Batch) Amounts() []*big.Int {
	out := make([]*big.Int, len(b.Records))
	for i, r := range b.Records {
		out[i] = new(big.Int).Set(r.Amount)
	}
	return out
}

// Total returns the sum of the batch amounts.
func (b Batch) Total() *big.Int {
	sum := new(big.Int)
	for _, r := range b.Records {
		sum.Add(sum, r.Amount)
	}
	return sum
}

// DistributionResult proves a recipient's transfer was confirmed.
type DistributionResult struct {
	Address         common.Address
	Amount          *big.Int
	TransactionHash common.Hash
}

// Receipt is what the ledger reports for a confirmed batch transaction.
type Receipt struct {
	TransactionHash common.Hash
	GasUsed         uint64
	GasPrice        *big.Int
}

// Cost returns gasUsed * gasPrice in wei. A nil gas price counts as zero.
func (r Receipt) Cost() *big.Int {
	if r.GasPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(r.GasUsed), r.GasPrice)
}

// FormatUnits renders base units as a whole-token decimal string, e.g. 1.5 for 1.5e18.
func FormatUnits(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -TokenDecimals).String()
}

// ParseUnits converts a whole-token decimal string into base units.
// It accepts plain notation only and rejects negative values, more than
// TokenDecimals fractional digits and values that do not fit in uint256.
func ParseUnits(s string) (*big.Int, error) {
	if strings.HasPrefix(s, "-") {
		return nil, ErrNegativeAmount
	}
	m := plainDecimal.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if len(strings.TrimLeft(m[1], "0")) > maxWholeDigits {
		return nil, fmt.Errorf("%w: %q exceeds %d whole digits", ErrInvalidAmount, s, maxWholeDigits)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	shifted := d.Shift(TokenDecimals)
	if !shifted.IsInteger() {
		return nil, ErrTooManyDecimals
	}
	return shifted.BigInt(), nil
}
