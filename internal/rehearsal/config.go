// Package rehearsal generates synthetic recipient files for dry runs against
// the memory ledger or a test network.
package rehearsal

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config holds configuration for a generated recipient file.
type Config struct {
	NumRecipients int    // Number of valid recipients to generate
	Workers       int    // Number of concurrent key generators
	OutputFile    string // Output CSV path
	Header        bool   // Write an "address,weight" header line

	// ZeroWeightEvery gives every Nth recipient a zero weight. 0 disables.
	ZeroWeightEvery int
	// MalformedEvery inserts an unparsable line after every Nth recipient. 0 disables.
	MalformedEvery int
}

// Recipient is one generated line.
type Recipient struct {
	Address common.Address
	Weight  decimal.Decimal
}

// Stats holds generation statistics
type Stats struct {
	Generated   int
	ZeroWeight  int
	Malformed   int
	TotalWeight decimal.Decimal
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
}
