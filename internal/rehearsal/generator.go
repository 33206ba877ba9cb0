package rehearsal

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/okian/airdrop/pkg/logger"
	"github.com/shopspring/decimal"
)

// Weights carry four fractional digits.
const weightScale = 4

// Constants for random number generation.
const (
	randomUnitDivisor = 1000000
	tierDivisor       = 6
)

// Weight tiers in whole tokens: [min, min+range).
const (
	caseSmallHolder = iota
	caseRegularHolder
	caseActiveHolder
	caseLargeHolder
	caseWhale
	caseDust
)

var tiers = map[int64][2]float64{
	caseSmallHolder:   {1, 9},
	caseRegularHolder: {10, 90},
	caseActiveHolder:  {100, 400},
	caseLargeHolder:   {500, 4500},
	caseWhale:         {5000, 45000},
	caseDust:          {0.0001, 0.9999},
}

// getRandomUnit returns a random float64 in [0, 1) using crypto/rand.
func getRandomUnit() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomUnitDivisor))
	return float64(n.Int64()) / float64(randomUnitDivisor)
}

// generateWeight picks a tier at random and a weight inside it.
func generateWeight() decimal.Decimal {
	n, _ := rand.Int(rand.Reader, big.NewInt(tierDivisor))
	tier := tiers[n.Int64()]
	w := decimal.NewFromFloat(tier[0] + getRandomUnit()*tier[1]).Truncate(weightScale)
	if !w.IsPositive() {
		return decimal.New(1, -weightScale)
	}
	return w
}

// generateRecipients creates cfg.NumRecipients recipients with fresh keys.
// Every ZeroWeightEvery-th recipient (1-based) gets weight zero.
func generateRecipients(ctx context.Context, cfg *Config, stats *Stats, log logger.Logger) ([]Recipient, error) {
	log.Info(ctx, "generating recipients", logger.Int("numRecipients", cfg.NumRecipients))

	recipients := make([]Recipient, cfg.NumRecipients)

	type recipientResult struct {
		index     int
		recipient Recipient
		err       error
	}

	resultChan := make(chan recipientResult, cfg.NumRecipients)

	workerCount := minInt(cfg.Workers, cfg.NumRecipients)
	perWorker := cfg.NumRecipients / workerCount

	for worker := 0; worker < workerCount; worker++ {
		start := worker * perWorker
		end := start + perWorker
		if worker == workerCount-1 {
			end = cfg.NumRecipients // Last worker gets the rest
		}

		go func(start, end int) {
			for i := start; i < end; i++ {
				select {
				case <-ctx.Done():
					resultChan <- recipientResult{index: i, err: ctx.Err()}
					return
				default:
					r, err := generateSingleRecipient(i, cfg.ZeroWeightEvery)
					resultChan <- recipientResult{index: i, recipient: r, err: err}
				}
			}
		}(start, end)
	}

	// Collect results
	for i := 0; i < cfg.NumRecipients; i++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during generation: %w", ctx.Err())
		case result := <-resultChan:
			if result.err != nil {
				return nil, fmt.Errorf("failed to generate recipient %d: %w", result.index, result.err)
			}
			recipients[result.index] = result.recipient
		}
	}

	stats.Generated = len(recipients)
	stats.TotalWeight = decimal.Zero
	for _, r := range recipients {
		if r.Weight.IsZero() {
			stats.ZeroWeight++
		}
		stats.TotalWeight = stats.TotalWeight.Add(r.Weight)
	}
	log.Info(ctx, "generated recipients", logger.Int("count", len(recipients)))

	return recipients, nil
}

func generateSingleRecipient(index, zeroEvery int) (Recipient, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return Recipient{}, err
	}
	r := Recipient{Address: crypto.PubkeyToAddress(key.PublicKey)}
	if zeroEvery > 0 && (index+1)%zeroEvery == 0 {
		r.Weight = decimal.Zero
		return r, nil
	}
	r.Weight = generateWeight()
	return r, nil
}

// minInt returns the minimum of two integers.
func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
