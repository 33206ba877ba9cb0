package rehearsal

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/airdrop/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
)

// malformed lines cycled into the output when MalformedEvery is set.
var malformed = [][]string{
	{"0xnot-an-address", "10"},
	{"0x00000000000000000000000000000000000000zz"},
	{"0x000000000000000000000000000000000000dEaD", "-5"},
	{"0x000000000000000000000000000000000000bEEF", "twelve"},
}

// Run generates a recipient file as described by cfg.
func Run(ctx context.Context, cfg *Config, log logger.Logger) (*Stats, error) {
	if cfg.NumRecipients <= 0 {
		return nil, fmt.Errorf("%w: recipients must be positive, got %d", ErrInvalidConfig, cfg.NumRecipients)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.OutputFile == "" {
		cfg.OutputFile = "recipients_" + time.Now().Format("20060102_150405") + ".csv"
	}

	stats := &Stats{StartTime: time.Now()}

	log.Info(ctx, "starting recipient generation",
		logger.Int("recipients", cfg.NumRecipients),
		logger.Int("workers", cfg.Workers),
		logger.String("output", cfg.OutputFile),
		logger.Int("zeroWeightEvery", cfg.ZeroWeightEvery),
		logger.Int("malformedEvery", cfg.MalformedEvery))

	recipients, err := generateRecipients(ctx, cfg, stats, log)
	if err != nil {
		return nil, fmt.Errorf("recipient generation failed: %w", err)
	}

	if err := saveRecipientsToFile(ctx, cfg, recipients, stats, log); err != nil {
		return nil, err
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats, log)
	return stats, nil
}

func saveRecipientsToFile(ctx context.Context, cfg *Config, recipients []Recipient, stats *Stats, log logger.Logger) error {
	dir := filepath.Dir(cfg.OutputFile)
	if dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	file, err := os.Create(cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := WriteCSV(file, cfg, recipients, stats); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	log.Info(ctx, "recipients saved to file", logger.String("filename", cfg.OutputFile))
	return nil
}

// WriteCSV writes recipients to w in address,weight form, interleaving
// malformed lines when cfg asks for them.
func WriteCSV(w io.Writer, cfg *Config, recipients []Recipient, stats *Stats) error {
	cw := csv.NewWriter(w)
	if cfg.Header {
		if err := cw.Write([]string{"address", "weight"}); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	for i, r := range recipients {
		if err := cw.Write([]string{r.Address.Hex(), r.Weight.String()}); err != nil {
			return fmt.Errorf("failed to write recipient %d: %w", i, err)
		}
		if cfg.MalformedEvery > 0 && (i+1)%cfg.MalformedEvery == 0 {
			if err := cw.Write(malformed[stats.Malformed%len(malformed)]); err != nil {
				return fmt.Errorf("failed to write malformed line: %w", err)
			}
			stats.Malformed++
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

// displayFinalStats logs the final generation statistics.
func displayFinalStats(ctx context.Context, stats *Stats, log logger.Logger) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.Generated) / stats.Duration.Seconds()
	}

	log.Info(ctx, "final statistics",
		logger.Int("generated", stats.Generated),
		logger.Int("zeroWeight", stats.ZeroWeight),
		logger.Int("malformed", stats.Malformed),
		logger.String("totalWeight", stats.TotalWeight.String()),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("recipientsPerSecond", perSecond))
}
