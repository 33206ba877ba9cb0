package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/okian/airdrop/internal/rehearsal"
	"github.com/okian/airdrop/pkg/logger"
	"github.com/spf13/cobra"
)

// Default configuration constants.
const (
	defaultNumRecipients = 1000
	defaultWorkers       = 2 // multiplier for runtime.NumCPU()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &rehearsal.Config{}
	var verbose bool

	cmd := &cobra.Command{
		Use:          "gen-recipients",
		Short:        "Write a recipients CSV with fresh random addresses and weights",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.Init(); err != nil {
				return err
			}
			if verbose {
				_ = logger.SetLevelString("debug")
			}
			_, err := rehearsal.Run(cmd.Context(), cfg, logger.Named("rehearsal"))
			return err
		},
	}

	cmd.Flags().IntVar(&cfg.NumRecipients, "recipients", defaultNumRecipients, "number of recipients to generate")
	cmd.Flags().IntVar(&cfg.Workers, "workers", runtime.NumCPU()*defaultWorkers, "number of concurrent key generators")
	cmd.Flags().StringVar(&cfg.OutputFile, "output", "", "output CSV (default: recipients_TIMESTAMP.csv)")
	cmd.Flags().BoolVar(&cfg.Header, "header", true, "write an address,weight header line")
	cmd.Flags().IntVar(&cfg.ZeroWeightEvery, "zero-every", 0, "give every Nth recipient a zero weight")
	cmd.Flags().IntVar(&cfg.MalformedEvery, "malformed-every", 0, "insert an unparsable line after every Nth recipient")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	return cmd
}
