package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/airdrop/internal/config"
	"github.com/okian/airdrop/internal/domain/model"
	"github.com/okian/airdrop/pkg/logger"
	"github.com/spf13/cobra"
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM. Cancellation is honored
	// between batches; an in-flight batch always completes.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "airdrop",
		Short:        "Distribute a token balance across weighted recipients in batches",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (defaults to $"+config.EnvConfigFile+")")

	root.AddCommand(
		newRunCmd(&configPath),
		newExportCmd(&configPath),
		newPlanCmd(&configPath),
	)
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Ingest, allocate and submit every pending batch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			stopStatus := a.startStatusServer(ctx)
			defer stopStatus()

			summary, err := a.engine.RunFile(ctx, a.cfg.RecipientsFile)
			fmt.Fprintf(cmd.OutOrStdout(), "run %s %s: %d batches sent, %s tokens committed\n",
				summary.RunID, summary.State, summary.BatchesSent, model.FormatUnits(summary.Committed))
			return err
		},
	}
}

func newExportCmd(configPath *string) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the reconciliation CSV from the checkpoint without submitting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if out == "" {
				out = a.cfg.ReportFile
			}
			if err := withSource(a.cfg.RecipientsFile, func(src io.Reader) error {
				return a.engine.Export(ctx, src, out)
			}); err != nil {
				return err
			}
			a.log.Info(ctx, "reconciliation export written", logger.String("path", out))
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output path (defaults to report_file)")
	return cmd
}

func newPlanCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "List the batches a run would submit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			return withSource(a.cfg.RecipientsFile, func(src io.Reader) error {
				res, summary, err := a.engine.Preview(ctx, src)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "total balance %s, %d recipients, %d already completed, %d zero amount\n",
					model.FormatUnits(summary.TotalBalance), summary.Recipients, res.AlreadyCompleted, res.ZeroAmount)
				for _, b := range res.Batches {
					fmt.Fprintf(w, "batch %d: %d recipients, %s tokens\n", b.Index, len(b.Records), model.FormatUnits(b.Total()))
				}
				return nil
			})
		},
	}
}

func withSource(path string, fn func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open recipients: %w", err)
	}
	defer f.Close()
	return fn(f)
}
