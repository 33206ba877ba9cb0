package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/okian/airdrop/internal/adapters/checkpoint"
	"github.com/okian/airdrop/internal/adapters/http/api"
	"github.com/okian/airdrop/internal/adapters/ledger"
	service "github.com/okian/airdrop/internal/app"
	"github.com/okian/airdrop/internal/config"
	"github.com/okian/airdrop/internal/domain/recipient"
	"github.com/okian/airdrop/pkg/logger"
	"github.com/okian/airdrop/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// application holds everything a subcommand needs.
type application struct {
	cfg    *config.Config
	log    logger.Logger
	engine *service.Engine

	closers []func() error
}

// setup loads and validates configuration, then opens the checkpoint store
// and the ledger it names.
func setup(ctx context.Context, configPath string) (*application, error) {
	if err := logger.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	log := logger.Get()

	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return nil, err
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts, err := engineOptions(cfg, log)
	if err != nil {
		return nil, err
	}
	metrics.SetEnabled(cfg.Metrics)

	a := &application{cfg: cfg, log: log}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	l, err := openLedger(ctx, cfg, log, a)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.engine = service.New(l, store, cfg.Holder(), opts...)
	return a, nil
}

// engineOptions maps run configuration onto engine options.
func engineOptions(cfg *config.Config, log logger.Logger) ([]service.Option, error) {
	policy, err := recipient.ParseDuplicatePolicy(cfg.DuplicatePolicy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	return []service.Option{
		service.WithLogger(log.Named("engine")),
		service.WithBatchSize(cfg.BatchSize),
		service.WithBatchDelay(cfg.BatchDelay),
		service.WithSkipLines(cfg.SkipLines),
		service.WithDuplicatePolicy(policy),
		service.WithReportFile(cfg.ReportFile),
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (checkpoint.Store, error) {
	switch strings.ToLower(cfg.Checkpoint.Backend) {
	case config.CheckpointPostgres:
		return checkpoint.OpenPostgresStore(ctx, cfg.Checkpoint.DSN, cfg.Checkpoint.Table,
			checkpoint.WithPostgresLogger(log.Named("checkpoint")))
	default:
		return checkpoint.OpenFileStore(ctx, cfg.Checkpoint.Path,
			checkpoint.WithFileLogger(log.Named("checkpoint")))
	}
}

func openLedger(ctx context.Context, cfg *config.Config, log logger.Logger, a *application) (ledger.Ledger, error) {
	switch strings.ToLower(cfg.Ledger.Backend) {
	case config.LedgerMemory:
		balance, err := cfg.MemoryBalanceUnits()
		if err != nil {
			return nil, err
		}
		log.Warn(ctx, "using in-memory ledger; nothing is sent on chain")
		return ledger.NewMemoryLedger(cfg.Holder(), balance), nil
	default:
		l, client, err := ledger.DialEVM(ctx,
			cfg.Ledger.RPCURL,
			cfg.Ledger.Distributor,
			cfg.Ledger.Token,
			cfg.Ledger.PrivateKey,
			ledger.WithConfirmTimeout(cfg.Ledger.ConfirmTimeout),
			ledger.WithEVMLogger(log.Named("ledger")),
		)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			client.Close()
			return nil
		})
		log.Info(ctx, "connected to ledger",
			logger.String("distributor", cfg.Ledger.Distributor),
			logger.String("sender", l.Sender().Hex()),
		)
		return l, nil
	}
}

// Close releases the ledger connection and the checkpoint store, in reverse
// order of opening.
func (a *application) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Error(ctx, "close failed", logger.Error(err))
		}
	}
	a.closers = nil
	if err := logger.Sync(); err != nil {
		a.log.Error(ctx, "logger sync failed", logger.Error(err))
	}
}

// startStatusServer serves /healthz, /stats and /metrics when status_addr is
// set. The returned func shuts it down.
func (a *application) startStatusServer(ctx context.Context) func() {
	if a.cfg.StatusAddr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	api.NewServer(a.engine).Register(mux)

	srv := &http.Server{
		Addr:              a.cfg.StatusAddr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		a.log.Info(ctx, "starting status server", logger.String("addr", a.cfg.StatusAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error(ctx, "status server failed", logger.Error(err))
		}
	}()

	return func() {
		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error(ctx, "status server shutdown failed", logger.Error(err))
		}
	}
}
