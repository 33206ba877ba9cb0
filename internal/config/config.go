// Package config defines the distribution run configuration and how it is loaded.
//
// Conventions:
// - New(ctx) returns a Config populated with defaults.
// - Load layers defaults, an optional YAML file and AIRDROP_* env vars.
// - Validate is called once at run start; errors wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/okian/airdrop/internal/domain/model"
	"github.com/okian/airdrop/internal/domain/planner"
	"github.com/okian/airdrop/internal/domain/recipient"
)

// Checkpoint backends.
const (
	CheckpointFile     = "file"
	CheckpointPostgres = "postgres"
)

// Ledger backends.
const (
	LedgerEVM    = "evm"
	LedgerMemory = "memory"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// RecipientsFile is the delimited address/weight source.
	RecipientsFile string `koanf:"recipients_file"`

	// SkipLines is the number of header lines to ignore.
	SkipLines int `koanf:"skip_lines"`

	// BatchSize is the number of recipients per transaction.
	BatchSize int `koanf:"batch_size"`

	// BatchDelay pauses between batches.
	BatchDelay time.Duration `koanf:"batch_delay"`

	// DuplicatePolicy is reject or last_wins.
	DuplicatePolicy string `koanf:"duplicate_policy"`

	// ReportFile receives the reconciliation export.
	ReportFile string `koanf:"report_file"`

	// StatusAddr, when set, serves /healthz, /stats and /metrics during a run.
	StatusAddr string `koanf:"status_addr"`

	// Metrics turns Prometheus recording on or off.
	Metrics bool `koanf:"metrics"`

	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	Ledger     LedgerConfig     `koanf:"ledger"`
}

// CheckpointConfig selects and configures the checkpoint store.
type CheckpointConfig struct {
	Backend string `koanf:"backend"`
	Path    string `koanf:"path"`
	DSN     string `koanf:"dsn"`
	Table   string `koanf:"table"`
}

// LedgerConfig selects and configures the ledger.
type LedgerConfig struct {
	Backend        string        `koanf:"backend"`
	RPCURL         string        `koanf:"rpc_url"`
	Distributor    string        `koanf:"distributor"`
	Token          string        `koanf:"token"`
	PrivateKey     string        `koanf:"private_key"`
	ConfirmTimeout time.Duration `koanf:"confirm_timeout"`

	// MemoryBalance funds the memory ledger, in whole tokens.
	MemoryBalance string `koanf:"memory_balance"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:        "info",
		RecipientsFile:  "recipients.csv",
		SkipLines:       1,
		BatchSize:       40,
		DuplicatePolicy: string(recipient.DuplicateReject),
		ReportFile:      "distribution_report.csv",
		Metrics:         true,
		Checkpoint: CheckpointConfig{
			Backend: CheckpointFile,
			Path:    "distribution.checkpoint.jsonl",
			Table:   "distribution_results",
		},
		Ledger: LedgerConfig{
			Backend:        LedgerEVM,
			ConfirmTimeout: 5 * time.Minute,
			MemoryBalance:  "0",
		},
	}
}

// Validate checks the configuration once, before anything runs.
func (c *Config) Validate() error {
	if c.RecipientsFile == "" {
		return invalid("recipients_file must not be empty")
	}
	if c.SkipLines < 0 {
		return invalid("skip_lines must not be negative, got %d", c.SkipLines)
	}
	if c.BatchSize < planner.MinBatchSize || c.BatchSize > planner.MaxBatchSize {
		return invalid("batch_size must be in [%d, %d], got %d", planner.MinBatchSize, planner.MaxBatchSize, c.BatchSize)
	}
	if c.BatchDelay < 0 {
		return invalid("batch_delay must not be negative")
	}
	if _, err := recipient.ParseDuplicatePolicy(c.DuplicatePolicy); err != nil {
		return invalid("%v", err)
	}

	switch strings.ToLower(c.Checkpoint.Backend) {
	case CheckpointFile:
		if c.Checkpoint.Path == "" {
			return invalid("checkpoint.path is required for the file backend")
		}
	case CheckpointPostgres:
		if c.Checkpoint.DSN == "" {
			return invalid("checkpoint.dsn is required for the postgres backend")
		}
		if c.Checkpoint.Table == "" {
			return invalid("checkpoint.table must not be empty")
		}
	default:
		return invalid("unknown checkpoint.backend %q", c.Checkpoint.Backend)
	}

	switch strings.ToLower(c.Ledger.Backend) {
	case LedgerEVM:
		if c.Ledger.RPCURL == "" {
			return invalid("ledger.rpc_url is required for the evm backend")
		}
		if !common.IsHexAddress(c.Ledger.Distributor) {
			return invalid("ledger.distributor %q is not an address", c.Ledger.Distributor)
		}
		if !common.IsHexAddress(c.Ledger.Token) {
			return invalid("ledger.token %q is not an address", c.Ledger.Token)
		}
		if c.Ledger.PrivateKey == "" {
			return invalid("ledger.private_key is required for the evm backend")
		}
		if c.Ledger.ConfirmTimeout <= 0 {
			return invalid("ledger.confirm_timeout must be positive")
		}
	case LedgerMemory:
		if _, err := c.MemoryBalanceUnits(); err != nil {
			return invalid("ledger.memory_balance: %v", err)
		}
	default:
		return invalid("unknown ledger.backend %q", c.Ledger.Backend)
	}
	return nil
}

// MemoryBalanceUnits converts the memory ledger balance to base units.
func (c *Config) MemoryBalanceUnits() (*big.Int, error) {
	if c.Ledger.MemoryBalance == "" {
		return new(big.Int), nil
	}
	return model.ParseUnits(c.Ledger.MemoryBalance)
}

// Holder is the address whose balance is distributed.
func (c *Config) Holder() common.Address {
	if common.IsHexAddress(c.Ledger.Distributor) {
		return common.HexToAddress(c.Ledger.Distributor)
	}
	return common.Address{}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
