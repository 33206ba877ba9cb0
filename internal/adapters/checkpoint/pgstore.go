package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"
	"github.com/okian/airdrop/internal/domain/model"
	"github.com/okian/airdrop/pkg/logger"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PostgresStore keeps results in a Postgres table. Puts join an open
// transaction that Flush commits, so a batch becomes visible atomically.
type PostgresStore struct {
	mu      sync.Mutex
	db      *sql.DB
	table   string
	tx      *sql.Tx
	results map[common.Address]model.DistributionResult
	order   []common.Address
	closed  bool

	logger logger.Logger
}

// PostgresOption applies a configuration option to the PostgresStore.
type PostgresOption func(*PostgresStore)

// WithPostgresLogger sets the logger.
func WithPostgresLogger(l logger.Logger) PostgresOption {
	return func(s *PostgresStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// OpenPostgresStore connects to dsn, creates table if needed and loads existing results.
func OpenPostgresStore(ctx context.Context, dsn, table string, opts ...PostgresOption) (*PostgresStore, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s, err := NewPostgresStore(ctx, db, table, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing connection pool. The store owns db and closes it.
func NewPostgresStore(ctx context.Context, db *sql.DB, table string, opts ...PostgresOption) (*PostgresStore, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	s := &PostgresStore{
		db:      db,
		table:   pq.QuoteIdentifier(table),
		results: make(map[common.Address]model.DistributionResult),
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "checkpoint loaded",
		logger.String("table", table),
		logger.Int("results", len(s.order)),
	)
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id               BIGSERIAL,
			address          TEXT PRIMARY KEY,
			amount           NUMERIC(78, 0) NOT NULL,
			transaction_hash TEXT NOT NULL,
			recorded_at      TIMESTAMPTZ NOT NULL
		)
	`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

func (s *PostgresStore) load(ctx context.Context) error {
	query := fmt.Sprintf(`
		SELECT address, transaction_hash, amount::TEXT
		FROM %s
		ORDER BY id
	`, s.table)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec record
		if err := rows.Scan(&rec.Address, &rec.TransactionHash, &rec.Amount); err != nil {
			return fmt.Errorf("scan checkpoint row: %w", err)
		}
		res, err := rec.result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		s.results[res.Address] = res
		s.order = append(s.order, res.Address)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	return nil
}

// Has reports whether addr has a stored result, committed or pending.
func (s *PostgresStore) Has(_ context.Context, addr common.Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.results[addr]
	return ok, nil
}

// Put inserts a result into the pending transaction.
func (s *PostgresStore) Put(ctx context.Context, res model.DistributionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.results[res.Address]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRecorded, res.Address.Hex())
	}

	if s.tx == nil {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin checkpoint transaction: %w", err)
		}
		s.tx = tx
	}

	rec := toRecord(res)
	query := fmt.Sprintf(`
		INSERT INTO %s (address, amount, transaction_hash, recorded_at)
		VALUES ($1, $2::NUMERIC, $3, $4)
		ON CONFLICT (address) DO NOTHING
	`, s.table)
	out, err := s.tx.ExecContext(ctx, query, rec.Address, rec.Amount, rec.TransactionHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert checkpoint row: %w", err)
	}
	if n, err := out.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyRecorded, res.Address.Hex())
	}

	res.Amount = toRecordAmount(res)
	s.results[res.Address] = res
	s.order = append(s.order, res.Address)
	return nil
}

// Flush commits the pending transaction.
func (s *PostgresStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return s.commit()
}

func (s *PostgresStore) commit() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// All returns the results in insertion order.
func (s *PostgresStore) All(_ context.Context) ([]model.DistributionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.DistributionResult, len(s.order))
	for i, addr := range s.order {
		out[i] = s.results[addr]
	}
	return out, nil
}

// Close commits anything pending and closes the pool.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.commit(), s.db.Close())
}
