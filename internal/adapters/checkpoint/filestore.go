package checkpoint

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/okian/airdrop/internal/domain/model"
	"github.com/okian/airdrop/pkg/logger"
)

// File permission constants.
const (
	checkpointFilePermission = 0o600
	checkpointDirPermission  = 0o755
)

// FileStore is an append-only JSON-lines checkpoint. Every Put appends one
// line; Flush fsyncs. On open the file is replayed and a torn final line,
// left by a crash mid-write, is truncated away.
type FileStore struct {
	mu      sync.RWMutex
	path    string
	file    *os.File
	writer  *bufio.Writer
	results map[common.Address]model.DistributionResult
	order   []common.Address
	closed  bool

	logger logger.Logger
}

// FileOption applies a configuration option to the FileStore.
type FileOption func(*FileStore)

// WithFileLogger sets the logger used for replay diagnostics.
func WithFileLogger(l logger.Logger) FileOption {
	return func(s *FileStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// OpenFileStore opens or creates the checkpoint at path and replays it.
func OpenFileStore(ctx context.Context, path string, opts ...FileOption) (*FileStore, error) {
	s := &FileStore{
		path:    path,
		results: make(map[common.Address]model.DistributionResult),
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, checkpointDirPermission); err != nil {
			return nil, fmt.Errorf("create checkpoint directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, checkpointFilePermission)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	s.file = f

	if err := s.replay(ctx); err != nil {
		_ = f.Close()
		return nil, err
	}
	s.writer = bufio.NewWriter(f)

	s.logger.Info(ctx, "checkpoint loaded",
		logger.String("path", path),
		logger.Int("results", len(s.order)),
	)
	return s, nil
}

// replay loads every complete line and positions the file for appending.
func (s *FileStore) replay(ctx context.Context) error {
	reader := bufio.NewReader(s.file)
	var offset int64
	line := 0

	for {
		chunk, err := reader.ReadBytes('\n')
		if len(chunk) > 0 {
			line++
			complete := chunk[len(chunk)-1] == '\n'
			trimmed := bytes.TrimSpace(chunk)

			if len(trimmed) > 0 {
				res, perr := decodeLine(trimmed)
				if perr != nil {
					if !complete {
						// Torn tail from an interrupted write.
						s.logger.Warn(ctx, "discarding torn checkpoint tail",
							logger.String("path", s.path),
							logger.Int("line", line),
							logger.Error(perr),
						)
						break
					}
					return fmt.Errorf("%w: line %d: %v", ErrCorrupt, line, perr)
				}
				if _, dup := s.results[res.Address]; dup {
					return fmt.Errorf("%w: line %d: duplicate address %s", ErrCorrupt, line, res.Address.Hex())
				}
				s.results[res.Address] = res
				s.order = append(s.order, res.Address)
			}

			offset += int64(len(chunk))
			if !complete {
				// Valid record missing its newline; terminate it before appending.
				if _, werr := s.file.WriteAt([]byte("\n"), offset); werr != nil {
					return fmt.Errorf("repair checkpoint tail: %w", werr)
				}
				offset++
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read checkpoint: %w", err)
		}
	}

	if err := s.file.Truncate(offset); err != nil {
		return fmt.Errorf("truncate checkpoint: %w", err)
	}
	if _, err := s.file.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek checkpoint: %w", err)
	}
	return nil
}

func decodeLine(b []byte) (model.DistributionResult, error) {
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return model.DistributionResult{}, err
	}
	return rec.result()
}

// Has reports whether addr has a stored result.
func (s *FileStore) Has(_ context.Context, addr common.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.results[addr]
	return ok, nil
}

// Put appends a result. It is buffered until Flush.
func (s *FileStore) Put(_ context.Context, res model.DistributionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.results[res.Address]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRecorded, res.Address.Hex())
	}

	b, err := json.Marshal(toRecord(res))
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	b = append(b, '\n')
	if _, err := s.writer.Write(b); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}

	s.results[res.Address] = model.DistributionResult{
		Address:         res.Address,
		Amount:          toRecordAmount(res),
		TransactionHash: res.TransactionHash,
	}
	s.order = append(s.order, res.Address)
	return nil
}

// Flush writes buffered results and fsyncs the file.
func (s *FileStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	start := time.Now()
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush checkpoint: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	s.logger.Debug(context.Background(), "checkpoint flushed",
		logger.Int("results", len(s.order)),
		logger.Int64("durationMs", time.Since(start).Milliseconds()),
	)
	return nil
}

// All returns the results in the order they were written.
func (s *FileStore) All(_ context.Context) ([]model.DistributionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.DistributionResult, len(s.order))
	for i, addr := range s.order {
		out[i] = s.results[addr]
	}
	return out, nil
}

// Close flushes and closes the file. Closing twice is a no-op.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	flushErr := s.writer.Flush()
	syncErr := s.file.Sync()
	closeErr := s.file.Close()
	return errors.Join(flushErr, syncErr, closeErr)
}

func toRecordAmount(res model.DistributionResult) *big.Int {
	if res.Amount == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(res.Amount)
}
