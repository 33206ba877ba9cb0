// Package recipient turns a delimited address/weight source into an ordered
// stream of recipients.
//
// Lines look like `address, weight`. Quotes are stripped and `;` is treated
// like `,`. Lines that fail validation, including lines longer than the
// reader's limit, are dropped and counted, never fatal.
package recipient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/okian/airdrop/internal/domain/model"
	"github.com/okian/airdrop/pkg/logger"
	"github.com/okian/airdrop/pkg/metrics"
)

// Default reader configuration constants.
const (
	defaultSkipLines = 1
	maxLineBytes     = 1 << 20
)

// Skip reasons reported to callbacks and metrics.
const (
	ReasonMissingField   = "missing_field"
	ReasonInvalidAddress = "invalid_address"
	ReasonInvalidWeight  = "invalid_weight"
	ReasonDuplicate      = "duplicate_address"
	ReasonLineTooLong    = "line_too_long"
)

// Stats counts what the reader has seen so far.
type Stats struct {
	LinesRead    int
	LinesSkipped int
}

// Reader is a lazy, single-pass sequence of recipients in source order.
// Use it like bufio.Scanner: loop on Next, read Recipient, then check Err.
type Reader struct {
	src       *bufio.Reader
	skipLines int
	onSkip    func(ParseError)
	logger    logger.Logger

	line    int
	current model.Recipient
	stats   Stats
	err     error
	done    bool
}

// Option applies a configuration option to the Reader.
type Option func(*Reader)

// WithSkipLines sets how many leading lines (headers) are ignored.
func WithSkipLines(n int) Option {
	return func(r *Reader) {
		if n >= 0 {
			r.skipLines = n
		}
	}
}

// WithSkipHandler registers a callback invoked for every dropped line.
func WithSkipHandler(fn func(ParseError)) Option {
	return func(r *Reader) {
		r.onSkip = fn
	}
}

// WithLogger sets the logger used for skipped-line diagnostics.
func WithLogger(l logger.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReader wraps src. The reader does not close src.
func NewReader(src io.Reader, opts ...Option) *Reader {
	r := &Reader{
		skipLines: defaultSkipLines,
		logger:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.src = bufio.NewReaderSize(src, 64*1024)
	return r
}

// Next advances to the next valid recipient. It returns false at end of
// input, on a read error, or when ctx is cancelled.
func (r *Reader) Next(ctx context.Context) bool {
	if r.done {
		return false
	}
	for {
		if err := ctx.Err(); err != nil {
			r.err = err
			r.done = true
			return false
		}
		raw, tooLong, err := r.readLine()
		if err != nil {
			r.done = true
			if !errors.Is(err, io.EOF) {
				r.err = fmt.Errorf("read recipients at line %d: %w", r.line+1, err)
			}
			return false
		}
		r.line++
		if r.line <= r.skipLines {
			continue
		}
		text := strings.TrimSpace(string(raw))
		if text == "" && !tooLong {
			continue
		}

		r.stats.LinesRead++
		metrics.RecordLineRead()

		if tooLong {
			r.Skip(ctx, ParseError{
				Line:   r.line,
				Reason: ReasonLineTooLong,
				Field:  firstField(text),
				Err:    fmt.Errorf("line exceeds %d bytes", maxLineBytes),
			})
			continue
		}

		rec, perr := parseLine(r.line, text)
		if perr != nil {
			r.Skip(ctx, *perr)
			continue
		}
		r.current = rec
		return true
	}
}

// readLine returns the next line without its terminator. Bytes past
// maxLineBytes are consumed and dropped, and tooLong reports that it happened.
// A final line without a newline is returned as is; io.EOF follows it.
func (r *Reader) readLine() (line []byte, tooLong bool, err error) {
	var buf []byte
	read := false
	for {
		chunk, isPrefix, err := r.src.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && read {
				return buf, tooLong, nil
			}
			return nil, false, err
		}
		read = true
		if room := maxLineBytes - len(buf); room > 0 {
			if len(chunk) > room {
				buf = append(buf, chunk[:room]...)
				tooLong = true
			} else {
				buf = append(buf, chunk...)
			}
		} else if len(chunk) > 0 {
			tooLong = true
		}
		if !isPrefix {
			return buf, tooLong, nil
		}
	}
}

// Recipient returns the record produced by the last successful Next.
func (r *Reader) Recipient() model.Recipient {
	return r.current
}

// Err returns the first non-recoverable error hit while reading.
func (r *Reader) Err() error {
	return r.err
}

// Stats returns the running line counters.
func (r *Reader) Stats() Stats {
	return r.stats
}

// Skip counts a line as dropped and notifies the skip handler. Collect uses it
// for lines it discards after parsing, such as duplicates.
func (r *Reader) Skip(ctx context.Context, perr ParseError) {
	r.stats.LinesSkipped++
	metrics.RecordLineSkipped(perr.Reason)
	r.logger.Debug(ctx, "skipping recipient line",
		logger.Int("line", perr.Line),
		logger.String("reason", perr.Reason),
		logger.Error(perr.Err),
	)
	if r.onSkip != nil {
		r.onSkip(perr)
	}
}

// parseLine validates a single non-empty data line.
func parseLine(line int, text string) (model.Recipient, *ParseError) {
	fields := splitFields(text)
	if len(fields) < 2 {
		return model.Recipient{}, &ParseError{Line: line, Reason: ReasonMissingField, Field: fields[0], Err: errors.New("expected address and weight")}
	}

	addr := fields[0]
	if !common.IsHexAddress(addr) {
		return model.Recipient{}, &ParseError{Line: line, Reason: ReasonInvalidAddress, Field: addr, Err: fmt.Errorf("%q is not an account address", addr)}
	}
	if !checksumValid(addr) {
		return model.Recipient{}, &ParseError{Line: line, Reason: ReasonInvalidAddress, Field: addr, Err: fmt.Errorf("%q fails its EIP-55 checksum", addr)}
	}

	weight, err := model.ParseUnits(fields[1])
	if err != nil {
		return model.Recipient{}, &ParseError{Line: line, Reason: ReasonInvalidWeight, Field: addr, Err: fmt.Errorf("weight %q: %w", fields[1], err)}
	}

	return model.Recipient{
		Address: common.HexToAddress(addr),
		Weight:  weight,
		Line:    line,
	}, nil
}

// splitFields strips quotes, normalizes `;` to `,` and splits.
func splitFields(text string) []string {
	text = strings.NewReplacer(`"`, "", `'`, "", ";", ",").Replace(text)
	parts := strings.Split(text, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// checksumValid accepts all-lower and all-upper hex as unchecksummed input.
// Mixed case must match the EIP-55 encoding exactly.
func checksumValid(addr string) bool {
	hex := strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X")
	if hex == strings.ToLower(hex) || hex == strings.ToUpper(hex) {
		return true
	}
	return common.HexToAddress(hex).Hex() == "0x"+hex
}

// firstField returns the address column of a line, bounded for logs and exports.
func firstField(text string) string {
	const maxField = 128
	field := splitFields(text)[0]
	if len(field) > maxField {
		field = field[:maxField]
	}
	return field
}
