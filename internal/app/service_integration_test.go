package service_test

import (
	"context"
	"encoding/csv"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/okian/airdrop/internal/adapters/checkpoint"
	"github.com/okian/airdrop/internal/adapters/ledger"
	service "github.com/okian/airdrop/internal/app"
	"github.com/okian/airdrop/internal/domain/model"
	"github.com/okian/airdrop/internal/domain/recipient"
	"github.com/okian/airdrop/internal/report"
	. "github.com/smartystreets/goconvey/convey"
)

// cancelingLedger cancels the run context while its first batch is in flight.
type cancelingLedger struct {
	*ledger.MemoryLedger
	cancel      context.CancelFunc
	inflightErr error
}

func (c *cancelingLedger) SubmitBatchTransfer(ctx context.Context, addrs []common.Address, amounts []*big.Int) (model.Receipt, error) {
	c.cancel()
	c.inflightErr = ctx.Err()
	return c.MemoryLedger.SubmitBatchTransfer(ctx, addrs, amounts)
}

func TestServiceResume(t *testing.T) {
	ctx := context.Background()

	Convey("Given a two-batch run that halts after batch one", t, func() {
		path := filepath.Join(t.TempDir(), "checkpoint.jsonl")
		halt := errors.New("connection reset")
		l := ledger.NewMemoryLedger(holder, big.NewInt(1000), ledger.FailOn(2, halt))

		store, err := checkpoint.OpenFileStore(ctx, path)
		So(err, ShouldBeNil)
		e := service.New(l, store, holder, service.WithBatchSize(1))

		first, err := e.Run(ctx, source(line(1, "1"), line(2, "3")))
		So(store.Close(), ShouldBeNil)

		Convey("Then the first invocation fails on batch two with batch one checkpointed", func() {
			var execErr *service.ExecutionError
			So(errors.As(err, &execErr), ShouldBeTrue)
			So(execErr.Batch, ShouldEqual, 2)
			So(errors.Is(err, halt), ShouldBeTrue)
			So(first.State, ShouldEqual, report.StateAborted)
			So(first.BatchesSent, ShouldEqual, 1)
			So(first.Committed.Int64(), ShouldEqual, 250)
		})

		Convey("When the run is resumed from the checkpoint", func() {
			reopened, err := checkpoint.OpenFileStore(ctx, path)
			So(err, ShouldBeNil)
			defer reopened.Close()

			second, err := service.New(l, reopened, holder, service.WithBatchSize(1)).
				Run(ctx, source(line(1, "1"), line(2, "3")))

			Convey("Then only batch two is submitted, with the original amount", func() {
				So(err, ShouldBeNil)
				subs := l.Submissions()
				So(len(subs), ShouldEqual, 2)
				So(subs[0].Addrs, ShouldResemble, []common.Address{addr(1)})
				So(subs[1].Addrs, ShouldResemble, []common.Address{addr(2)})
				So(subs[1].Amounts[0].Int64(), ShouldEqual, 750)

				So(second.AlreadyCompleted, ShouldEqual, 1)
				So(second.BatchesPlanned, ShouldEqual, 1)
				So(second.TotalBalance.Int64(), ShouldEqual, 1000)
				So(second.CurrentBatch, ShouldEqual, 1)

				all, _ := reopened.All(ctx)
				So(len(all), ShouldEqual, 2)
			})

			Convey("Then a third invocation sends nothing", func() {
				attempts := l.Attempts()
				third, err := service.New(l, reopened, holder, service.WithBatchSize(1)).
					Run(ctx, source(line(1, "1"), line(2, "3")))
				So(err, ShouldBeNil)
				So(l.Attempts(), ShouldEqual, attempts)
				So(third.AlreadyCompleted, ShouldEqual, 2)
				So(third.State, ShouldEqual, report.StateCompleted)
			})
		})
	})
}

func TestServiceErrorHandling(t *testing.T) {
	ctx := context.Background()

	Convey("Given a checkpoint that fails after the ledger confirms", t, func() {
		l := ledger.NewMemoryLedger(holder, big.NewInt(1000))
		store := checkpoint.NewMemoryStore()
		store.FlushErr = errors.New("no space left on device")
		e := service.New(l, store, holder, service.WithBatchSize(1))

		summary, err := e.Run(ctx, source(line(1, "1"), line(2, "1")))

		Convey("Then the run aborts and reports the batch as unconfirmed locally", func() {
			var cpErr *service.CheckpointError
			So(errors.As(err, &cpErr), ShouldBeTrue)
			So(cpErr.Batch, ShouldEqual, 1)
			So(cpErr.TransactionHash, ShouldEqual, l.Submissions()[0].Receipt.TransactionHash)

			So(len(l.Submissions()), ShouldEqual, 1)
			So(len(summary.Unconfirmed), ShouldEqual, 1)
			So(summary.Unconfirmed[0].Recipients, ShouldEqual, 1)
			So(summary.Committed.Sign(), ShouldEqual, 0)

			_, ok, match := summary.Verify()
			So(ok, ShouldBeTrue)
			So(match, ShouldBeFalse)
		})
	})

	Convey("Given an operator interrupt during the first batch", t, func() {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		l := &cancelingLedger{MemoryLedger: ledger.NewMemoryLedger(holder, big.NewInt(1000)), cancel: cancel}
		store := checkpoint.NewMemoryStore()
		e := service.New(l, store, holder, service.WithBatchSize(1))

		summary, err := e.Run(runCtx, source(line(1, "1"), line(2, "1")))

		Convey("Then the in-flight batch completes and is checkpointed", func() {
			So(l.inflightErr, ShouldBeNil)
			So(len(l.Submissions()), ShouldEqual, 1)
			all, _ := store.All(ctx)
			So(len(all), ShouldEqual, 1)
		})

		Convey("Then no further batch is started", func() {
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(summary.State, ShouldEqual, report.StateAborted)
			So(summary.BatchesSent, ShouldEqual, 1)
			So(summary.BalanceAfter, ShouldNotBeNil)
		})
	})

	Convey("Given a run already in progress", t, func() {
		started := make(chan struct{})
		release := make(chan struct{})
		l := &blockingLedger{MemoryLedger: ledger.NewMemoryLedger(holder, big.NewInt(10)), started: started, release: release}
		e := service.New(l, checkpoint.NewMemoryStore(), holder)

		done := make(chan error, 1)
		go func() {
			_, err := e.Run(ctx, source(line(1, "1")))
			done <- err
		}()
		<-started

		_, err := e.Run(ctx, source(line(1, "1")))
		close(release)

		So(errors.Is(err, service.ErrRunInProgress), ShouldBeTrue)
		So(<-done, ShouldBeNil)
	})
}

type blockingLedger struct {
	*ledger.MemoryLedger
	started chan struct{}
	release chan struct{}
}

func (b *blockingLedger) SubmitBatchTransfer(ctx context.Context, addrs []common.Address, amounts []*big.Int) (model.Receipt, error) {
	close(b.started)
	<-b.release
	return b.MemoryLedger.SubmitBatchTransfer(ctx, addrs, amounts)
}

func TestServiceExport(t *testing.T) {
	ctx := context.Background()

	Convey("Given a completed run with a report file", t, func() {
		dir := t.TempDir()
		reportPath := filepath.Join(dir, "report.csv")
		l := ledger.NewMemoryLedger(holder, big.NewInt(1000))
		store := checkpoint.NewMemoryStore()
		e := service.New(l, store, holder, service.WithReportFile(reportPath))

		_, err := e.Run(ctx, source(
			line(1, "1"),
			"garbage,1",
			line(2, "0"),
			line(3, "3"),
		))
		So(err, ShouldBeNil)

		Convey("Then the export lists every source line in order", func() {
			f, err := os.Open(reportPath)
			So(err, ShouldBeNil)
			defer f.Close()
			rows, err := csv.NewReader(f).ReadAll()
			So(err, ShouldBeNil)

			So(len(rows), ShouldEqual, 5)
			So(rows[0], ShouldResemble, report.ExportHeader)
			So(rows[1][0], ShouldEqual, addr(1).Hex())
			So(rows[1][2], ShouldEqual, model.FormatUnits(big.NewInt(250)))
			So(rows[1][3], ShouldEqual, l.Submissions()[0].Receipt.TransactionHash.Hex())
			So(rows[2], ShouldResemble, []string{"garbage", "0", "0", ""})
			So(rows[3], ShouldResemble, []string{addr(2).Hex(), "0", "0", ""})
			So(rows[4][0], ShouldEqual, addr(3).Hex())
		})

		Convey("Then a standalone export keeps unparsable lines but not superseded duplicates", func() {
			out := filepath.Join(dir, "lastwins.csv")
			lw := service.New(l, store, holder, service.WithDuplicatePolicy(recipient.DuplicateLastWins))
			err := lw.Export(ctx, source(line(1, "1"), "0xnothex,2", line(3, "3"), line(1, "5")), out)
			So(err, ShouldBeNil)

			f, _ := os.Open(out)
			defer f.Close()
			rows, _ := csv.NewReader(f).ReadAll()
			So(len(rows), ShouldEqual, 4)
			So(rows[1][0], ShouldEqual, addr(1).Hex())
			So(rows[1][1], ShouldEqual, "5")
			So(rows[2][0], ShouldEqual, "0xnothex")
			So(rows[3][0], ShouldEqual, addr(3).Hex())
		})

		Convey("Then a standalone export of a longer source shows pending rows", func() {
			out := filepath.Join(dir, "export.csv")
			err := e.Export(ctx, source(line(1, "1"), line(2, "0"), line(3, "3"), line(4, "2")), out)
			So(err, ShouldBeNil)

			f, _ := os.Open(out)
			defer f.Close()
			rows, _ := csv.NewReader(f).ReadAll()
			So(len(rows), ShouldEqual, 5)
			So(rows[4], ShouldResemble, []string{addr(4).Hex(), "2", "0", ""})
		})
	})
}

func TestServiceBatchDelay(t *testing.T) {
	Convey("Given a batch delay", t, func() {
		l := ledger.NewMemoryLedger(holder, big.NewInt(1000))
		e := service.New(l, checkpoint.NewMemoryStore(), holder,
			service.WithBatchSize(1),
			service.WithBatchDelay(20*time.Millisecond),
		)

		start := time.Now()
		_, err := e.Run(context.Background(), source(line(1, "1"), line(2, "1"), line(3, "1")))

		Convey("Then the engine pauses between batches but not after the last", func() {
			So(err, ShouldBeNil)
			So(len(l.Submissions()), ShouldEqual, 3)
			So(time.Since(start), ShouldBeGreaterThanOrEqualTo, 40*time.Millisecond)
		})
	})
}
