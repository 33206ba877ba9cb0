package rehearsal_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/airdrop/internal/domain/recipient"
	"github.com/okian/airdrop/internal/rehearsal"
	"github.com/okian/airdrop/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRun(t *testing.T) {
	ctx := context.Background()

	Convey("Given a request for twenty recipients with noise", t, func() {
		out := filepath.Join(t.TempDir(), "nested", "recipients.csv")
		cfg := &rehearsal.Config{
			NumRecipients:   20,
			Workers:         3,
			OutputFile:      out,
			Header:          true,
			ZeroWeightEvery: 5,
			MalformedEvery:  4,
		}

		stats, err := rehearsal.Run(ctx, cfg, logger.Nop())
		So(err, ShouldBeNil)

		Convey("Then the stats describe what was written", func() {
			So(stats.Generated, ShouldEqual, 20)
			So(stats.ZeroWeight, ShouldEqual, 4)
			So(stats.Malformed, ShouldEqual, 5)
			So(stats.TotalWeight.IsPositive(), ShouldBeTrue)
		})

		Convey("Then the recipient reader accepts every generated line and skips the noise", func() {
			b, err := os.ReadFile(out)
			So(err, ShouldBeNil)

			reader := recipient.NewReader(bytes.NewReader(b), recipient.WithSkipLines(1))
			recipients, err := recipient.Collect(ctx, reader, recipient.DuplicateReject)
			So(err, ShouldBeNil)
			So(len(recipients), ShouldEqual, 20)
			So(reader.Stats().LinesSkipped, ShouldEqual, 5)

			zero := 0
			for _, r := range recipients {
				if r.Weight.Sign() == 0 {
					zero++
				}
			}
			So(zero, ShouldEqual, 4)
		})
	})

	Convey("Given more workers than recipients", t, func() {
		cfg := &rehearsal.Config{NumRecipients: 2, Workers: 8, OutputFile: filepath.Join(t.TempDir(), "r.csv")}
		stats, err := rehearsal.Run(ctx, cfg, logger.Nop())

		So(err, ShouldBeNil)
		So(stats.Generated, ShouldEqual, 2)
		So(stats.Malformed, ShouldEqual, 0)
	})

	Convey("Given zero recipients", t, func() {
		_, err := rehearsal.Run(ctx, &rehearsal.Config{}, logger.Nop())
		So(errors.Is(err, rehearsal.ErrInvalidConfig), ShouldBeTrue)
	})

	Convey("Given a cancelled context", t, func() {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := rehearsal.Run(cctx, &rehearsal.Config{NumRecipients: 50, Workers: 2, OutputFile: filepath.Join(t.TempDir(), "r.csv")}, logger.Nop())
		So(errors.Is(err, context.Canceled), ShouldBeTrue)
	})
}
