package recipient_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/okian/airdrop/internal/domain/recipient"
	. "github.com/smartystreets/goconvey/convey"
)

const (
	addrA = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	addrB = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
	addrC = "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB"
)

func TestReader(t *testing.T) {
	ctx := context.Background()

	Convey("Given a recipient source with a header", t, func() {
		src := strings.Join([]string{
			"address,weight",
			addrA + ",1",
			`"` + addrB + `";"2.5"`,
			"",
			"not-an-address,4",
			addrC + ",-1",
			addrC + ",abc",
			addrC,
			strings.ToLower(addrC) + " , 0.000000000000000001 ",
		}, "\n")

		var skipped []recipient.ParseError
		r := recipient.NewReader(strings.NewReader(src),
			recipient.WithSkipHandler(func(pe recipient.ParseError) { skipped = append(skipped, pe) }),
		)

		Convey("When draining the reader", func() {
			var got []string
			var lines []int
			for r.Next(ctx) {
				rec := r.Recipient()
				got = append(got, rec.Address.Hex()+"="+rec.Weight.String())
				lines = append(lines, rec.Line)
			}

			Convey("Then valid lines come out in file order with checksummed addresses", func() {
				So(r.Err(), ShouldBeNil)
				So(got, ShouldResemble, []string{
					addrA + "=1000000000000000000",
					addrB + "=2500000000000000000",
					addrC + "=1",
				})
				So(lines, ShouldResemble, []int{2, 3, 9})
			})

			Convey("Then malformed lines are counted without aborting", func() {
				stats := r.Stats()
				So(stats.LinesRead, ShouldEqual, 7)
				So(stats.LinesSkipped, ShouldEqual, 4)
				So(len(skipped), ShouldEqual, 4)
				So(skipped[0].Reason, ShouldEqual, recipient.ReasonInvalidAddress)
				So(skipped[0].Line, ShouldEqual, 5)
				So(skipped[1].Reason, ShouldEqual, recipient.ReasonInvalidWeight)
				So(skipped[2].Reason, ShouldEqual, recipient.ReasonInvalidWeight)
				So(skipped[3].Reason, ShouldEqual, recipient.ReasonMissingField)
			})

			Convey("Then the reader is single-pass", func() {
				So(r.Next(ctx), ShouldBeFalse)
			})
		})
	})

	Convey("Given a source without a header", t, func() {
		r := recipient.NewReader(strings.NewReader(addrA+",1\n"), recipient.WithSkipLines(0))

		Convey("Then the first line is data", func() {
			So(r.Next(ctx), ShouldBeTrue)
			So(r.Recipient().Address, ShouldEqual, common.HexToAddress(addrA))
		})
	})

	Convey("Given a line far longer than the reader accepts", t, func() {
		huge := strings.Repeat("x", 2<<20)
		src := "h\n" + huge + "\n" + addrA + ",1\n" + addrB + ",2"

		var skipped []recipient.ParseError
		r := recipient.NewReader(strings.NewReader(src),
			recipient.WithSkipHandler(func(pe recipient.ParseError) { skipped = append(skipped, pe) }),
		)

		Convey("Then it is skipped and the following lines still load", func() {
			var got []common.Address
			for r.Next(ctx) {
				got = append(got, r.Recipient().Address)
			}
			So(r.Err(), ShouldBeNil)
			So(got, ShouldResemble, []common.Address{common.HexToAddress(addrA), common.HexToAddress(addrB)})
			So(r.Recipient().Line, ShouldEqual, 4)
			So(len(skipped), ShouldEqual, 1)
			So(skipped[0].Reason, ShouldEqual, recipient.ReasonLineTooLong)
			So(skipped[0].Line, ShouldEqual, 2)
			So(len(skipped[0].Field), ShouldBeLessThanOrEqualTo, 128)
			So(r.Stats().LinesSkipped, ShouldEqual, 1)
		})
	})

	Convey("Given addresses in every letter case", t, func() {
		badChecksum := strings.Replace(addrA, "aAeb", "AaEB", 1)
		src := strings.Join([]string{
			"h",
			badChecksum + ",1",
			strings.ToLower(addrB) + ",1",
			"0x" + strings.ToUpper(addrC[2:]) + ",1",
			addrA + ",1",
		}, "\n")

		var skipped []recipient.ParseError
		r := recipient.NewReader(strings.NewReader(src),
			recipient.WithSkipHandler(func(pe recipient.ParseError) { skipped = append(skipped, pe) }),
		)
		var got []common.Address
		for r.Next(ctx) {
			got = append(got, r.Recipient().Address)
		}

		Convey("Then a mixed-case address with a wrong checksum is dropped", func() {
			So(len(skipped), ShouldEqual, 1)
			So(skipped[0].Reason, ShouldEqual, recipient.ReasonInvalidAddress)
			So(skipped[0].Field, ShouldEqual, badChecksum)
			So(skipped[0].Err.Error(), ShouldContainSubstring, "checksum")
		})

		Convey("Then single-case and correctly checksummed addresses are accepted", func() {
			So(got, ShouldResemble, []common.Address{
				common.HexToAddress(addrB),
				common.HexToAddress(addrC),
				common.HexToAddress(addrA),
			})
		})
	})

	Convey("Given a weight in exponent notation", t, func() {
		r := recipient.NewReader(strings.NewReader("h\n" + addrA + ",1e60000000\n" + addrB + ",1\n"))
		var got []common.Address
		for r.Next(ctx) {
			got = append(got, r.Recipient().Address)
		}

		Convey("Then the line is skipped as an invalid weight", func() {
			So(got, ShouldResemble, []common.Address{common.HexToAddress(addrB)})
			So(r.Stats().LinesSkipped, ShouldEqual, 1)
		})
	})

	Convey("Given a cancelled context", t, func() {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		r := recipient.NewReader(strings.NewReader("h\n"+addrA+",1\n"))

		Convey("Then Next stops with the context error", func() {
			So(r.Next(cctx), ShouldBeFalse)
			So(errors.Is(r.Err(), context.Canceled), ShouldBeTrue)
		})
	})
}

func TestCollect(t *testing.T) {
	ctx := context.Background()
	src := "h\n" + addrA + ",1\n" + addrB + ",2\n" + strings.ToLower(addrA) + ",5\n"

	Convey("Given a source that repeats an address", t, func() {
		Convey("When collecting under the reject policy", func() {
			r := recipient.NewReader(strings.NewReader(src))
			out, err := recipient.Collect(ctx, r, recipient.DuplicateReject)

			Convey("Then the run is rejected", func() {
				So(out, ShouldBeNil)
				So(errors.Is(err, recipient.ErrDuplicateRecipient), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "lines 2 and 4")
			})
		})

		Convey("When collecting under the last-wins policy", func() {
			r := recipient.NewReader(strings.NewReader(src))
			out, err := recipient.Collect(ctx, r, recipient.DuplicateLastWins)

			Convey("Then the later weight replaces the earlier one in place", func() {
				So(err, ShouldBeNil)
				So(len(out), ShouldEqual, 2)
				So(out[0].Address, ShouldEqual, common.HexToAddress(addrA))
				So(out[0].Weight.String(), ShouldEqual, "5000000000000000000")
				So(out[0].Line, ShouldEqual, 4)
				So(out[1].Address, ShouldEqual, common.HexToAddress(addrB))
				So(r.Stats().LinesSkipped, ShouldEqual, 1)
			})
		})
	})

	Convey("Given policy names", t, func() {
		p, err := recipient.ParseDuplicatePolicy("LAST_WINS")
		So(err, ShouldBeNil)
		So(p, ShouldEqual, recipient.DuplicateLastWins)

		p, err = recipient.ParseDuplicatePolicy("")
		So(err, ShouldBeNil)
		So(p, ShouldEqual, recipient.DuplicateReject)

		_, err = recipient.ParseDuplicatePolicy("first_wins")
		So(err, ShouldNotBeNil)
	})
}
