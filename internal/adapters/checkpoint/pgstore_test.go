package checkpoint_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/okian/airdrop/internal/adapters/checkpoint"
	. "github.com/smartystreets/goconvey/convey"
)

func TestPostgresStoreTableValidation(t *testing.T) {
	Convey("Given an unsafe table name", t, func() {
		_, err := checkpoint.OpenPostgresStore(context.Background(), "postgres://unused", "results; DROP TABLE x")

		Convey("Then the store refuses to open", func() {
			So(errors.Is(err, checkpoint.ErrInvalidTable), ShouldBeTrue)
		})
	})
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("AIRDROP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AIRDROP_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	table := fmt.Sprintf("distribution_results_test_%d", time.Now().UnixNano())

	Convey("Given a fresh postgres checkpoint table", t, func() {
		store, err := checkpoint.OpenPostgresStore(ctx, dsn, table)
		So(err, ShouldBeNil)

		Convey("When results are put and flushed", func() {
			So(store.Put(ctx, result(1, 100)), ShouldBeNil)
			So(store.Put(ctx, result(2, 200)), ShouldBeNil)
			So(store.Flush(ctx), ShouldBeNil)
			So(store.Close(), ShouldBeNil)

			Convey("Then a reopened store loads them in order", func() {
				reopened, err := checkpoint.OpenPostgresStore(ctx, dsn, table)
				So(err, ShouldBeNil)
				defer reopened.Close()

				all, err := reopened.All(ctx)
				So(err, ShouldBeNil)
				So(len(all), ShouldEqual, 2)
				So(all[0].Amount.Int64(), ShouldEqual, 100)

				err = reopened.Put(ctx, result(1, 5))
				So(errors.Is(err, checkpoint.ErrAlreadyRecorded), ShouldBeTrue)
			})
		})
	})
}
