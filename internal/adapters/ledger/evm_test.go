package ledger_test

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/okian/airdrop/internal/adapters/ledger"
	. "github.com/smartystreets/goconvey/convey"
)

const (
	distributorHex = "0x00000000000000000000000000000000000000d1"
	tokenHex       = "0x00000000000000000000000000000000000000e2"
)

// fakeBackend answers just enough RPC for bind to build, sign and confirm a legacy transaction.
type fakeBackend struct {
	ledger.Backend

	balance  *big.Int
	status   uint64
	noMining bool
	sent     []*types.Transaction
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1337), nil }

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	parsed, err := abi.JSON(strings.NewReader(`[{"type":"function","name":"balanceOf","inputs":[{"name":"a","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}]`))
	if err != nil {
		return nil, err
	}
	return parsed.Methods["balanceOf"].Outputs.Pack(f.balance)
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1)}, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(3), nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeBackend) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 90_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.noMining {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{
		Status:            f.status,
		TxHash:            hash,
		GasUsed:           81_000,
		EffectiveGasPrice: big.NewInt(3),
		BlockNumber:       big.NewInt(2),
	}, nil
}

func newEVM(backend *fakeBackend, opts ...ledger.EVMOption) (*ledger.EVMLedger, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return ledger.NewEVMLedger(context.Background(), backend, distributorHex, tokenHex, key, opts...)
}

func TestEVMLedger(t *testing.T) {
	ctx := context.Background()

	Convey("Given an EVM ledger over a fake backend", t, func() {
		backend := &fakeBackend{balance: big.NewInt(5_000), status: types.ReceiptStatusSuccessful}
		l, err := newEVM(backend)
		So(err, ShouldBeNil)

		Convey("Then Balance decodes balanceOf", func() {
			bal, err := l.Balance(ctx, common.HexToAddress(distributorHex))
			So(err, ShouldBeNil)
			So(bal.Int64(), ShouldEqual, 5_000)
		})

		Convey("When a batch is confirmed", func() {
			receipt, err := l.SubmitBatchTransfer(ctx,
				[]common.Address{alice, bob},
				[]*big.Int{big.NewInt(1), big.NewInt(2)},
			)

			Convey("Then the receipt reflects the mined transaction", func() {
				So(err, ShouldBeNil)
				So(len(backend.sent), ShouldEqual, 1)
				So(receipt.TransactionHash, ShouldEqual, backend.sent[0].Hash())
				So(receipt.GasUsed, ShouldEqual, 81_000)
				So(receipt.Cost().Int64(), ShouldEqual, 243_000)

				tx := backend.sent[0]
				So(*tx.To(), ShouldEqual, common.HexToAddress(distributorHex))
				So(common.Bytes2Hex(tx.Data()[:4]), ShouldEqual, common.Bytes2Hex(crypto.Keccak256([]byte("batchTransfer(address[],uint256[])"))[:4]))
			})
		})

		Convey("When the transaction reverts", func() {
			backend.status = types.ReceiptStatusFailed
			_, err := l.SubmitBatchTransfer(ctx, []common.Address{alice}, []*big.Int{big.NewInt(1)})
			So(errors.Is(err, ledger.ErrReverted), ShouldBeTrue)
		})

		Convey("When the amounts do not line up", func() {
			_, err := l.SubmitBatchTransfer(ctx, []common.Address{alice}, nil)
			So(errors.Is(err, ledger.ErrLengthMismatch), ShouldBeTrue)
			So(backend.sent, ShouldBeEmpty)
		})
	})

	Convey("Given a transaction that is never mined", t, func() {
		backend := &fakeBackend{balance: big.NewInt(1), noMining: true}
		l, err := newEVM(backend, ledger.WithConfirmTimeout(50*time.Millisecond))
		So(err, ShouldBeNil)

		_, err = l.SubmitBatchTransfer(ctx, []common.Address{alice}, []*big.Int{big.NewInt(1)})
		So(errors.Is(err, ledger.ErrConfirmTimeout), ShouldBeTrue)
	})

	Convey("Given bad construction arguments", t, func() {
		key, _ := crypto.GenerateKey()
		_, err := ledger.NewEVMLedger(ctx, &fakeBackend{}, "nope", tokenHex, key)
		So(errors.Is(err, ledger.ErrInvalidAddress), ShouldBeTrue)

		_, err = ledger.NewEVMLedger(ctx, &fakeBackend{}, distributorHex, tokenHex, nil)
		So(errors.Is(err, ledger.ErrMissingSigner), ShouldBeTrue)
	})
}
