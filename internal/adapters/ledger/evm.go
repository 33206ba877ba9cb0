package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/okian/airdrop/internal/domain/model"
	"github.com/okian/airdrop/pkg/logger"
)

const (
	defaultConfirmTimeout = 5 * time.Minute

	distributorABI = `[{"type":"function","name":"batchTransfer","stateMutability":"nonpayable",
		"inputs":[{"name":"recipients","type":"address[]"},{"name":"amounts","type":"uint256[]"}],"outputs":[]}]`

	tokenABI = `[{"type":"function","name":"balanceOf","stateMutability":"view",
		"inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}]`
)

// Backend is the subset of an Ethereum client the EVM ledger needs.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// EVMLedger submits batches to a distributor contract that holds the tokens
// and exposes batchTransfer(address[],uint256[]).
type EVMLedger struct {
	backend     Backend
	distributor *bind.BoundContract
	tokenAddr   common.Address
	tokenABI    abi.ABI
	opts        *bind.TransactOpts

	confirmTimeout time.Duration
	logger         logger.Logger

	// serializes submissions from the signing account
	mu sync.Mutex
}

// EVMOption applies a configuration option to the EVMLedger.
type EVMOption func(*EVMLedger)

// WithConfirmTimeout bounds how long SubmitBatchTransfer waits for a receipt.
func WithConfirmTimeout(d time.Duration) EVMOption {
	return func(l *EVMLedger) {
		if d > 0 {
			l.confirmTimeout = d
		}
	}
}

// WithEVMLogger sets the logger.
func WithEVMLogger(lg logger.Logger) EVMOption {
	return func(l *EVMLedger) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// DialEVM connects to rpcURL and builds an EVMLedger signing with privateKeyHex.
func DialEVM(ctx context.Context, rpcURL, distributor, token, privateKeyHex string, opts ...EVMOption) (*EVMLedger, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rpc: %w", err)
	}
	key, err := parseKey(privateKeyHex)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	l, err := NewEVMLedger(ctx, client, distributor, token, key, opts...)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return l, client, nil
}

// NewEVMLedger builds an EVMLedger over backend.
func NewEVMLedger(ctx context.Context, backend Backend, distributor, token string, key *ecdsa.PrivateKey, opts ...EVMOption) (*EVMLedger, error) {
	if !common.IsHexAddress(distributor) {
		return nil, fmt.Errorf("%w: distributor %q", ErrInvalidAddress, distributor)
	}
	if !common.IsHexAddress(token) {
		return nil, fmt.Errorf("%w: token %q", ErrInvalidAddress, token)
	}
	if key == nil {
		return nil, ErrMissingSigner
	}

	dABI, err := abi.JSON(strings.NewReader(distributorABI))
	if err != nil {
		return nil, fmt.Errorf("parse distributor abi: %w", err)
	}
	tABI, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		return nil, fmt.Errorf("parse token abi: %w", err)
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	txOpts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}

	distributorAddr := common.HexToAddress(distributor)
	l := &EVMLedger{
		backend:        backend,
		distributor:    bind.NewBoundContract(distributorAddr, dABI, backend, backend, backend),
		tokenAddr:      common.HexToAddress(token),
		tokenABI:       tABI,
		opts:           txOpts,
		confirmTimeout: defaultConfirmTimeout,
		logger:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.logger.Info(ctx, "evm ledger ready",
		logger.String("chainId", chainID.String()),
		logger.String("distributor", distributorAddr.Hex()),
		logger.String("token", l.tokenAddr.Hex()),
		logger.String("sender", txOpts.From.Hex()),
	)
	return l, nil
}

// Sender is the account that signs batch transactions.
func (l *EVMLedger) Sender() common.Address {
	return l.opts.From
}

// Balance calls balanceOf(holder) on the token contract.
func (l *EVMLedger) Balance(ctx context.Context, holder common.Address) (*big.Int, error) {
	data, err := l.tokenABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}

	msg := ethereum.CallMsg{
		To:   &l.tokenAddr,
		Data: data,
	}
	out, err := l.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call balanceOf: %w", err)
	}

	var balance *big.Int
	if err := l.tokenABI.UnpackIntoInterface(&balance, "balanceOf", out); err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	return balance, nil
}

// SubmitBatchTransfer sends batchTransfer and waits for the receipt.
// A zero receipt status is ErrReverted; running out of confirmTimeout is ErrConfirmTimeout.
func (l *EVMLedger) SubmitBatchTransfer(ctx context.Context, addrs []common.Address, amounts []*big.Int) (model.Receipt, error) {
	if err := validateBatch(addrs, amounts); err != nil {
		return model.Receipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	opts := *l.opts
	opts.Context = ctx
	tx, err := l.distributor.Transact(&opts, "batchTransfer", addrs, amounts)
	if err != nil {
		return model.Receipt{}, fmt.Errorf("send batchTransfer: %w", err)
	}

	l.logger.Debug(ctx, "batch transaction sent",
		logger.String("txHash", tx.Hash().Hex()),
		logger.Uint64("nonce", tx.Nonce()),
		logger.Int("recipients", len(addrs)),
	)

	waitCtx, cancel := context.WithTimeout(ctx, l.confirmTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, l.backend, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.Receipt{}, fmt.Errorf("%w: %s after %s", ErrConfirmTimeout, tx.Hash().Hex(), l.confirmTimeout)
		}
		return model.Receipt{}, fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return model.Receipt{}, fmt.Errorf("%w: %s in block %s", ErrReverted, tx.Hash().Hex(), receipt.BlockNumber)
	}

	gasPrice := receipt.EffectiveGasPrice
	if gasPrice == nil {
		gasPrice = tx.GasPrice()
	}
	return model.Receipt{
		TransactionHash: tx.Hash(),
		GasUsed:         receipt.GasUsed,
		GasPrice:        gasPrice,
	}, nil
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, ErrMissingSigner
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	return key, nil
}
