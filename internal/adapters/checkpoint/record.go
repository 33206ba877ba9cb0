package checkpoint

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/okian/airdrop/internal/domain/model"
)

// record is the on-disk shape of one result. Amount is a base-unit decimal string.
type record struct {
	Address         string `json:"address"`
	TransactionHash string `json:"transactionHash"`
	Amount          string `json:"amount"`
}

func toRecord(res model.DistributionResult) record {
	amount := "0"
	if res.Amount != nil {
		amount = res.Amount.String()
	}
	return record{
		Address:         res.Address.Hex(),
		TransactionHash: res.TransactionHash.Hex(),
		Amount:          amount,
	}
}

func (r record) result() (model.DistributionResult, error) {
	if !common.IsHexAddress(r.Address) {
		return model.DistributionResult{}, fmt.Errorf("invalid address %q", r.Address)
	}
	amount, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return model.DistributionResult{}, fmt.Errorf("invalid amount %q", r.Amount)
	}
	return model.DistributionResult{
		Address:         common.HexToAddress(r.Address),
		Amount:          amount,
		TransactionHash: common.HexToHash(r.TransactionHash),
	}, nil
}
