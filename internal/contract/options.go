package contract

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Signer produces signed transaction parameters for a sender address.
type Signer interface {
	TransactOpts(ctx context.Context, from common.Address) (*bind.TransactOpts, error)
}

// TxOptions carries submission settings copied verbatim into the transaction.
// Zero values leave the decision to the backend.
type TxOptions struct {
	GasLimit  uint64   `json:"gas_limit,omitempty"`
	GasPrice  *big.Int `json:"gas_price,omitempty"`
	GasFeeCap *big.Int `json:"gas_fee_cap,omitempty"`
	GasTipCap *big.Int `json:"gas_tip_cap,omitempty"`
	Nonce     *big.Int `json:"nonce,omitempty"`
}

func (h *Handle) transactOpts(ctx context.Context, from common.Address, value *big.Int, opts TxOptions) (*bind.TransactOpts, error) {
	if from == (common.Address{}) {
		return nil, rejectedError(nil, "缺少交易发送方 from")
	}
	if h.signer == nil {
		return nil, rejectedError(nil, "未配置交易签名器")
	}
	auth, err := h.signer.TransactOpts(ctx, from)
	if err != nil {
		return nil, submissionError(err, "获取签名器失败")
	}
	applyTxOptions(auth, value, opts)
	auth.Context = ctx
	return auth, nil
}

func applyTxOptions(auth *bind.TransactOpts, value *big.Int, opts TxOptions) {
	if value != nil && value.Sign() > 0 {
		auth.Value = new(big.Int).Set(value)
	}
	auth.GasLimit = opts.GasLimit
	auth.GasPrice = opts.GasPrice
	auth.GasFeeCap = opts.GasFeeCap
	auth.GasTipCap = opts.GasTipCap
	auth.Nonce = opts.Nonce
}
