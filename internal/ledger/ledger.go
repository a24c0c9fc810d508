// Package ledger 记录已确认的合约操作，按时间倒序查询。
package ledger

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

// Kind 区分部署与写交易。
type Kind string

const (
	KindDeploy Kind = "deploy"
	KindSend   Kind = "send"
)

// Record 是一次已确认操作的摘要。
type Record struct {
	Contract        string `json:"contract"`
	Kind            Kind   `json:"kind"`
	Method          string `json:"method,omitempty"`
	TxHash          string `json:"tx_hash"`
	ContractAddress string `json:"contract_address,omitempty"`
	From            string `json:"from"`
	BlockNumber     uint64 `json:"block_number"`
	GasUsed         uint64 `json:"gas_used"`
	Status          uint64 `json:"status"`
	CreatedAt       int64  `json:"created_at"`
}

// FromReceipt 根据回执构造记录，CreatedAt 取当前时间。
func FromReceipt(contract string, kind Kind, method, from string, receipt *types.Receipt) Record {
	rec := Record{
		Contract:  contract,
		Kind:      kind,
		Method:    method,
		From:      from,
		CreatedAt: time.Now().Unix(),
	}
	if receipt == nil {
		return rec
	}
	rec.TxHash = receipt.TxHash.Hex()
	rec.GasUsed = receipt.GasUsed
	rec.Status = receipt.Status
	if receipt.BlockNumber != nil {
		rec.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if kind == KindDeploy {
		rec.ContractAddress = receipt.ContractAddress.Hex()
	}
	return rec
}

// Query 过滤账本记录；Limit 缺省为 50，最大 500。
type Query struct {
	Contract string
	Limit    int
}

func (q *Query) applyDefaults() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

// Ledger 是追加写入的操作历史。同一交易哈希只记录一次。
type Ledger interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context, q Query) ([]Record, error)
	Close() error
}
