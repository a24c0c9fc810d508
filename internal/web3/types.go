package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainSnapshot represents summarized network metadata for UI/reporting.
type ChainSnapshot struct {
	Name        string `json:"name"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// ReceiptReader is the subset of chain access needed to follow a broadcast
// transaction until it is included and buried under enough blocks.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Backend is everything contract handles need from a chain connection:
// calls, gas/nonce lookups, transaction submission and receipt tracking.
// Both *ethclient.Client and the go-ethereum simulated backend satisfy it.
type Backend interface {
	bind.ContractBackend
	ReceiptReader
	ChainID(ctx context.Context) (*big.Int, error)
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can interact with different networks uniformly.
type Client interface {
	Name() string
	Backend() Backend
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Close()
}
