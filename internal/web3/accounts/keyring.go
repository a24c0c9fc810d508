// Package accounts resolves sender addresses to transaction signers.
package accounts

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	xerrors "ContractHub/internal/errors"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// CodeUnknownAccount 表示没有可用于签名的私钥。
const CodeUnknownAccount xerrors.Code = "UNKNOWN_ACCOUNT"

func init() {
	xerrors.Register(CodeUnknownAccount, xerrors.Attributes{
		Message:  "no signing key for account",
		Severity: xerrors.SeverityWarning,
	})
}

// Keyring 保存私钥并按地址生成交易签名器。
type Keyring struct {
	mu      sync.RWMutex
	chainID *big.Int
	keys    map[common.Address]*ecdsa.PrivateKey
}

// NewKeyring 创建指定链 ID 的空 Keyring。
func NewKeyring(chainID *big.Int) *Keyring {
	id := new(big.Int)
	if chainID != nil {
		id.Set(chainID)
	}
	return &Keyring{chainID: id, keys: make(map[common.Address]*ecdsa.PrivateKey)}
}

// Add 注册一个私钥并返回其地址。
func (k *Keyring) Add(key *ecdsa.PrivateKey) common.Address {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	k.mu.Lock()
	k.keys[addr] = key
	k.mu.Unlock()
	return addr
}

// AddHex 解析十六进制私钥（可带 0x 前缀）后注册。
func (k *Keyring) AddHex(hexKey string) (common.Address, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return common.Address{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析私钥失败")
	}
	return k.Add(key), nil
}

// Addresses 返回已注册的地址，按十六进制排序。
func (k *Keyring) Addresses() []common.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]common.Address, 0, len(k.keys))
	for addr := range k.keys {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

// TransactOpts 为 from 构造带签名器的交易参数。
func (k *Keyring) TransactOpts(ctx context.Context, from common.Address) (*bind.TransactOpts, error) {
	k.mu.RLock()
	key, ok := k.keys[from]
	k.mu.RUnlock()
	if !ok {
		return nil, xerrors.New(CodeUnknownAccount, fmt.Sprintf("账户 %s 未配置私钥", from.Hex()))
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, k.chainID)
	if err != nil {
		return nil, fmt.Errorf("创建交易签名器失败: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}
