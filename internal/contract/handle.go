package contract

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	xerrors "ContractHub/internal/errors"
	"ContractHub/internal/web3"
	"ContractHub/pkg/logger"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

var errNoCodeAfterDeploy = errors.New("no contract code after deployment")

// Handle binds an ABI and bytecode pair to one (possibly not yet deployed)
// contract. It is safe for concurrent use; the latest receipt, transaction
// hash and address reflect whichever operation completed last.
type Handle struct {
	backend      web3.Backend
	signer       Signer
	tracker      Tracker
	depth        uint64
	pollInterval time.Duration
	logger       *slog.Logger
	code         string

	mu       sync.RWMutex
	instance *Instance
	receipt  *types.Receipt
	txHash   common.Hash
	hasTx    bool
}

// Option 配置 Handle 的可选行为。
type Option func(*Handle)

// WithTracker 替换默认的轮询确认跟踪器。
func WithTracker(tracker Tracker) Option {
	return func(h *Handle) {
		h.tracker = tracker
	}
}

// WithConfirmations 设置交易需要达到的确认深度，0 视为 1。
func WithConfirmations(depth uint64) Option {
	return func(h *Handle) {
		h.depth = depth
	}
}

// WithPollInterval 设置默认跟踪器的轮询间隔。
func WithPollInterval(interval time.Duration) Option {
	return func(h *Handle) {
		h.pollInterval = interval
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(h *Handle) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates a handle. When alternate is true the bytecode is stored with a
// "0x" prefix prepended; otherwise it is kept as given. The address stays
// unset until a deployment confirms or SetAddress is called.
func New(backend web3.Backend, signer Signer, parsed abi.ABI, code string, alternate bool, opts ...Option) *Handle {
	h := &Handle{
		backend: backend,
		signer:  signer,
		depth:   1,
		logger:  logger.Named("contract"),
		code:    normalizeCode(code, alternate),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.depth == 0 {
		h.depth = 1
	}
	if h.tracker == nil && backend != nil {
		h.tracker = NewPollingTracker(backend, h.pollInterval, h.logger)
	}
	h.instance = newInstance(parsed, backend)
	return h
}

func normalizeCode(code string, alternate bool) string {
	if alternate {
		return "0x" + code
	}
	return code
}

// decodeBytecode rejects anything that is not whole hex bytes, so malformed
// code never reaches a signed transaction.
func decodeBytecode(code string) ([]byte, error) {
	switch {
	case code == "":
		return nil, nil
	case strings.HasPrefix(code, "0x") || strings.HasPrefix(code, "0X"):
		return hexutil.Decode("0x" + code[2:])
	default:
		return hex.DecodeString(code)
	}
}

// ParseABI parses a JSON ABI definition.
func ParseABI(definition string) (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("解析 ABI 失败: %w", err)
	}
	return parsed, nil
}

// Code returns the normalized bytecode.
func (h *Handle) Code() string {
	return h.code
}

// Instance returns the current binding.
func (h *Handle) Instance() *Instance {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.instance
}

// Receipt returns the receipt of the most recently confirmed deploy or send.
func (h *Handle) Receipt() *types.Receipt {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.receipt
}

// TransactionHash returns the hash of the most recently broadcast deployment.
func (h *Handle) TransactionHash() (common.Hash, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.txHash, h.hasTx
}

// Address returns the bound contract address, if any.
func (h *Handle) Address() (common.Address, bool) {
	return h.Instance().Address()
}

// SetAddress points the current binding at addr without any validation.
func (h *Handle) SetAddress(addr common.Address) {
	h.mu.Lock()
	h.instance = h.instance.At(addr)
	h.mu.Unlock()
}

// SetABI replaces the binding with a fresh one for parsed. Any previously
// set address is dropped.
func (h *Handle) SetABI(parsed abi.ABI) {
	h.mu.Lock()
	h.instance = newInstance(parsed, h.backend)
	h.mu.Unlock()
}

// Deploy broadcasts the contract creation and blocks until it is confirmed.
// The returned instance is bound to the new contract address.
func (h *Handle) Deploy(ctx context.Context, from common.Address, value *big.Int, opts TxOptions, args ...any) (*Instance, error) {
	inst, _, err := h.DeployWithReceipt(ctx, from, value, opts, args...)
	return inst, err
}

// DeployWithReceipt is Deploy that also returns the receipt of this very
// deployment, unaffected by operations completing concurrently on h.
func (h *Handle) DeployWithReceipt(ctx context.Context, from common.Address, value *big.Int, opts TxOptions, args ...any) (*Instance, *types.Receipt, error) {
	if h.backend == nil {
		return nil, nil, rejectedError(nil, "未配置链连接")
	}
	bytecode, err := decodeBytecode(h.code)
	if err != nil {
		return nil, nil, rejectedError(err, "合约字节码不是合法十六进制")
	}
	if len(bytecode) == 0 {
		return nil, nil, rejectedError(nil, "合约字节码为空")
	}
	auth, err := h.transactOpts(ctx, from, value, opts)
	if err != nil {
		return nil, nil, err
	}

	parsed := h.Instance().ABI()
	_, tx, _, err := bind.DeployContract(auth, parsed, bytecode, h.backend, args...)
	if err != nil {
		h.logger.Warn("部署交易提交失败", slog.String("from", from.Hex()), slog.String("error", err.Error()))
		return nil, nil, submissionError(err, "部署交易提交失败")
	}

	h.mu.Lock()
	h.txHash = tx.Hash()
	h.hasTx = true
	h.mu.Unlock()
	h.logger.Info("部署交易已提交", slog.String("tx_hash", tx.Hash().Hex()), slog.String("from", from.Hex()))

	receipt, err := h.await(ctx, tx.Hash())
	if err != nil {
		return nil, nil, err
	}

	addr := receipt.ContractAddress
	code, err := h.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, nil, confirmationError(err, "读取合约代码失败")
	}
	if len(code) == 0 {
		return nil, nil, confirmationError(errNoCodeAfterDeploy, fmt.Sprintf("地址 %s 上没有合约代码", addr.Hex()))
	}

	h.mu.Lock()
	h.receipt = receipt
	h.instance = h.instance.At(addr)
	bound := h.instance
	h.mu.Unlock()

	logger.Audit().Info("合约部署完成",
		slog.String("tx_hash", receipt.TxHash.Hex()),
		slog.String("address", addr.Hex()),
		slog.String("from", from.Hex()),
		slog.Uint64("block", receipt.BlockNumber.Uint64()),
		slog.Uint64("gas_used", receipt.GasUsed))
	return bound, receipt, nil
}

// Call invokes a declared function without submitting a transaction.
func (h *Handle) Call(ctx context.Context, name string, from common.Address, args ...any) ([]any, error) {
	inst := h.Instance()
	if _, ok := inst.Method(name); !ok {
		return nil, callError(nil, fmt.Sprintf("ABI 中未声明函数 %q", name))
	}
	out, err := inst.call(ctx, from, name, args...)
	if err != nil {
		return nil, callError(err, fmt.Sprintf("调用 %s 失败", name))
	}
	return out, nil
}

// Send submits a transaction invoking a declared function and blocks until it
// is confirmed. The bound address and the deployment hash are not touched.
func (h *Handle) Send(ctx context.Context, name string, from common.Address, value *big.Int, opts TxOptions, args ...any) (*types.Receipt, error) {
	inst := h.Instance()
	if _, ok := inst.Method(name); !ok {
		return nil, rejectedError(nil, fmt.Sprintf("ABI 中未声明函数 %q", name))
	}
	if _, bound := inst.Address(); !bound {
		return nil, submissionError(errNoAddress, fmt.Sprintf("无法调用 %s", name))
	}
	auth, err := h.transactOpts(ctx, from, value, opts)
	if err != nil {
		return nil, err
	}

	tx, err := inst.transact(auth, name, args...)
	if err != nil {
		h.logger.Warn("交易提交失败", slog.String("method", name), slog.String("from", from.Hex()), slog.String("error", err.Error()))
		return nil, submissionError(err, fmt.Sprintf("%s 交易提交失败", name))
	}
	h.logger.Info("交易已提交", slog.String("method", name), slog.String("tx_hash", tx.Hash().Hex()))

	receipt, err := h.await(ctx, tx.Hash())
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.receipt = receipt
	h.mu.Unlock()

	logger.Audit().Info("合约交易确认",
		slog.String("method", name),
		slog.String("tx_hash", receipt.TxHash.Hex()),
		slog.String("from", from.Hex()),
		slog.Uint64("block", receipt.BlockNumber.Uint64()),
		slog.Uint64("gas_used", receipt.GasUsed))
	return receipt, nil
}

// Encode returns the 0x-prefixed calldata for a declared function.
func (h *Handle) Encode(name string, args ...any) (string, error) {
	inst := h.Instance()
	if _, ok := inst.Method(name); !ok {
		return "", encodingError(nil, fmt.Sprintf("ABI 中未声明函数 %q", name))
	}
	data, err := inst.Pack(name, args...)
	if err != nil {
		return "", encodingError(err, fmt.Sprintf("编码 %s 失败", name))
	}
	return hexutil.Encode(data), nil
}

// await settles exactly once: on the wanted confirmation depth, on the first
// asynchronous error, or when ctx ends. Tracking stops and the subscription is
// released on return.
func (h *Handle) await(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if h.tracker == nil {
		return nil, confirmationError(nil, "未配置交易跟踪器")
	}
	sub := NewSubmission(hash)
	confirmations := make(chan Confirmation, h.depth)
	subscription := sub.Subscribe(confirmations)
	defer subscription.Unsubscribe()

	trackCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go h.tracker.Track(trackCtx, sub, h.depth)

	for {
		select {
		case c := <-confirmations:
			if c.Number >= h.depth {
				return c.Receipt, nil
			}
			h.logger.Debug("交易确认中",
				slog.String("tx_hash", hash.Hex()),
				slog.Uint64("confirmations", c.Number),
				slog.Uint64("required", h.depth))
		case err := <-sub.Errors():
			err = xerrors.Wrap(CodeConfirmation, err, fmt.Sprintf("交易 %s 确认失败", hash.Hex()),
				xerrors.WithMetadata(MetadataTxHash, hash.Hex()))
			h.logger.Warn("交易确认失败", slog.String("tx_hash", hash.Hex()), slog.String("error", err.Error()))
			return nil, err
		case <-ctx.Done():
			return nil, xerrors.Wrap(CodeConfirmation, ctx.Err(), fmt.Sprintf("等待交易 %s 确认被中断", hash.Hex()),
				xerrors.WithMetadata(MetadataTxHash, hash.Hex()))
		}
	}
}
