package gateway

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"time"

	"ContractHub/internal/addressbook"
	"ContractHub/internal/artifact"
	"ContractHub/internal/contract"
	xerrors "ContractHub/internal/errors"
	"ContractHub/internal/job"
	"ContractHub/internal/ledger"
	"ContractHub/internal/observability/metrics"
	"ContractHub/internal/web3"
	"ContractHub/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// CodeUnknownContract 表示请求的合约名称不在清单中。
const CodeUnknownContract xerrors.Code = "CONTRACT_NOT_FOUND"

// ErrUnknownContract 匹配所有未知合约错误。
var ErrUnknownContract = xerrors.New(CodeUnknownContract, "")

func init() {
	xerrors.Register(CodeUnknownContract, xerrors.Attributes{
		Message:  "contract not found",
		Severity: xerrors.SeverityInfo,
	})
}

// TxRequest 描述一次部署或写交易。Deploy 时忽略 Method。
type TxRequest struct {
	Method  string      `json:"method,omitempty"`
	Args    []any       `json:"args,omitempty"`
	From    string      `json:"from"`
	Value   string      `json:"value,omitempty"`
	Options job.Options `json:"options,omitempty"`
}

// CallRequest 描述一次只读调用或编码请求。
type CallRequest struct {
	Method string `json:"method"`
	Args   []any  `json:"args,omitempty"`
	From   string `json:"from,omitempty"`
}

// ContractInfo 是对外展示的合约状态。
type ContractInfo struct {
	Name       string   `json:"name"`
	Address    string   `json:"address,omitempty"`
	LastTxHash string   `json:"last_tx_hash,omitempty"`
	Methods    []string `json:"methods"`
}

// Gateway 为清单中的每个合约持有一个 Handle，并把确认结果写入地址簿、账本与指标。
type Gateway struct {
	backend web3.Backend
	handles map[string]*contract.Handle
	book    addressbook.Book
	ledger  ledger.Ledger
	metrics *metrics.Metrics
	logger  *slog.Logger
	handle  []contract.Option

	recoveryPoll time.Duration
}

// Option 配置 Gateway。
type Option func(*Gateway)

// WithAddressBook 设置地址簿，部署成功后写入。
func WithAddressBook(book addressbook.Book) Option {
	return func(g *Gateway) { g.book = book }
}

// WithLedger 设置操作账本。
func WithLedger(l ledger.Ledger) Option {
	return func(g *Gateway) { g.ledger = l }
}

// WithMetrics 设置指标采集器。
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithHandleOptions 透传给每个 contract.Handle。
func WithHandleOptions(opts ...contract.Option) Option {
	return func(g *Gateway) { g.handle = append(g.handle, opts...) }
}

// WithRecoveryPollInterval 设置补偿时节点仍在建立交易索引的重查间隔。
func WithRecoveryPollInterval(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.recoveryPoll = d
		}
	}
}

// New 按制品构建 Handle，并依次从清单与地址簿恢复已部署地址。
func New(ctx context.Context, backend web3.Backend, signer contract.Signer, artifacts []artifact.Artifact, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		backend: backend,
		handles: make(map[string]*contract.Handle, len(artifacts)),
		logger:  logger.Named("gateway"),

		recoveryPoll: time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	for _, art := range artifacts {
		if _, dup := g.handles[art.Name]; dup {
			return nil, fmt.Errorf("合约 %s 重复定义", art.Name)
		}
		h := contract.New(backend, signer, art.ABI, art.Bytecode, art.AlternateEncoding, g.handle...)
		if art.Address != nil {
			h.SetAddress(*art.Address)
		}
		g.handles[art.Name] = h
	}

	if g.book != nil {
		stored, err := g.book.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("读取地址簿失败: %w", err)
		}
		for name, addr := range stored {
			h, ok := g.handles[name]
			if !ok {
				g.logger.Warn("地址簿中的合约不在清单中", slog.String("contract", name))
				continue
			}
			h.SetAddress(addr)
		}
	}
	g.logger.Info("合约网关已就绪", slog.Int("contracts", len(g.handles)))
	return g, nil
}

func (g *Gateway) lookup(name string) (*contract.Handle, error) {
	h, ok := g.handles[name]
	if !ok {
		return nil, xerrors.New(CodeUnknownContract, fmt.Sprintf("未知合约 %q", name))
	}
	return h, nil
}

// Deploy 部署合约，确认后更新地址簿与账本。
func (g *Gateway) Deploy(ctx context.Context, name string, req TxRequest) (*job.Result, error) {
	h, err := g.lookup(name)
	if err != nil {
		return nil, err
	}
	from, value, opts, err := parseTx(req)
	if err != nil {
		g.metrics.ObserveOperation(name, string(job.KindDeploy), metrics.OutcomeRejected, 0, 0)
		return nil, err
	}
	args, err := coerce(h.Instance().Constructor(), req.Args)
	if err != nil {
		g.metrics.ObserveOperation(name, string(job.KindDeploy), metrics.OutcomeRejected, 0, 0)
		return nil, err
	}

	start := time.Now()
	inst, receipt, err := h.DeployWithReceipt(ctx, from, value, opts, args...)
	if err != nil {
		g.metrics.ObserveOperation(name, string(job.KindDeploy), outcomeOf(err), time.Since(start), 0)
		return nil, err
	}
	g.metrics.ObserveOperation(name, string(job.KindDeploy), metrics.OutcomeConfirmed, time.Since(start), receipt.GasUsed)

	if addr, ok := inst.Address(); ok && g.book != nil {
		if err := g.book.Put(ctx, name, addr); err != nil {
			g.logger.Error("写入地址簿失败", slog.String("contract", name), slog.Any("error", err))
		}
	}
	g.record(ctx, name, ledger.KindDeploy, "", from, receipt)
	return resultOf(receipt, true), nil
}

// Send 发送写交易并等待确认。
func (g *Gateway) Send(ctx context.Context, name string, req TxRequest) (*job.Result, error) {
	h, err := g.lookup(name)
	if err != nil {
		return nil, err
	}
	from, value, opts, err := parseTx(req)
	if err != nil {
		g.metrics.ObserveOperation(name, string(job.KindSend), metrics.OutcomeRejected, 0, 0)
		return nil, err
	}
	var args []any
	if m, ok := h.Instance().Method(req.Method); ok {
		if args, err = coerce(m, req.Args); err != nil {
			g.metrics.ObserveOperation(name, string(job.KindSend), metrics.OutcomeRejected, 0, 0)
			return nil, err
		}
	}

	start := time.Now()
	receipt, err := h.Send(ctx, req.Method, from, value, opts, args...)
	if err != nil {
		g.metrics.ObserveOperation(name, string(job.KindSend), outcomeOf(err), time.Since(start), 0)
		return nil, err
	}
	g.metrics.ObserveOperation(name, string(job.KindSend), metrics.OutcomeConfirmed, time.Since(start), receipt.GasUsed)
	g.record(ctx, name, ledger.KindSend, req.Method, from, receipt)
	return resultOf(receipt, false), nil
}

// Call 执行只读调用，参数按 ABI 声明转换。
func (g *Gateway) Call(ctx context.Context, name string, req CallRequest) ([]any, error) {
	h, err := g.lookup(name)
	if err != nil {
		return nil, err
	}
	out, err := g.call(ctx, h, req)
	g.metrics.ObserveCall(name, req.Method, err)
	return out, err
}

func (g *Gateway) call(ctx context.Context, h *contract.Handle, req CallRequest) ([]any, error) {
	var from common.Address
	if strings.TrimSpace(req.From) != "" {
		if !common.IsHexAddress(req.From) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "from 不是合法地址")
		}
		from = common.HexToAddress(req.From)
	}
	m, ok := h.Instance().Method(req.Method)
	if !ok {
		// 交给 Handle 产生统一的调用错误。
		return h.Call(ctx, req.Method, from)
	}
	args, err := coerce(m, req.Args)
	if err != nil {
		return nil, err
	}
	return h.Call(ctx, req.Method, from, args...)
}

// Encode 返回 0x 前缀的调用数据。
func (g *Gateway) Encode(name string, req CallRequest) (string, error) {
	h, err := g.lookup(name)
	if err != nil {
		return "", err
	}
	m, ok := h.Instance().Method(req.Method)
	if !ok {
		return h.Encode(req.Method)
	}
	args, err := coerce(m, req.Args)
	if err != nil {
		return "", err
	}
	return h.Encode(req.Method, args...)
}

// Contracts 列出所有合约的地址与最近一次交易。
func (g *Gateway) Contracts() []ContractInfo {
	out := make([]ContractInfo, 0, len(g.handles))
	for name, h := range g.handles {
		info := ContractInfo{Name: name, Methods: []string{}}
		if addr, ok := h.Address(); ok {
			info.Address = addr.Hex()
		}
		if r := h.Receipt(); r != nil {
			info.LastTxHash = r.TxHash.Hex()
		} else if hash, ok := h.TransactionHash(); ok {
			info.LastTxHash = hash.Hex()
		}
		for _, m := range h.Instance().Methods() {
			info.Methods = append(info.Methods, m.Signature)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute 实现 job.Executor，按任务类型分派。
func (g *Gateway) Execute(ctx context.Context, req job.Request) (*job.Result, error) {
	tx := TxRequest{
		Method:  req.Method,
		Args:    req.Args,
		From:    req.From,
		Value:   req.Value,
		Options: req.Options,
	}
	switch req.Kind {
	case job.KindDeploy:
		return g.Deploy(ctx, req.Contract, tx)
	case job.KindSend:
		return g.Send(ctx, req.Contract, tx)
	default:
		return nil, xerrors.New(job.CodeJobValidation, "未知的任务类型: "+string(req.Kind))
	}
}

func (g *Gateway) record(ctx context.Context, name string, kind ledger.Kind, method string, from common.Address, receipt *types.Receipt) {
	if g.ledger == nil || receipt == nil {
		return
	}
	rec := ledger.FromReceipt(name, kind, method, from.Hex(), receipt)
	if err := g.ledger.Append(ctx, rec); err != nil {
		g.logger.Error("写入账本失败", slog.String("contract", name), slog.String("tx_hash", rec.TxHash), slog.Any("error", err))
	}
}

func parseTx(req TxRequest) (common.Address, *big.Int, contract.TxOptions, error) {
	var opts contract.TxOptions
	if !common.IsHexAddress(req.From) {
		return common.Address{}, nil, opts, xerrors.New(xerrors.CodeInvalidArgument, "from 不是合法地址")
	}
	value, err := job.ParseAmount(req.Value)
	if err != nil {
		return common.Address{}, nil, opts, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "value 不合法")
	}
	opts.GasLimit = req.Options.GasLimit
	fields := []struct {
		raw string
		dst **big.Int
	}{
		{req.Options.GasPrice, &opts.GasPrice},
		{req.Options.GasFeeCap, &opts.GasFeeCap},
		{req.Options.GasTipCap, &opts.GasTipCap},
	}
	for _, f := range fields {
		v, err := job.ParseAmount(f.raw)
		if err != nil {
			return common.Address{}, nil, opts, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "交易参数不合法")
		}
		*f.dst = v
	}
	if req.Options.Nonce != nil {
		opts.Nonce = new(big.Int).SetUint64(*req.Options.Nonce)
	}
	return common.HexToAddress(req.From), value, opts, nil
}

func coerce(m contract.Method, raw []any) ([]any, error) {
	args, err := m.Coerce(raw)
	if err != nil {
		return nil, xerrors.Wrap(contract.CodeEncoding, err, fmt.Sprintf("%s 参数不合法", displayName(m)))
	}
	return args, nil
}

func displayName(m contract.Method) string {
	if m.Name == "" {
		return "constructor"
	}
	return m.Name
}

func outcomeOf(err error) metrics.Outcome {
	switch {
	case stdErrors.Is(err, contract.ErrConfirmation):
		return metrics.OutcomeConfirm
	case stdErrors.Is(err, contract.ErrSubmission):
		return metrics.OutcomeSubmit
	default:
		return metrics.OutcomeRejected
	}
}

func resultOf(receipt *types.Receipt, deploy bool) *job.Result {
	if receipt == nil {
		return &job.Result{}
	}
	res := &job.Result{
		TxHash:  receipt.TxHash.Hex(),
		GasUsed: receipt.GasUsed,
		Status:  receipt.Status,
	}
	if receipt.BlockNumber != nil {
		res.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if deploy {
		res.ContractAddress = receipt.ContractAddress.Hex()
	}
	return res
}
