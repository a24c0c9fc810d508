package gateway

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"ContractHub/internal/contract"
	xerrors "ContractHub/internal/errors"
	"ContractHub/internal/job"
	"ContractHub/internal/ledger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Recover 实现 job.RecoveryHandler。确认阶段失败时交易可能已经上链，
// 按错误中携带的交易哈希查询回执；回执成功则视为任务完成。
func (g *Gateway) Recover(ctx context.Context, j *job.Job, cause error) (*job.Result, error) {
	if j == nil || !stdErrors.Is(cause, contract.ErrConfirmation) {
		return nil, nil
	}
	e, ok := xerrors.From(cause)
	if !ok {
		return nil, nil
	}
	raw := e.Metadata()[contract.MetadataTxHash]
	if raw == "" || g.backend == nil {
		return nil, nil
	}
	hash := common.HexToHash(raw)

	receipt, err := g.lookupReceipt(ctx, hash)
	if stdErrors.Is(err, ethereum.NotFound) {
		g.logger.Info("补偿时未找到交易回执", slog.String("job_id", j.ID), slog.String("tx_hash", raw))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询交易 %s 回执失败: %w", raw, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, nil
	}

	deploy := j.Kind == job.KindDeploy
	from := common.HexToAddress(j.From)
	if deploy {
		if h, ok := g.handles[j.Contract]; ok {
			h.SetAddress(receipt.ContractAddress)
		}
		if g.book != nil {
			if err := g.book.Put(ctx, j.Contract, receipt.ContractAddress); err != nil {
				g.logger.Error("写入地址簿失败", slog.String("contract", j.Contract), slog.Any("error", err))
			}
		}
		g.record(ctx, j.Contract, ledger.KindDeploy, "", from, receipt)
	} else {
		g.record(ctx, j.Contract, ledger.KindSend, j.Method, from, receipt)
	}
	return resultOf(receipt, deploy), nil
}

// recoveryLookups 限制节点建立交易索引期间的回执查询次数。
const recoveryLookups = 10

// lookupReceipt 在节点仍在建立交易索引时按间隔重查。
func (g *Gateway) lookupReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	for attempt := 1; ; attempt++ {
		receipt, err := g.backend.TransactionReceipt(ctx, hash)
		if err == nil || stdErrors.Is(err, ethereum.NotFound) || !contract.ReceiptPending(err) || attempt >= recoveryLookups {
			return receipt, err
		}
		g.logger.Debug("节点仍在建立交易索引", slog.String("tx_hash", hash.Hex()), slog.Int("attempt", attempt))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.recoveryPoll):
		}
	}
}
