package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	storagemysql "ContractHub/internal/storage/mysql"
)

// MySQLLedger 将记录写入 contract_ledger 表。
type MySQLLedger struct {
	db *sql.DB
}

// NewMySQLLedger 基于已迁移的连接池创建账本。
func NewMySQLLedger(db *sql.DB) (*MySQLLedger, error) {
	if db == nil {
		return nil, errors.New("MySQL 连接不能为空")
	}
	return &MySQLLedger{db: db}, nil
}

// Append 插入记录；交易哈希冲突视为已记录。
func (l *MySQLLedger) Append(ctx context.Context, rec Record) error {
	if rec.TxHash == "" {
		return errors.New("账本记录缺少交易哈希")
	}
	const stmt = `INSERT INTO contract_ledger
        (contract, kind, method, tx_hash, contract_address, sender, block_number, gas_used, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := l.db.ExecContext(ctx, stmt,
		rec.Contract,
		string(rec.Kind),
		rec.Method,
		rec.TxHash,
		rec.ContractAddress,
		rec.From,
		int64(rec.BlockNumber),
		int64(rec.GasUsed),
		int64(rec.Status),
		rec.CreatedAt,
	)
	if err != nil {
		if storagemysql.IsDuplicateKey(err) {
			return nil
		}
		return fmt.Errorf("写入账本失败: %w", err)
	}
	return nil
}

// List 按 id 倒序返回记录。
func (l *MySQLLedger) List(ctx context.Context, q Query) ([]Record, error) {
	q.applyDefaults()

	query := `SELECT contract, kind, method, tx_hash, contract_address, sender, block_number, gas_used, status, created_at
        FROM contract_ledger`
	args := make([]any, 0, 2)
	if q.Contract != "" {
		query += " WHERE contract = ?"
		args = append(args, q.Contract)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询账本失败: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, q.Limit)
	for rows.Next() {
		var (
			rec                          Record
			kind                         string
			blockNumber, gasUsed, status int64
		)
		if err := rows.Scan(&rec.Contract, &kind, &rec.Method, &rec.TxHash, &rec.ContractAddress, &rec.From,
			&blockNumber, &gasUsed, &status, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析账本记录失败: %w", err)
		}
		rec.Kind = Kind(kind)
		rec.BlockNumber = uint64(blockNumber)
		rec.GasUsed = uint64(gasUsed)
		rec.Status = uint64(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历账本失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层连接。
func (l *MySQLLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

var _ Ledger = (*MySQLLedger)(nil)
