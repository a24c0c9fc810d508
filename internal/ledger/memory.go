package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// MemoryLedger 在内存中保存记录；配置了路径时同时追加写入 JSON Lines 文件，
// 重启后从文件恢复。
type MemoryLedger struct {
	mu      sync.RWMutex
	records []Record
	seen    map[string]struct{}
	file    *os.File
}

// NewMemoryLedger 创建账本。path 为空时仅保存在内存。
func NewMemoryLedger(path string) (*MemoryLedger, error) {
	l := &MemoryLedger{seen: make(map[string]struct{})}
	if path == "" {
		return l, nil
	}
	if err := l.restore(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建账本目录失败: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开账本文件失败: %w", err)
	}
	l.file = file
	return l, nil
}

func (l *MemoryLedger) restore(path string) error {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取账本文件失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("解析账本第 %d 行失败: %w", line, err)
		}
		l.add(rec)
	}
	return scanner.Err()
}

func (l *MemoryLedger) add(rec Record) bool {
	if _, ok := l.seen[rec.TxHash]; ok {
		return false
	}
	l.seen[rec.TxHash] = struct{}{}
	l.records = append(l.records, rec)
	return true
}

// Append 追加一条记录，重复的交易哈希被忽略。
func (l *MemoryLedger) Append(_ context.Context, rec Record) error {
	if rec.TxHash == "" {
		return errors.New("账本记录缺少交易哈希")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.add(rec) {
		return nil
	}
	if l.file == nil {
		return nil
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("编码账本记录失败: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("写入账本文件失败: %w", err)
	}
	return nil
}

// List 按写入顺序倒序返回记录。
func (l *MemoryLedger) List(_ context.Context, q Query) ([]Record, error) {
	q.applyDefaults()
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Record, 0, q.Limit)
	for i := len(l.records) - 1; i >= 0 && len(out) < q.Limit; i-- {
		if q.Contract != "" && l.records[i].Contract != q.Contract {
			continue
		}
		out = append(out, l.records[i])
	}
	return out, nil
}

// Close 关闭账本文件。
func (l *MemoryLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

var _ Ledger = (*MemoryLedger)(nil)
