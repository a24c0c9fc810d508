// Package addressbook 缓存每个合约制品最近一次部署的地址，
// 使服务重启后无需重新部署即可继续调用。
package addressbook

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotFound 表示该合约没有记录地址。
var ErrNotFound = errors.New("合约地址不存在")

// Book 维护合约名称到地址的映射。
type Book interface {
	Get(ctx context.Context, name string) (common.Address, error)
	Put(ctx context.Context, name string, addr common.Address) error
	All(ctx context.Context) (map[string]common.Address, error)
	Close() error
}

// Memory 是进程内实现。
type Memory struct {
	mu    sync.RWMutex
	items map[string]common.Address
}

// NewMemory 创建空的地址簿。
func NewMemory() *Memory {
	return &Memory{items: make(map[string]common.Address)}
}

// Get 返回已记录的地址。
func (m *Memory) Get(_ context.Context, name string) (common.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	addr, ok := m.items[name]
	if !ok {
		return common.Address{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return addr, nil
}

// Put 覆盖写入地址。
func (m *Memory) Put(_ context.Context, name string, addr common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[name] = addr
	return nil
}

// All 返回全部映射的副本。
func (m *Memory) All(context.Context) (map[string]common.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.items), nil
}

// Close 无需释放资源。
func (m *Memory) Close() error { return nil }

func parseAddress(name, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("合约 %s 的地址 %q 不合法", name, raw)
	}
	return common.HexToAddress(raw), nil
}

var (
	_ Book = (*Memory)(nil)
	_ Book = (*Redis)(nil)
)
