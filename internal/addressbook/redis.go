package addressbook

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
}

// Redis 将地址保存在一个 Redis hash 中，多个实例可以共享。
type Redis struct {
	client redis.UniversalClient
	key    string
}

// NewRedis 连接 Redis 并确认可用。
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisWithClient(client, cfg.Key), nil
}

// NewRedisWithClient 复用已有客户端。
func NewRedisWithClient(client redis.UniversalClient, key string) *Redis {
	if key == "" {
		key = "contracthub:addresses"
	}
	return &Redis{client: client, key: key}
}

// Get 读取 hash 字段。
func (r *Redis) Get(ctx context.Context, name string) (common.Address, error) {
	raw, err := r.client.HGet(ctx, r.key, name).Result()
	if errors.Is(err, redis.Nil) {
		return common.Address{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("读取合约地址失败: %w", err)
	}
	return parseAddress(name, raw)
}

// Put 写入 hash 字段。
func (r *Redis) Put(ctx context.Context, name string, addr common.Address) error {
	if err := r.client.HSet(ctx, r.key, name, addr.Hex()).Err(); err != nil {
		return fmt.Errorf("写入合约地址失败: %w", err)
	}
	return nil
}

// All 读取整个 hash，非法地址会导致错误。
func (r *Redis) All(ctx context.Context) (map[string]common.Address, error) {
	values, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("读取地址簿失败: %w", err)
	}
	out := make(map[string]common.Address, len(values))
	for name, raw := range values {
		addr, err := parseAddress(name, raw)
		if err != nil {
			return nil, err
		}
		out[name] = addr
	}
	return out, nil
}

// Close 关闭客户端。
func (r *Redis) Close() error {
	return r.client.Close()
}
