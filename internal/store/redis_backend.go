package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/pickupdrop/checkout/internal/config"
	"github.com/pickupdrop/checkout/internal/constants"

	"github.com/redis/go-redis/v9"
)

// compareAndPutScript ARGV: 期望存在(1/0)、期望值、新值
var compareAndPutScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if ARGV[1] == "0" then
  if current then
    return 0
  end
elseif current ~= ARGV[2] then
  return 0
end
redis.call("SET", KEYS[1], ARGV[3])
return 1
`)

// RedisBackend 基于 Redis 的持久化后端，条目不设置过期时间
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend 根据配置创建 Redis 后端
func NewRedisBackend(cfg *config.RedisConfig) *RedisBackend {
	prefix := ""
	if cfg != nil {
		prefix = cfg.Prefix
	}
	return NewRedisBackendWithClient(NewRedisClient(cfg), prefix)
}

// NewRedisClient 根据配置创建 Redis 客户端
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	addr := "127.0.0.1"
	port := 6379
	opts := &redis.Options{}
	if cfg != nil {
		if strings.TrimSpace(cfg.Host) != "" {
			addr = strings.TrimSpace(cfg.Host)
		}
		if cfg.Port > 0 {
			port = cfg.Port
		}
		opts.Password = cfg.Password
		opts.DB = cfg.DB
	}
	opts.Addr = fmt.Sprintf("%s:%d", addr, port)
	return redis.NewClient(opts)
}

// NewRedisBackendWithClient 使用已有客户端创建 Redis 后端
func NewRedisBackendWithClient(client *redis.Client, prefix string) *RedisBackend {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = constants.RedisPrefixDefault
	}
	return &RedisBackend{client: client, prefix: prefix}
}

// Client 获取 Redis 客户端
func (b *RedisBackend) Client() *redis.Client {
	if b == nil {
		return nil
	}
	return b.client
}

// Get 读取条目
func (b *RedisBackend) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	val, err := b.client.Get(ctx, b.buildKey(namespace, key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Put 写入条目
func (b *RedisBackend) Put(ctx context.Context, namespace, key string, value []byte) error {
	return b.client.Set(ctx, b.buildKey(namespace, key), value, 0).Err()
}

// CompareAndPut 当前值与期望一致时写入
func (b *RedisBackend) CompareAndPut(ctx context.Context, namespace, key string, expected []byte, expectedExists bool, value []byte) (bool, error) {
	flag := "0"
	if expectedExists {
		flag = "1"
	}
	swapped, err := compareAndPutScript.Run(ctx, b.client, []string{b.buildKey(namespace, key)}, flag, expected, value).Int()
	if err != nil {
		return false, err
	}
	return swapped == 1, nil
}

// Delete 删除条目
func (b *RedisBackend) Delete(ctx context.Context, namespace, key string) error {
	return b.client.Del(ctx, b.buildKey(namespace, key)).Err()
}

// Close 关闭连接
func (b *RedisBackend) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

func (b *RedisBackend) buildKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s:%s", b.prefix, strings.TrimSpace(namespace), strings.TrimSpace(key))
}
