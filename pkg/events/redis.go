package events

import (
	"context"
	"strings"

	xerrors "BReact-SDK/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 事件列表的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
}

const defaultRedisKey = "breact:events"

// RedisPublisher 使用 LPUSH 将 JSON 事件写入 Redis list，消费者可用 BRPOP 读取。
type RedisPublisher struct {
	client redis.UniversalClient
	key    string
	owned  bool
}

// NewRedisPublisher 创建 Redis 事件发布器并检查连通性。
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodePublishFailure, err, "连接 Redis 失败")
	}
	p := NewRedisPublisherWithClient(client, cfg.Key)
	p.owned = true
	return p, nil
}

// NewRedisPublisherWithClient 复用调用方的 Redis 客户端，Close 不会关闭它。
func NewRedisPublisherWithClient(client redis.UniversalClient, key string) *RedisPublisher {
	if strings.TrimSpace(key) == "" {
		key = defaultRedisKey
	}
	return &RedisPublisher{client: client, key: key}
}

// Publish 实现 Publisher 接口。
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	body, err := encode(event)
	if err != nil {
		return err
	}
	if err := p.client.LPush(ctx, p.key, body).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "Redis 发布事件失败")
	}
	return nil
}

// Close 关闭自己创建的 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil || !p.owned {
		return nil
	}
	return p.client.Close()
}
