package journal

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "BReact-SDK/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 记录存储的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

const (
	defaultRedisPrefix = "breact:jobs"
	maxTxRetries       = 5
)

// RedisStore 将每条记录以 JSON 保存在独立 key 中，并用有序集合按更新时间建立索引。
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	owned  bool
}

// NewRedisStore 创建 Redis 记录存储并检查连通性。
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
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
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	store := NewRedisStoreWithClient(client, cfg.Prefix, cfg.TTL)
	store.owned = true
	return store, nil
}

// NewRedisStoreWithClient 复用调用方的 Redis 客户端，Close 不会关闭它。
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(processID string) string {
	return s.prefix + ":" + processID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":index"
}

// Record 实现 Store 接口，仅在记录不存在时写入。
func (s *RedisStore) Record(ctx context.Context, entry Entry) error {
	if err := validateRecord(entry); err != nil {
		return err
	}
	entry = stamp(entry, time.Now())
	payload, err := json.Marshal(entry)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码作业记录失败")
	}
	key := s.key(entry.Handle.ProcessID)
	ok, err := s.client.SetNX(ctx, key, payload, s.ttl).Result()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入作业记录失败")
	}
	if !ok {
		return nil
	}
	if err := s.index(ctx, s.client, entry); err != nil {
		return err
	}
	return nil
}

// Finish 在 WATCH 事务中写入终态。
func (s *RedisStore) Finish(ctx context.Context, entry Entry) (Entry, error) {
	if err := validateFinish(entry); err != nil {
		return Entry{}, err
	}
	key := s.key(entry.Handle.ProcessID)

	var stored Entry
	txf := func(tx *redis.Tx) error {
		now := time.Now()
		current, err := s.read(ctx, tx, key)
		switch {
		case stdErrors.Is(err, ErrEntryNotFound):
			stored = stamp(entry, now)
		case err != nil:
			return err
		default:
			var changed bool
			stored, changed = merge(current, entry, now)
			if !changed {
				return nil
			}
		}
		payload, err := json.Marshal(stored)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码作业记录失败")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return s.index(ctx, pipe, stored)
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return cloneEntry(stored), nil
		}
		if stdErrors.Is(err, redis.TxFailedErr) {
			continue
		}
		if _, ok := xerrors.From(err); ok {
			return Entry{}, err
		}
		return Entry{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新作业记录失败")
	}
	return Entry{}, xerrors.New(xerrors.CodeStorageFailure, "更新作业记录冲突次数过多")
}

// Get 返回记录。
func (s *RedisStore) Get(ctx context.Context, processID string) (Entry, error) {
	return s.read(ctx, s.client, s.key(processID))
}

// List 通过更新时间索引读取记录，已过期的 key 会被跳过。
func (s *RedisStore) List(ctx context.Context, opts ...ListOption) ([]Entry, error) {
	o := buildListOptions(opts)

	var ids []string
	var err error
	if o.Order == SortByUpdatedAsc {
		ids, err = s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	} else {
		ids, err = s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取作业索引失败")
	}
	if len(ids) == 0 {
		return []Entry{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "批量读取作业记录失败")
	}

	entries := make([]Entry, 0, len(values))
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析作业记录失败")
		}
		if o.matches(e) {
			entries = append(entries, e)
		}
	}
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, s.indexKey(), stale...).Err()
	}
	return o.page(entries), nil
}

// Close 关闭自己创建的 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type zadder interface {
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
}

func (s *RedisStore) read(ctx context.Context, c getter, key string) (Entry, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if stdErrors.Is(err, redis.Nil) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取作业记录失败")
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析作业记录失败")
	}
	return e, nil
}

func (s *RedisStore) index(ctx context.Context, c zadder, e Entry) error {
	err := c.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(e.UpdatedAt.UnixMilli()),
		Member: e.Handle.ProcessID,
	}).Err()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新作业索引失败")
	}
	return nil
}
