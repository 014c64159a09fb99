package journal

import (
	"context"
	"sort"
	"sync"
	"time"
)

// 内存记录的默认上限。
const (
	DefaultMemoryMaxEntries = 1000
	DefaultMemoryTTL        = time.Hour
)

// MemoryStore 以内存方式保存作业记录，进程退出后丢失。
// 记录数超过上限时淘汰最久未更新的记录，超过 TTL 的记录视为不存在。
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

// MemoryOption 配置 MemoryStore。
type MemoryOption func(*MemoryStore)

// WithMaxEntries 设置记录上限，n <= 0 表示不限制。
func WithMaxEntries(n int) MemoryOption {
	return func(m *MemoryStore) { m.maxEntries = n }
}

// WithTTL 设置记录自最后一次更新起的保留时长，d <= 0 表示永久保留。
func WithTTL(d time.Duration) MemoryOption {
	return func(m *MemoryStore) { m.ttl = d }
}

// NewMemoryStore 创建 MemoryStore，默认最多保留 DefaultMemoryMaxEntries 条、
// 每条保留 DefaultMemoryTTL。
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		entries:    make(map[string]Entry),
		maxEntries: DefaultMemoryMaxEntries,
		ttl:        DefaultMemoryTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *MemoryStore) expired(e Entry, now time.Time) bool {
	return m.ttl > 0 && now.Sub(e.UpdatedAt) > m.ttl
}

// evictLocked 删除过期记录，并在超出上限时淘汰最久未更新的记录。keep 不会被淘汰。
func (m *MemoryStore) evictLocked(now time.Time, keep string) {
	if m.ttl > 0 {
		for id, e := range m.entries {
			if id != keep && m.expired(e, now) {
				delete(m.entries, id)
			}
		}
	}
	for m.maxEntries > 0 && len(m.entries) > m.maxEntries {
		oldest := ""
		for id, e := range m.entries {
			if id == keep {
				continue
			}
			if oldest == "" || e.UpdatedAt.Before(m.entries[oldest].UpdatedAt) {
				oldest = id
			}
		}
		if oldest == "" {
			return
		}
		delete(m.entries, oldest)
	}
}

// Record 实现 Store 接口。已存在的记录保持不变。
func (m *MemoryStore) Record(_ context.Context, entry Entry) error {
	if err := validateRecord(entry); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if e, ok := m.entries[entry.Handle.ProcessID]; ok && !m.expired(e, now) {
		return nil
	}
	m.entries[entry.Handle.ProcessID] = cloneEntry(stamp(entry, now))
	m.evictLocked(now, entry.Handle.ProcessID)
	return nil
}

// Finish 写入终态，返回最终保存的记录。
func (m *MemoryStore) Finish(_ context.Context, entry Entry) (Entry, error) {
	if err := validateFinish(entry); err != nil {
		return Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	current, ok := m.entries[entry.Handle.ProcessID]
	if !ok || m.expired(current, now) {
		current = stamp(entry, now)
		m.entries[entry.Handle.ProcessID] = cloneEntry(current)
		m.evictLocked(now, entry.Handle.ProcessID)
		return cloneEntry(current), nil
	}
	merged, changed := merge(current, entry, now)
	if changed {
		m.entries[entry.Handle.ProcessID] = cloneEntry(merged)
	}
	return cloneEntry(merged), nil
}

// Get 返回记录。
func (m *MemoryStore) Get(_ context.Context, processID string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[processID]
	if !ok || m.expired(entry, m.now()) {
		return Entry{}, ErrEntryNotFound
	}
	return cloneEntry(entry), nil
}

// List 按更新时间返回记录。
func (m *MemoryStore) List(_ context.Context, opts ...ListOption) ([]Entry, error) {
	o := buildListOptions(opts)

	m.mu.RLock()
	now := m.now()
	entries := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if o.matches(e) && !m.expired(e, now) {
			entries = append(entries, cloneEntry(e))
		}
	}
	m.mu.RUnlock()

	sortEntries(entries, o.Order)
	return o.page(entries), nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

func sortEntries(entries []Entry, order SortOrder) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			if order == SortByUpdatedAsc {
				return a.UpdatedAt.Before(b.UpdatedAt)
			}
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		if order == SortByUpdatedAsc {
			return a.Handle.ProcessID < b.Handle.ProcessID
		}
		return a.Handle.ProcessID > b.Handle.ProcessID
	})
}
