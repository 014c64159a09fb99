package events

import (
	"context"
	"sync"

	xerrors "BReact-SDK/pkg/errors"
)

const defaultBuffer = 256

// MemoryPublisher 将事件写入有界 channel，供进程内订阅者读取。
// 缓冲区已满时 Publish 立即返回 PUBLISH_FAILURE，不阻塞作业。
type MemoryPublisher struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

// NewMemoryPublisher 创建 MemoryPublisher，buffer<=0 时使用默认容量。
func NewMemoryPublisher(buffer int) *MemoryPublisher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &MemoryPublisher{ch: make(chan Event, buffer)}
}

// Events 返回只读事件流，Close 后关闭。
func (p *MemoryPublisher) Events() <-chan Event {
	return p.ch
}

// Publish 实现 Publisher 接口。
func (p *MemoryPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return xerrors.New(xerrors.CodePublishFailure, "事件发布器已关闭", xerrors.WithRetryable(false))
	}
	select {
	case p.ch <- event:
		return nil
	default:
		return xerrors.New(xerrors.CodePublishFailure, "事件缓冲区已满")
	}
}

// Close 关闭事件流，可重复调用。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	return nil
}
