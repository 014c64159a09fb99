// Package events 发布作业生命周期事件（提交、完成、失败、轮询超时）。
package events

import (
	"context"
	"encoding/json"
	"time"

	xerrors "BReact-SDK/pkg/errors"
	"github.com/google/uuid"
)

// Type 表示事件类型。
type Type string

const (
	TypeSubmitted   Type = "job.submitted"
	TypeCompleted   Type = "job.completed"
	TypeFailed      Type = "job.failed"
	TypePollTimeout Type = "job.poll_timeout"
)

// Event 描述一次作业状态变化。
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	ProcessID string    `json:"process_id"`
	ServiceID string    `json:"service_id,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New 创建带唯一 ID 与时间戳的事件。
func New(typ Type, processID, serviceID, endpoint string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		ProcessID: processID,
		ServiceID: serviceID,
		Endpoint:  endpoint,
		Timestamp: time.Now().UTC(),
	}
}

// WithError 附加失败信息。
func (e Event) WithError(err error) Event {
	if err == nil {
		return e
	}
	e.ErrorCode = string(xerrors.CodeOf(err))
	if xe, ok := xerrors.From(err); ok {
		e.Error = xe.Message()
	} else {
		e.Error = err.Error()
	}
	return e
}

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher 丢弃所有事件。
type NopPublisher struct{}

// Publish 实现 Publisher 接口。
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close 实现 Publisher 接口。
func (NopPublisher) Close() error { return nil }

func encode(event Event) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePublishFailure, err, "编码事件失败", xerrors.WithRetryable(false))
	}
	return body, nil
}
