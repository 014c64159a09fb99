// Package journal 记录已提交作业及其终态，使终态查询幂等并支持断点续查。
package journal

import (
	"context"
	"encoding/json"
	"time"

	xerrors "BReact-SDK/pkg/errors"
	"BReact-SDK/pkg/job"
)

// Entry 是一条作业记录。
type Entry struct {
	Handle      job.Handle      `json:"handle"`
	ServiceID   string          `json:"service_id,omitempty"`
	Endpoint    string          `json:"endpoint,omitempty"`
	Status      job.Status      `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Terminal 表示该记录是否已进入终态。
func (e Entry) Terminal() bool { return e.Status.Terminal() }

// Report 将记录还原为一次状态观测。
func (e Entry) Report() job.Report {
	return job.Report{
		Status:   e.Status,
		Result:   cloneRaw(e.Result),
		Error:    e.Error,
		Service:  e.ServiceID,
		Endpoint: e.Endpoint,
	}
}

// Store 抽象了作业记录的持久化接口。
//
// Finish 必须保证单调性：第一次写入的终态胜出，之后的调用不改变记录，
// 只返回已保存的终态。
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Finish(ctx context.Context, entry Entry) (Entry, error)
	Get(ctx context.Context, processID string) (Entry, error)
	List(ctx context.Context, opts ...ListOption) ([]Entry, error)
	Close() error
}

const (
	CodeEntryNotFound xerrors.Code = "JOURNAL_ENTRY_NOT_FOUND"
)

// ErrEntryNotFound 表示作业记录不存在。
var ErrEntryNotFound = xerrors.New(CodeEntryNotFound, "journal entry not found")

func init() {
	xerrors.Register(CodeEntryNotFound, xerrors.Attributes{
		Message:   "journal entry not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

func validateRecord(entry Entry) error {
	if entry.Handle.ProcessID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "process_id 不能为空")
	}
	return nil
}

func validateFinish(entry Entry) error {
	if err := validateRecord(entry); err != nil {
		return err
	}
	if !entry.Status.Terminal() {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "状态 %q 不是终态", entry.Status)
	}
	return nil
}

// stamp 补齐时间戳与初始状态。
func stamp(entry Entry, now time.Time) Entry {
	if entry.SubmittedAt.IsZero() {
		entry.SubmittedAt = now
	}
	if entry.Status == "" {
		entry.Status = job.StatusPending
	}
	entry.UpdatedAt = now
	return entry
}

// merge 在已有记录上应用终态；已是终态时原样返回。
func merge(current, next Entry, now time.Time) (Entry, bool) {
	if current.Terminal() {
		return current, false
	}
	current.Status = next.Status
	current.Result = cloneRaw(next.Result)
	current.Error = next.Error
	if current.Handle.AccessToken == "" {
		current.Handle.AccessToken = next.Handle.AccessToken
	}
	if current.ServiceID == "" {
		current.ServiceID = next.ServiceID
	}
	if current.Endpoint == "" {
		current.Endpoint = next.Endpoint
	}
	current.UpdatedAt = now
	return current, true
}

func cloneEntry(e Entry) Entry {
	e.Result = cloneRaw(e.Result)
	return e
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
